// pkg/model/diagnostics.go
package model

// Diagnostics summarises a cleaning run. It is observational only;
// nothing in the pipeline branches on these counts.
type Diagnostics struct {
	RowsIn            int
	RowsOut           int
	DuplicatesRemoved int
	InvalidDates      map[string]int // column -> unparsable date values
	InvalidNumbers    map[string]int // column -> non-numeric engagement values
	AmbiguousValues   map[string]int // column -> values mapped to missing
	ColumnKinds       map[string]ColumnKind
}

// NewDiagnostics creates empty diagnostics
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{
		InvalidDates:    make(map[string]int),
		InvalidNumbers:  make(map[string]int),
		AmbiguousValues: make(map[string]int),
		ColumnKinds:     make(map[string]ColumnKind),
	}
}

// TotalInvalidDates returns the invalid date count across all columns
func (d *Diagnostics) TotalInvalidDates() int {
	return sum(d.InvalidDates)
}

// TotalInvalidNumbers returns the invalid numeric count across all columns
func (d *Diagnostics) TotalInvalidNumbers() int {
	return sum(d.InvalidNumbers)
}

func sum(m map[string]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
