// pkg/converter/values.go
package converter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// ParseNumber parses a numeric string. NaN and infinities are rejected.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseTime parses a date or timestamp in any common layout, interpreting
// zone-less values as UTC
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse '%s' as timestamp: %w", s, err)
	}
	return t.UTC(), nil
}

// ToNumber converts a Go or driver value to float64
func ToNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return ToNumber(float64(v))
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		return ParseNumber(v)
	case []byte:
		return ParseNumber(string(v))
	default:
		return 0, false
	}
}

// ToText converts a Go or driver value to a string
func ToText(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case nil:
		return "", false
	case time.Time:
		return v.UTC().Format(time.RFC3339), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// ToTime converts a Go or driver value to a UTC time
func ToTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		return ParseTime(v)
	case []byte:
		return ParseTime(string(v))
	case int64:
		// Unix seconds
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", value)
	}
}

// ToDB converts a cleaned value into a driver argument for a column of the given kind
func (c *TypeConverter) ToDB(value interface{}, kind model.ColumnKind) (interface{}, error) {
	if model.IsMissing(value) {
		return nil, nil
	}

	switch kind {
	case model.KindNumeric:
		f, ok := ToNumber(value)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v (%T) to numeric", value, value)
		}
		return f, nil
	case model.KindDate:
		t, err := ToTime(value)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		s, _ := ToText(value)
		return s, nil
	}
}

// FromDB converts a scanned driver value back into a cleaned value
func (c *TypeConverter) FromDB(value interface{}, kind model.ColumnKind) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch kind {
	case model.KindNumeric:
		f, ok := ToNumber(value)
		if !ok {
			return nil, fmt.Errorf("cannot convert %v (%T) to numeric", value, value)
		}
		return f, nil
	case model.KindDate:
		return ToTime(value)
	default:
		s, _ := ToText(value)
		return s, nil
	}
}

// InferKind classifies a column from its raw values: numeric when every
// present value parses as a number, otherwise text
func InferKind(values []interface{}) model.ColumnKind {
	present := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		present++
		if _, ok := ToNumber(v); !ok {
			return model.KindText
		}
	}
	if present == 0 {
		return model.KindText
	}
	return model.KindNumeric
}
