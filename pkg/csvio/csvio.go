// pkg/csvio/csvio.go
package csvio

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// TimestampLayout is how date values are written to the cleaned file
const TimestampLayout = "2006-01-02 15:04:05"

// ErrMalformed marks delimited input that cannot be parsed
var ErrMalformed = errors.New("malformed delimited input")

// ReadRaw reads a delimited feed with a header row. Every field is returned
// as a string; empty fields stay empty strings for the normalizer to judge.
func ReadRaw(r io.Reader, delimiter rune) (*model.RawBatch, error) {
	reader := csv.NewReader(stripBOM(r))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: missing header row", ErrMalformed)
		}
		return nil, fmt.Errorf("%w: read header: %v", ErrMalformed, err)
	}

	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(h)
	}

	batch := &model.RawBatch{Columns: columns}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Ragged rows surface here as csv.ErrFieldCount
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}

		row := make(model.Row, len(columns))
		for i, col := range columns {
			row[col] = record[i]
		}
		batch.Rows = append(batch.Rows, row)
	}

	return batch, nil
}

// WriteBatch writes a cleaned batch with record_id first. Missing values are
// written as empty fields.
func WriteBatch(w io.Writer, batch *model.Batch, delimiter rune) error {
	if batch == nil || len(batch.Columns) == 0 {
		return errors.New("cannot write a batch without columns")
	}

	writer := csv.NewWriter(w)
	writer.Comma = delimiter

	names := batch.ColumnNames()
	if err := writer.Write(names); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(names))
	for i, row := range batch.Rows {
		for j, col := range names {
			record[j] = FormatValue(row[col])
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// EncodeBatch renders a cleaned batch into memory
func EncodeBatch(batch *model.Batch, delimiter rune) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteBatch(&buf, batch, delimiter); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FormatValue renders one cleaned value as a field
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(TimestampLayout)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// stripBOM wraps a reader to strip a UTF-8 BOM if present.
func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(3); err == nil && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	return br
}
