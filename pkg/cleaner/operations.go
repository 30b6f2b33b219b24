// pkg/cleaner/operations.go
package cleaner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/David-Botos/engagement-pipeline/pkg/converter"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// AmbiguousTokens is the closed set of text values treated as missing
var AmbiguousTokens = map[string]struct{}{
	"UNKNOWN":        {},
	"NOT REPORTED":   {},
	"OTHER":          {},
	"N/A":            {},
	"NA":             {},
	"NONE":           {},
	"NOT APPLICABLE": {},
}

// outcome of coercing one raw value
type outcome int

const (
	outcomeOK outcome = iota
	outcomeMissing
	outcomeInvalid
	outcomeAmbiguous
)

// isAmbiguous reports whether a raw text value is one of the ambiguous tokens
func isAmbiguous(s string) bool {
	_, ok := AmbiguousTokens[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

// isBlank reports whether a raw value carries no content
func isBlank(v interface{}) bool {
	if v == nil {
		return true
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s) == ""
	case []byte:
		return strings.TrimSpace(string(s)) == ""
	}
	return false
}

// normalizeText trims and upper-cases a free-text value
func normalizeText(v interface{}) (interface{}, outcome) {
	if isBlank(v) {
		return nil, outcomeMissing
	}
	s, _ := converter.ToText(v)
	if isAmbiguous(s) {
		return nil, outcomeAmbiguous
	}
	return strings.ToUpper(strings.TrimSpace(s)), outcomeOK
}

// coerceNumeric converts an engagement value to float64
func coerceNumeric(v interface{}) (interface{}, outcome) {
	if isBlank(v) {
		return nil, outcomeMissing
	}
	f, ok := converter.ToNumber(v)
	if !ok {
		return nil, outcomeInvalid
	}
	return f, outcomeOK
}

// coerceDate parses a date-like value
func coerceDate(v interface{}) (interface{}, outcome) {
	if isBlank(v) {
		return nil, outcomeMissing
	}
	t, err := converter.ToTime(v)
	if err != nil {
		return nil, outcomeInvalid
	}
	return t, outcomeOK
}

// canonicalValue renders a normalized value for row comparison
func canonicalValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return "s:" + t
	case float64:
		return "n:" + strconv.FormatFloat(t, 'g', -1, 64)
	case time.Time:
		return "t:" + t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("v:%v", t)
	}
}

// rowKey builds the full-row equality key over the given columns
func rowKey(row model.Row, columns []string) string {
	var b strings.Builder
	for i, col := range columns {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(canonicalValue(row[col]))
	}
	return b.String()
}

// sequentialID returns the 1-based positional identity
func sequentialID(n int) string {
	return fmt.Sprintf("rid%06d", n)
}

// hashID returns a content-derived identity over the natural key
func hashID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "rid" + hex.EncodeToString(sum[:])[:12]
}
