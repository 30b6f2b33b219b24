// pkg/features/encoding.go
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/David-Botos/engagement-pipeline/pkg/converter"
	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

// UnknownCategory is the reserved category for missing and unseen values
const UnknownCategory = "UNKNOWN"

var (
	// ErrSchemaMismatch is returned when records do not have the fitted feature columns
	ErrSchemaMismatch = errors.New("feature schema mismatch")

	// ErrArtifactMismatch is returned when a model was not fitted alongside the encoding
	ErrArtifactMismatch = errors.New("model and encoding artifacts do not match")
)

// FeatureKind is how a feature is encoded
type FeatureKind string

const (
	FeatureCategorical FeatureKind = "categorical"
	FeatureNumeric     FeatureKind = "numeric"
)

// Feature is one component of the feature vector
type Feature struct {
	Name string      `json:"name"`
	Kind FeatureKind `json:"kind"`
	// Source is the cleaned column kind the feature is derived from
	Source     string   `json:"source"`
	Categories []string `json:"categories,omitempty"`
	Fill       float64  `json:"fill,omitempty"`
}

// CategoryEncoding is the fitted feature schema. It is produced once by
// training and read-only afterwards.
type CategoryEncoding struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Features  []Feature `json:"features"`
	// Ignored columns may be present in records but are not encoded
	Ignored []string `json:"ignored,omitempty"`
}

// FitOptions controls which columns become features
type FitOptions struct {
	Exclude []string
	Version string
}

// Fit derives a category encoding from a cleaned batch. Text columns become
// categorical features whose sorted categories always include UNKNOWN.
// Numeric and date columns become numeric features.
func Fit(batch *model.Batch, opts FitOptions) (*CategoryEncoding, error) {
	if batch == nil || batch.Len() == 0 {
		return nil, errors.New("cannot fit an encoding on an empty batch")
	}

	exclude := make(map[string]bool, len(opts.Exclude))
	for _, name := range opts.Exclude {
		exclude[strings.ToLower(strings.TrimSpace(name))] = true
	}

	enc := &CategoryEncoding{
		Version:   opts.Version,
		CreatedAt: time.Now().UTC(),
	}

	for _, col := range batch.Columns {
		if col.IsRecordID() {
			continue
		}
		if exclude[strings.ToLower(col.Name)] {
			enc.Ignored = append(enc.Ignored, col.Name)
			continue
		}

		switch col.Kind {
		case model.KindNumeric, model.KindDate:
			enc.Features = append(enc.Features, Feature{
				Name:   col.Name,
				Kind:   FeatureNumeric,
				Source: col.Kind.String(),
			})
		default:
			enc.Features = append(enc.Features, Feature{
				Name:       col.Name,
				Kind:       FeatureCategorical,
				Source:     model.KindText.String(),
				Categories: categories(batch, col.Name),
			})
		}
	}

	if len(enc.Features) == 0 {
		return nil, errors.New("no feature columns left after exclusions")
	}
	return enc, nil
}

// categories returns the sorted distinct values of a column plus UNKNOWN
func categories(batch *model.Batch, name string) []string {
	set := map[string]struct{}{UnknownCategory: {}}
	for _, row := range batch.Rows {
		if s, ok := converter.ToText(row[name]); ok {
			set[s] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Names returns the feature names in vector order
func (e *CategoryEncoding) Names() []string {
	names := make([]string, len(e.Features))
	for i, f := range e.Features {
		names[i] = f.Name
	}
	return names
}

// Fingerprint identifies the feature schema. Models record it so a model is
// only used with the encoding it was fitted alongside.
func (e *CategoryEncoding) Fingerprint() string {
	type schema struct {
		Name       string      `json:"n"`
		Kind       FeatureKind `json:"k"`
		Source     string      `json:"s"`
		Categories []string    `json:"c"`
	}
	parts := make([]schema, len(e.Features))
	for i, f := range e.Features {
		parts[i] = schema{Name: f.Name, Kind: f.Kind, Source: f.Source, Categories: f.Categories}
	}

	data, _ := json.Marshal(parts)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate checks the encoding is usable
func (e *CategoryEncoding) Validate() error {
	if len(e.Features) == 0 {
		return errors.New("encoding has no features")
	}

	seen := make(map[string]bool, len(e.Features))
	for _, f := range e.Features {
		key := strings.ToLower(f.Name)
		if f.Name == "" || seen[key] {
			return fmt.Errorf("encoding has empty or duplicate feature %q", f.Name)
		}
		seen[key] = true

		switch f.Kind {
		case FeatureNumeric:
		case FeatureCategorical:
			hasUnknown := false
			for _, c := range f.Categories {
				if c == UnknownCategory {
					hasUnknown = true
					break
				}
			}
			if !hasUnknown {
				return fmt.Errorf("categorical feature %q has no %s category", f.Name, UnknownCategory)
			}
		default:
			return fmt.Errorf("feature %q has unknown kind %q", f.Name, f.Kind)
		}
	}
	return nil
}

// Marshal serialises the encoding as JSON
func (e *CategoryEncoding) Marshal() ([]byte, error) {
	return json.MarshalIndent(e, "", "  ")
}

// LoadEncoding parses and validates a serialised encoding
func LoadEncoding(data []byte) (*CategoryEncoding, error) {
	var enc CategoryEncoding
	if err := json.Unmarshal(data, &enc); err != nil {
		return nil, fmt.Errorf("failed to parse category encoding: %w", err)
	}
	if err := enc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid category encoding: %w", err)
	}
	return &enc, nil
}
