package features

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

func trainingBatch() *model.Batch {
	return &model.Batch{
		Columns: []model.Column{
			{Name: model.RecordIDColumn, Kind: model.KindText},
			{Name: "platform", Kind: model.KindText},
			{Name: "likes_count", Kind: model.KindNumeric},
			{Name: "post_date", Kind: model.KindDate},
			{Name: "notes", Kind: model.KindText},
		},
		Rows: []model.Row{
			{model.RecordIDColumn: "rid000001", "platform": "TWITTER", "likes_count": 10.0, "post_date": time.Unix(86400, 0).UTC(), "notes": "A"},
			{model.RecordIDColumn: "rid000002", "platform": "FACEBOOK", "likes_count": nil, "post_date": nil, "notes": "B"},
			{model.RecordIDColumn: "rid000003", "platform": nil, "likes_count": 3.0, "post_date": nil, "notes": nil},
		},
	}
}

func newTestEncoder(t *testing.T, exclude ...string) *Encoder {
	t.Helper()
	enc, err := Fit(trainingBatch(), FitOptions{Exclude: exclude, Version: "v1"})
	require.NoError(t, err)
	e, err := NewEncoder(enc, 2, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestFit(t *testing.T) {
	enc, err := Fit(trainingBatch(), FitOptions{Exclude: []string{"NOTES"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"platform", "likes_count", "post_date"}, enc.Names())
	assert.Equal(t, []string{"notes"}, enc.Ignored)
	assert.Equal(t, []string{"FACEBOOK", "TWITTER", UnknownCategory}, enc.Features[0].Categories)
	assert.Equal(t, FeatureNumeric, enc.Features[1].Kind)
	assert.Equal(t, "date", enc.Features[2].Source)
}

func TestEncode_UnseenAndMissingResolveToUnknown(t *testing.T) {
	e := newTestEncoder(t, "notes")
	unknown := 2.0 // index of UNKNOWN in [FACEBOOK TWITTER UNKNOWN]

	vec, err := e.Encode(model.Row{"platform": "MYSPACE", "likes_count": 1.0, "post_date": nil})
	require.NoError(t, err)
	assert.Equal(t, unknown, vec[0])

	vec, err = e.Encode(model.Row{"platform": nil, "likes_count": nil, "post_date": time.Unix(2*86400, 0)})
	require.NoError(t, err)
	assert.Equal(t, FeatureVector{unknown, 0, 2}, vec)

	vec, err = e.Encode(model.Row{"platform": "TWITTER", "likes_count": 5.0, "post_date": nil})
	require.NoError(t, err)
	assert.Equal(t, FeatureVector{1, 5, 0}, vec)
}

func TestEncode_MissingColumnIsSchemaMismatch(t *testing.T) {
	e := newTestEncoder(t, "notes")

	_, err := e.Encode(model.Row{"platform": "X"})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = e.Encode(model.Row{"platform": "X", "likes_count": "many", "post_date": nil})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestValidateSchema(t *testing.T) {
	e := newTestEncoder(t, "notes")
	batch := trainingBatch()

	assert.NoError(t, e.ValidateSchema(batch.Columns))

	// Ignored columns may be absent
	assert.NoError(t, e.ValidateSchema(batch.Columns[:4]))

	extra := append(append([]model.Column{}, batch.Columns...), model.Column{Name: "reach", Kind: model.KindNumeric})
	assert.ErrorIs(t, e.ValidateSchema(extra), ErrSchemaMismatch)

	assert.ErrorIs(t, e.ValidateSchema(batch.Columns[:2]), ErrSchemaMismatch)

	retyped := append([]model.Column{}, batch.Columns...)
	retyped[1] = model.Column{Name: "platform", Kind: model.KindNumeric}
	assert.ErrorIs(t, e.ValidateSchema(retyped), ErrSchemaMismatch)
}

func TestEncodeBatch_PreservesOrder(t *testing.T) {
	e := newTestEncoder(t)
	batch := trainingBatch()
	for i := 0; i < 50; i++ {
		batch.Rows = append(batch.Rows, model.Row{
			model.RecordIDColumn: fmt.Sprintf("x%03d", i),
			"platform":           "TWITTER",
			"likes_count":        float64(i),
			"post_date":          nil,
			"notes":              "A",
		})
	}

	vecs, err := e.EncodeBatch(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, vecs, batch.Len())

	for i := 3; i < batch.Len(); i++ {
		assert.Equal(t, float64(i-3), vecs[i][1])
	}
}

func TestEncodeBatch_SchemaMismatch(t *testing.T) {
	e := newTestEncoder(t)
	batch := trainingBatch()
	batch.Columns = batch.Columns[:3]

	_, err := e.EncodeBatch(context.Background(), batch)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestEncoding_RoundTripAndFingerprint(t *testing.T) {
	enc, err := Fit(trainingBatch(), FitOptions{Version: "v1"})
	require.NoError(t, err)

	data, err := enc.Marshal()
	require.NoError(t, err)

	loaded, err := LoadEncoding(data)
	require.NoError(t, err)
	assert.Equal(t, enc.Fingerprint(), loaded.Fingerprint())

	loaded.Features[0].Categories = []string{"A", UnknownCategory}
	assert.NotEqual(t, enc.Fingerprint(), loaded.Fingerprint())

	_, err = LoadEncoding([]byte(`{"features":[{"name":"p","kind":"categorical","categories":["A"]}]}`))
	assert.Error(t, err)
}
