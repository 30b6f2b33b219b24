package cleaner

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

func newTestNormalizer(t *testing.T, opts Options) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(opts, zap.NewNop())
	require.NoError(t, err)
	return n
}

func rawBatch(columns []string, rows ...[]interface{}) *model.RawBatch {
	batch := &model.RawBatch{Columns: columns}
	for _, values := range rows {
		row := make(model.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		batch.Rows = append(batch.Rows, row)
	}
	return batch
}

func TestNormalize_CollapsesDuplicatesAfterNormalization(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions())
	raw := rawBatch(
		[]string{"platform", "likes"},
		[]interface{}{"twitter", "10"},
		[]interface{}{"  TWITTER ", "10"},
		[]interface{}{"facebook", "3"},
	)

	batch, diag, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, batch.Len())
	assert.Equal(t, 3, diag.RowsIn)
	assert.Equal(t, 2, diag.RowsOut)
	assert.Equal(t, 1, diag.DuplicatesRemoved)
	assert.Equal(t, "TWITTER", batch.Rows[0]["platform"])
	assert.Equal(t, "FACEBOOK", batch.Rows[1]["platform"])
}

func TestNormalize_AmbiguousTokensBecomeMissing(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions())
	tokens := []string{"unknown", "Not Reported", "OTHER", "n/a", "NA", " none ", "not applicable"}

	raw := &model.RawBatch{Columns: []string{"region", "id_hint"}}
	for i, tok := range tokens {
		raw.Rows = append(raw.Rows, model.Row{"region": tok, "id_hint": fmt.Sprintf("r%d", i)})
	}

	batch, diag, err := n.Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, len(tokens), batch.Len())

	for _, row := range batch.Rows {
		assert.Nil(t, row["region"], "row %v", row)
	}
	assert.Equal(t, len(tokens), diag.AmbiguousValues["region"])
}

func TestNormalize_RecordIDsAreDenseAndFirst(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions())
	raw := &model.RawBatch{Columns: []string{"record_id", "post"}}
	for i := 0; i < 12; i++ {
		raw.Rows = append(raw.Rows, model.Row{"record_id": "stale", "post": fmt.Sprintf("p%d", i)})
	}

	batch, _, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, []string{model.RecordIDColumn, "post"}, batch.ColumnNames())

	ids, err := batch.RecordIDs()
	require.NoError(t, err)
	require.Len(t, ids, 12)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("rid%06d", i+1), id)
	}
}

func TestNormalize_InvalidDateAndNonNumericEngagement(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions())
	raw := rawBatch(
		[]string{"post_date", "platform", "likes", "shares"},
		[]interface{}{"2024-03-01", "x", "12", "4"},
		[]interface{}{"not a date", "y", "lots", ""},
	)

	batch, diag, err := n.Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())

	assert.Equal(t, model.KindDate, diag.ColumnKinds["post_date"])
	assert.Equal(t, model.KindNumeric, diag.ColumnKinds["likes"])
	assert.Equal(t, 1, diag.InvalidDates["post_date"])
	assert.Equal(t, 1, diag.TotalInvalidDates())
	assert.Equal(t, 1, diag.InvalidNumbers["likes"])

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), batch.Rows[0]["post_date"])
	assert.Equal(t, 12.0, batch.Rows[0]["likes"])
	assert.Nil(t, batch.Rows[1]["post_date"])
	assert.Nil(t, batch.Rows[1]["likes"])
	assert.Nil(t, batch.Rows[1]["shares"])
}

func TestNormalize_IdempotentOnCleanInput(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions())
	raw := rawBatch(
		[]string{"post_date", "platform", "likes"},
		[]interface{}{"2024-01-02 10:30:00", " instagram", "5"},
		[]interface{}{"2024-01-03", "N/A", "7.5"},
	)

	first, _, err := n.Normalize(raw)
	require.NoError(t, err)

	// Feed the cleaned values back in as if re-read from the cleaned file
	again := &model.RawBatch{Columns: first.ColumnNames()}
	for _, row := range first.Rows {
		copied := make(model.Row, len(row))
		for k, v := range row {
			copied[k] = v
		}
		again.Rows = append(again.Rows, copied)
	}

	second, _, err := n.Normalize(again)
	require.NoError(t, err)
	require.Equal(t, first.Len(), second.Len())

	for i := range first.Rows {
		for _, col := range []string{"post_date", "platform", "likes"} {
			assert.Equal(t, first.Rows[i][col], second.Rows[i][col], "column %s", col)
		}
	}
}

func TestNormalize_HashIdentityIsStableAcrossRuns(t *testing.T) {
	opts := DefaultOptions()
	opts.IdentityStrategy = IdentityHash
	opts.NaturalKey = []string{"post_id"}
	n := newTestNormalizer(t, opts)

	first, _, err := n.Normalize(rawBatch(
		[]string{"post_id", "likes"},
		[]interface{}{"a1", "1"},
		[]interface{}{"b2", "2"},
	))
	require.NoError(t, err)

	// A new row ahead of the old ones must not shift their identities
	second, _, err := n.Normalize(rawBatch(
		[]string{"post_id", "likes"},
		[]interface{}{"z9", "9"},
		[]interface{}{"a1", "1"},
		[]interface{}{"b2", "2"},
	))
	require.NoError(t, err)

	assert.Equal(t, first.Rows[0][model.RecordIDColumn], second.Rows[1][model.RecordIDColumn])
	assert.Equal(t, first.Rows[1][model.RecordIDColumn], second.Rows[2][model.RecordIDColumn])
	assert.Regexp(t, `^rid[0-9a-f]{12}$`, first.Rows[0][model.RecordIDColumn])
}

func TestNormalize_HashIdentityCollisionFails(t *testing.T) {
	opts := DefaultOptions()
	opts.IdentityStrategy = IdentityHash
	opts.NaturalKey = []string{"post_id"}
	n := newTestNormalizer(t, opts)

	_, _, err := n.Normalize(rawBatch(
		[]string{"post_id", "likes"},
		[]interface{}{"a1", "1"},
		[]interface{}{"a1", "2"},
	))
	assert.ErrorIs(t, err, ErrIdentityCollision)
}

func TestNormalize_UnreadableInput(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions())

	_, _, err := n.Normalize(nil)
	assert.ErrorIs(t, err, ErrUnreadableInput)

	_, _, err = n.Normalize(&model.RawBatch{})
	assert.ErrorIs(t, err, ErrUnreadableInput)

	_, _, err = n.Normalize(&model.RawBatch{Columns: []string{"a", "A"}})
	assert.ErrorIs(t, err, ErrUnreadableInput)
}

func TestRestore_KeepsIdentitiesAndTypes(t *testing.T) {
	n := newTestNormalizer(t, DefaultOptions())
	raw := rawBatch(
		[]string{"record_id", "post_date", "likes", "platform"},
		[]interface{}{"rid000001", "2024-01-02 00:00:00", "3", "X"},
		[]interface{}{"rid000002", "2024-01-02 00:00:00", "3", "X"},
	)

	batch, err := n.Restore(raw)
	require.NoError(t, err)

	require.Equal(t, 2, batch.Len())
	assert.Equal(t, "rid000002", batch.Rows[1][model.RecordIDColumn])
	assert.Equal(t, 3.0, batch.Rows[0]["likes"])
	assert.Equal(t, model.KindDate, batch.Columns[1].Kind)

	_, err = n.Restore(rawBatch([]string{"likes"}, []interface{}{"1"}))
	assert.ErrorIs(t, err, ErrUnreadableInput)
}
