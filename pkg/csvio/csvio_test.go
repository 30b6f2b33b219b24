package csvio

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

func TestReadRaw(t *testing.T) {
	input := "\xEF\xBB\xBFpost_date, platform ,likes\n2024-01-01,twitter,5\n2024-01-02,,\n"

	batch, err := ReadRaw(strings.NewReader(input), ',')
	require.NoError(t, err)

	assert.Equal(t, []string{"post_date", "platform", "likes"}, batch.Columns)
	require.Equal(t, 2, batch.Len())
	assert.Equal(t, "twitter", batch.Rows[0]["platform"])
	assert.Equal(t, "", batch.Rows[1]["likes"])
}

func TestReadRaw_Errors(t *testing.T) {
	_, err := ReadRaw(strings.NewReader(""), ',')
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ReadRaw(strings.NewReader("a,b\n1,2,3\n"), ',')
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadRaw_CustomDelimiter(t *testing.T) {
	batch, err := ReadRaw(strings.NewReader("a;b\n1;2\n"), ';')
	require.NoError(t, err)
	assert.Equal(t, "2", batch.Rows[0]["b"])
}

func TestWriteBatch(t *testing.T) {
	batch := &model.Batch{
		Columns: []model.Column{
			{Name: model.RecordIDColumn, Kind: model.KindText},
			{Name: "post_date", Kind: model.KindDate},
			{Name: "likes", Kind: model.KindNumeric},
			{Name: "platform", Kind: model.KindText},
		},
		Rows: []model.Row{
			{model.RecordIDColumn: "rid000001", "post_date": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "likes": 12.0, "platform": "X"},
			{model.RecordIDColumn: "rid000002", "post_date": nil, "likes": 0.5, "platform": nil},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBatch(&buf, batch, ','))

	want := "record_id,post_date,likes,platform\n" +
		"rid000001,2024-01-02 03:04:05,12,X\n" +
		"rid000002,,0.5,\n"
	assert.Equal(t, want, buf.String())

	// The written file reads back with the same header
	back, err := ReadRaw(&buf, ',')
	require.NoError(t, err)
	assert.Equal(t, batch.ColumnNames(), back.Columns)
}
