package converter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/engagement-pipeline/pkg/model"
)

func TestDialectForDriver(t *testing.T) {
	d, err := DialectForDriver("pgx")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	d, err = DialectForDriver("SQLite")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	_, err = DialectForDriver("snowflake")
	assert.Error(t, err)
}

func TestGenerateColumnDefinitions(t *testing.T) {
	c := NewTypeConverter(zap.NewNop(), DialectSQLite)
	md := &model.TableMetadata{
		Table: "social_media_data",
		Columns: []model.Column{
			{Name: model.RecordIDColumn, Kind: model.KindText},
			{Name: "Post Date", Kind: model.KindDate},
			{Name: "likes_count", Kind: model.KindNumeric},
		},
		PrimaryKeys: []string{model.RecordIDColumn},
	}

	defs, err := c.GenerateColumnDefinitions(md)
	require.NoError(t, err)
	assert.Equal(t, []string{
		`"record_id" TEXT NOT NULL`,
		`"Post Date" TIMESTAMP NULL`,
		`"likes_count" REAL NULL`,
		`PRIMARY KEY ("record_id")`,
	}, defs)

	assert.Equal(t, "DOUBLE PRECISION", NewTypeConverter(zap.NewNop(), DialectPostgres).SQLType(model.KindNumeric))

	md.Columns = append(md.Columns, model.Column{Name: "LIKES_COUNT", Kind: model.KindNumeric})
	_, err = c.GenerateColumnDefinitions(md)
	assert.ErrorContains(t, err, "duplicate column")
}

func TestValueConversions(t *testing.T) {
	f, ok := ToNumber(" 42.5 ")
	assert.True(t, ok)
	assert.Equal(t, 42.5, f)

	_, ok = ToNumber("NaN")
	assert.False(t, ok)
	_, ok = ToNumber("abc")
	assert.False(t, ok)

	ts, err := ToTime("2024-03-05 14:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), ts)

	ts, err = ToTime("03/05/2024")
	require.NoError(t, err)
	assert.Equal(t, 2024, ts.Year())

	_, err = ToTime("not a date")
	assert.Error(t, err)

	s, ok := ToText(nil)
	assert.False(t, ok)
	assert.Empty(t, s)
}

func TestToDBAndBack(t *testing.T) {
	c := NewTypeConverter(zap.NewNop(), DialectSQLite)

	v, err := c.ToDB(nil, model.KindNumeric)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = c.ToDB("12", model.KindNumeric)
	require.NoError(t, err)
	assert.Equal(t, 12.0, v)

	_, err = c.ToDB("twelve", model.KindNumeric)
	assert.Error(t, err)

	back, err := c.FromDB([]byte("2024-01-02T00:00:00Z"), model.KindDate)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), back)
}

func TestInferKind(t *testing.T) {
	assert.Equal(t, model.KindNumeric, InferKind([]interface{}{"1", nil, " ", "2.5"}))
	assert.Equal(t, model.KindText, InferKind([]interface{}{"1", "twitter"}))
	assert.Equal(t, model.KindText, InferKind([]interface{}{nil, ""}))
}
