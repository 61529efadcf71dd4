package mapper

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

func TestDictionaryMapper(t *testing.T) {
	mapType := reflect.TypeOf(map[string]any{})
	fn, ok := dictionaryMapper(mapType)
	require.True(t, ok)

	row := newFakeRow(
		fakeColumn{Name: "Id", Value: int64(7)},
		fakeColumn{Name: "Note", Value: nil},
	)
	v, err := fn(row)
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, int64(7), m["Id"])
	assert.Nil(t, m["Note"])
}

func TestDictionaryMapperRejectsOtherTypes(t *testing.T) {
	_, ok := dictionaryMapper(reflect.TypeOf(42))
	assert.False(t, ok)
	_, ok = dictionaryMapper(reflect.TypeOf(map[string]string{}))
	assert.False(t, ok, "value type must be interface{}, not a concrete type")
}

type tabularThing struct {
	cols   []string
	values []any
}

func (t *tabularThing) LoadTabular(values []any, columnNames []string) error {
	t.values = values
	t.cols = columnNames
	return nil
}

func TestTabularRowMapper(t *testing.T) {
	fn, ok := tabularRowMapper(reflect.TypeOf(tabularThing{}))
	require.True(t, ok)

	row := newFakeRow(fakeColumn{Name: "A", Value: "x"}, fakeColumn{Name: "B", Value: "y"})
	v, err := fn(row)
	require.NoError(t, err)
	got := v.(*tabularThing)
	assert.Equal(t, []string{"A", "B"}, got.cols)
	assert.Equal(t, []any{"x", "y"}, got.values)
}

type mappableThing struct{ fieldCount int }

func (m *mappableThing) FromRow(row types.Row) error {
	m.fieldCount = row.FieldCount()
	return nil
}

func TestMappableMapper(t *testing.T) {
	fn, ok := mappableMapper(reflect.TypeOf(mappableThing{}))
	require.True(t, ok)

	row := newFakeRow(fakeColumn{Name: "A", Value: "x"}, fakeColumn{Name: "B", Value: "y"})
	v, err := fn(row)
	require.NoError(t, err)
	assert.Equal(t, 2, v.(*mappableThing).fieldCount)
}

func TestMappableMapperRejectsNonImplementingType(t *testing.T) {
	_, ok := mappableMapper(reflect.TypeOf(42))
	assert.False(t, ok)
}

func TestIsScalarTarget(t *testing.T) {
	assert.True(t, isScalarTarget(reflect.TypeOf("")))
	assert.True(t, isScalarTarget(reflect.TypeOf(int64(0))))
	assert.True(t, isScalarTarget(reflect.TypeOf(3.14)))
	assert.False(t, isScalarTarget(reflect.TypeOf(struct{ X int }{})))
}

func TestScalarMapper(t *testing.T) {
	fn, ok := scalarMapper(reflect.TypeOf(int64(0)))
	require.True(t, ok)

	row := newFakeRow(fakeColumn{Name: "Count", Value: int64(42)})
	v, err := fn(row)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestScalarMapperNullReturnsZeroValue(t *testing.T) {
	fn, ok := scalarMapper(reflect.TypeOf(""))
	require.True(t, ok)

	row := newFakeRow(fakeColumn{Name: "Name", Value: nil})
	v, err := fn(row)
	require.NoError(t, err)
	assert.Equal(t, "", v)
}
