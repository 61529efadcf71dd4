package mapper

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type personRow struct {
	Name string
	Age  int
	Bio  *string
}

func TestCompileStructMapperBindsByCaseInsensitiveName(t *testing.T) {
	row := newFakeRow(
		fakeColumn{Name: "name", Value: "Ada"},
		fakeColumn{Name: "AGE", Value: 30},
	)
	fn, ok := compileStructMapper(reflect.TypeOf(personRow{}), row, nil)
	require.True(t, ok)

	v, err := fn(row)
	require.NoError(t, err)
	p := v.(personRow)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, 30, p.Age)
}

func TestCompileStructMapperIgnoresUnmatchedColumns(t *testing.T) {
	row := newFakeRow(
		fakeColumn{Name: "Name", Value: "Ada"},
		fakeColumn{Name: "Unrelated", Value: "x"},
	)
	fn, ok := compileStructMapper(reflect.TypeOf(personRow{}), row, nil)
	require.True(t, ok)
	v, err := fn(row)
	require.NoError(t, err)
	assert.Equal(t, "Ada", v.(personRow).Name)
}

func TestCompileStructMapperNullProducesZeroValue(t *testing.T) {
	row := newFakeRow(fakeColumn{Name: "Name", Value: nil}, fakeColumn{Name: "Age", Value: 1})
	fn, ok := compileStructMapper(reflect.TypeOf(personRow{}), row, nil)
	require.True(t, ok)
	v, err := fn(row)
	require.NoError(t, err)
	assert.Equal(t, "", v.(personRow).Name)
}

func TestCompileStructMapperRejectsNonStruct(t *testing.T) {
	row := newFakeRow(fakeColumn{Name: "X", Value: 1})
	_, ok := compileStructMapper(reflect.TypeOf(42), row, nil)
	assert.False(t, ok)
}

func TestCompileStructMapperPointerTarget(t *testing.T) {
	row := newFakeRow(fakeColumn{Name: "Name", Value: "Ada"}, fakeColumn{Name: "Age", Value: 1})
	fn, ok := compileStructMapper(reflect.TypeOf(&personRow{}), row, nil)
	require.True(t, ok)
	v, err := fn(row)
	require.NoError(t, err)
	p := v.(*personRow)
	assert.Equal(t, "Ada", p.Name)
}

func TestSelectConstructorPicksHighestArityMatchingCandidate(t *testing.T) {
	row := newFakeRow(fakeColumn{Name: "Name", Value: "Ada"}, fakeColumn{Name: "Age", Value: 1})
	ctors := []Constructor{
		{ParamNames: []string{"Name"}},
		{ParamNames: []string{"Name", "Age"}},
		{ParamNames: []string{"Name", "Missing"}},
	}
	best := selectConstructor(ctors, row)
	require.NotNil(t, best)
	assert.Equal(t, []string{"Name", "Age"}, best.ParamNames)
}

func TestCompileStructMapperUsesRegisteredConstructor(t *testing.T) {
	row := newFakeRow(fakeColumn{Name: "Name", Value: "Ada"}, fakeColumn{Name: "Age", Value: 30})
	ctors := []Constructor{
		{
			ParamNames: []string{"Name", "Age"},
			Build: func(args []any) (any, error) {
				return personRow{Name: args[0].(string), Age: args[1].(int)}, nil
			},
		},
	}
	fn, ok := compileStructMapper(reflect.TypeOf(personRow{}), row, ctors)
	require.True(t, ok)
	v, err := fn(row)
	require.NoError(t, err)
	p := v.(personRow)
	assert.Equal(t, "Ada", p.Name)
	assert.Equal(t, 30, p.Age)
}

func TestConvertScalarPassesThroughAssignableValues(t *testing.T) {
	v, err := convertScalar("hi", reflect.TypeOf(""))
	require.NoError(t, err)
	assert.Equal(t, "hi", v)
}

func TestConvertScalarNumericWidening(t *testing.T) {
	v, err := convertScalar(int32(5), reflect.TypeOf(int64(0)))
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}
