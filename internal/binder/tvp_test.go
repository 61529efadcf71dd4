package binder

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

type lineItem struct {
	Sku      string
	Quantity int
	Note     *string
}

func lineItemSchema() types.TvpSchema {
	return types.TvpSchema{
		Name: ident.NewQualifiedTable("dbo.LineItemType"),
		Columns: []types.ColumnDescriptor{
			{Name: "Sku", DatabaseType: "nvarchar", IsNullable: false},
			{Name: "Quantity", DatabaseType: "int", IsNullable: false},
			{Name: "Note", DatabaseType: "nvarchar", IsNullable: true},
		},
	}
}

func TestBuildPayloadFactoryMatchesColumnsCaseInsensitively(t *testing.T) {
	schema := lineItemSchema()
	schema.Columns[0].Name = "SKU"
	f, err := buildPayloadFactory(schema, reflect.TypeOf(lineItem{}))
	require.NoError(t, err)
	require.Len(t, f.accessors, 3)
	assert.Equal(t, "SKU", f.accessors[0].column.Name)
	assert.Equal(t, []int{0}, f.accessors[0].fieldIndex)
}

func TestBuildPayloadFactoryRejectsNonStruct(t *testing.T) {
	_, err := buildPayloadFactory(lineItemSchema(), reflect.TypeOf(42))
	require.Error(t, err)
	var bindErr *types.BulkBindingError
	require.ErrorAs(t, err, &bindErr)
}

func TestBuildPayloadFactoryRejectsMissingColumn(t *testing.T) {
	type partial struct{ Sku string }
	_, err := buildPayloadFactory(lineItemSchema(), reflect.TypeOf(partial{}))
	require.Error(t, err)
}

func TestPayloadFactoryBuildRoundTrips(t *testing.T) {
	note := "gift wrap"
	rows := []lineItem{
		{Sku: "A1", Quantity: 3, Note: &note},
		{Sku: "A2", Quantity: 0, Note: nil},
	}
	f, err := buildPayloadFactory(lineItemSchema(), reflect.TypeOf(lineItem{}))
	require.NoError(t, err)

	reader, estimated, err := f.Build(rows)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.RowCount())
	assert.GreaterOrEqual(t, estimated, int64(0))

	require.True(t, reader.Next())
	v, ok := reader.Get(0)
	assert.True(t, ok)
	assert.Equal(t, "A1", v)
	v, ok = reader.Get(2)
	assert.True(t, ok)
	assert.Equal(t, "gift wrap", v)

	require.True(t, reader.Next())
	_, ok = reader.Get(2)
	assert.False(t, ok, "nil pointer field is a SQL NULL")

	assert.False(t, reader.Next())
}

func TestPayloadFactoryBuildRejectsNullInRequiredColumn(t *testing.T) {
	type badRow struct {
		Sku      *string
		Quantity int
		Note     *string
	}
	schema := lineItemSchema()
	f, err := buildPayloadFactory(schema, reflect.TypeOf(badRow{}))
	require.NoError(t, err)

	_, _, err = f.Build([]badRow{{Sku: nil, Quantity: 1}})
	require.Error(t, err)
	var nullErr *types.NullInRequiredColumnError
	require.ErrorAs(t, err, &nullErr)
}

func TestPayloadFactoryBuildRejectsNilPointerRow(t *testing.T) {
	f, err := buildPayloadFactory(lineItemSchema(), reflect.TypeOf(lineItem{}))
	require.NoError(t, err)

	_, _, err = f.Build([]*lineItem{nil})
	require.Error(t, err)
}

func TestNewBufferForTypeSpecializesScalarKinds(t *testing.T) {
	assert.IsType(t, &types.ColumnarBuffer[int64]{}, newBufferForType(reflect.TypeOf(int(0)), 1))
	assert.IsType(t, &types.ColumnarBuffer[string]{}, newBufferForType(reflect.TypeOf(""), 1))
	assert.IsType(t, &types.ColumnarBuffer[any]{}, newBufferForType(reflect.TypeOf(struct{}{}), 1))
}

func TestPayloadFactoryCacheEvictsFullyOnCapacity(t *testing.T) {
	c, err := NewPayloadFactoryCache(1, nil)
	require.NoError(t, err)

	schema := lineItemSchema()
	_, err = c.GetOrBuild(schema, reflect.TypeOf(lineItem{}))
	require.NoError(t, err)
	assert.Equal(t, 1, c.cache.Len())

	type otherRow struct {
		Sku      string
		Quantity int
		Note     *string
	}
	_, err = c.GetOrBuild(schema, reflect.TypeOf(otherRow{}))
	require.NoError(t, err)
	assert.Equal(t, 1, c.cache.Len(), "hitting capacity clears the cache rather than evicting one entry")
}

func TestPayloadFactoryCacheValidatorStateCache(t *testing.T) {
	calls := 0
	validator := func(elementType reflect.Type, udtName string) error {
		calls++
		return nil
	}
	c, err := NewPayloadFactoryCache(10, validator)
	require.NoError(t, err)

	schema := lineItemSchema()
	_, err = c.GetOrBuild(schema, reflect.TypeOf(lineItem{}))
	require.NoError(t, err)
	_, err = c.GetOrBuild(schema, reflect.TypeOf(lineItem{}))
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "a successful validation is cached and not repeated")
}

func TestPayloadFactoryCacheValidatorFailureSticks(t *testing.T) {
	validator := func(elementType reflect.Type, udtName string) error {
		return assert.AnError
	}
	c, err := NewPayloadFactoryCache(10, validator)
	require.NoError(t, err)

	schema := lineItemSchema()
	_, err = c.GetOrBuild(schema, reflect.TypeOf(lineItem{}))
	require.Error(t, err)

	_, err = c.GetOrBuild(schema, reflect.TypeOf(lineItem{}))
	require.Error(t, err)
	var mismatch *types.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
}
