package binder

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	Name  string
	Count int
}

func TestIsTrivialScalar(t *testing.T) {
	assert.True(t, isTrivialScalar(nil))
	assert.True(t, isTrivialScalar("s"))
	assert.True(t, isTrivialScalar(42))
	assert.True(t, isTrivialScalar(int64(42)))
	assert.True(t, isTrivialScalar(3.14))
	assert.True(t, isTrivialScalar(true))
	assert.True(t, isTrivialScalar(time.Now()))
	assert.True(t, isTrivialScalar(uuid.New()))
	assert.True(t, isTrivialScalar(decimal.New(1, 0)))
	assert.True(t, isTrivialScalar([]byte("blob")))
	assert.False(t, isTrivialScalar(widget{Name: "a", Count: 1}))
	assert.False(t, isTrivialScalar([]int{1, 2, 3}))
}

func TestAutoJSON(t *testing.T) {
	t.Run("trivial scalar is left alone", func(t *testing.T) {
		_, wasJSON, err := autoJSON("plain", "nvarchar")
		require.NoError(t, err)
		assert.False(t, wasJSON)
	})

	t.Run("composite bound to non-character column is left alone", func(t *testing.T) {
		_, wasJSON, err := autoJSON(widget{Name: "a", Count: 1}, "int")
		require.NoError(t, err)
		assert.False(t, wasJSON)
	})

	t.Run("composite bound to character column is serialized", func(t *testing.T) {
		serialized, wasJSON, err := autoJSON(widget{Name: "a", Count: 1}, "nvarchar")
		require.NoError(t, err)
		require.True(t, wasJSON)
		assert.JSONEq(t, `{"Name":"a","Count":1}`, serialized)
	})
}

func TestIsCharacterType(t *testing.T) {
	for _, dt := range []string{"char", "varchar", "nchar", "nvarchar", "text", "ntext"} {
		assert.True(t, isCharacterType(dt), dt)
	}
	assert.False(t, isCharacterType("int"))
	assert.False(t, isCharacterType("datetime"))
}

func TestCoerceNumeric(t *testing.T) {
	assert.Equal(t, int64(5), coerceNumeric(5, "int"))
	assert.Equal(t, int64(5), coerceNumeric(uint(5), "int"))
	assert.Equal(t, float64(1.5), coerceNumeric(float32(1.5), "float"))
	assert.Equal(t, "x", coerceNumeric("x", "nvarchar"), "non-numeric values pass through unchanged")
}

func TestIsNumericKind(t *testing.T) {
	assert.True(t, isNumericKind(5))
	assert.True(t, isNumericKind(uint8(5)))
	assert.True(t, isNumericKind(float32(5)))
	assert.False(t, isNumericKind("5"))
	assert.False(t, isNumericKind(widget{}))
}

func TestHalfToSingle(t *testing.T) {
	v, err := halfToSingle(1.5)
	require.NoError(t, err)
	assert.Equal(t, float64(1.5), v)

	_, err = halfToSingle(float32(math.Inf(1)))
	require.Error(t, err)

	_, err = halfToSingle(float32(math.NaN()))
	require.Error(t, err)
}
