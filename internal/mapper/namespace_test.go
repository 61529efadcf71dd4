package mapper

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

type namespaceWidget struct{ Name string }

func TestNamespaceRegistryLookupFreezesAndReturnsRegistered(t *testing.T) {
	reg := NewNamespaceRegistry()
	t1 := reflect.TypeOf(namespaceWidget{})
	reg.Register(t1, func(row types.Row) (any, error) { return namespaceWidget{Name: "registered"}, nil })

	fn, ok := reg.lookup(t1)
	assert.True(t, ok)
	v, err := fn(nil)
	assert.NoError(t, err)
	assert.Equal(t, namespaceWidget{Name: "registered"}, v)

	_, ok = reg.lookup(reflect.TypeOf(42))
	assert.False(t, ok)
}

func TestNamespaceRegistryPanicsOnRegisterAfterFreeze(t *testing.T) {
	reg := NewNamespaceRegistry()
	reg.lookup(reflect.TypeOf(0))
	assert.Panics(t, func() {
		reg.Register(reflect.TypeOf(namespaceWidget{}), func(types.Row) (any, error) { return nil, nil })
	})
}
