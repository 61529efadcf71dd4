// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package binder

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

const defaultPayloadFactoryCacheSize = 10000

const defaultColumnBufferCapacity = 256

// validationState tracks a (clr-type, udt-name) pair's last validator
// callback outcome in a {NotValidated, Success, Failed} state cache.
type validationState int

const (
	stateNotValidated validationState = iota
	stateSuccess
	stateFailed
)

// Validator is the caller-supplied callback consulted before a payload
// factory is trusted for a given element type and user-defined type
// name.
type Validator func(elementType reflect.Type, udtName string) error

// columnAccessor reads one TVP column's value out of a source element
// via a precompiled reflect path, so the hot loop building row buffers
// never has to re-resolve a struct field by name.
type columnAccessor struct {
	column     types.ColumnDescriptor
	fieldIndex []int
	fieldType  reflect.Type
}

// PayloadFactory builds TvpPayloadReaders for one (element type, TVP
// schema) pair. It is safe for concurrent use; factories are immutable
// once built.
type PayloadFactory struct {
	schema    types.TvpSchema
	accessors []columnAccessor
}

// buildPayloadFactory inspects elemType's exported fields, matching each
// TVP column to a field by case-insensitive name.
func buildPayloadFactory(schema types.TvpSchema, elemType reflect.Type) (*PayloadFactory, error) {
	if elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		return nil, &types.BulkBindingError{ElementType: elemType.String(), Reason: "TVP rows must bind from a struct or *struct element type"}
	}

	byName := make(map[string]reflect.StructField, elemType.NumField())
	for i := 0; i < elemType.NumField(); i++ {
		f := elemType.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		byName[strings.ToLower(f.Name)] = f
	}

	accessors := make([]columnAccessor, len(schema.Columns))
	for i, col := range schema.Columns {
		f, ok := byName[strings.ToLower(col.Name)]
		if !ok {
			return nil, &types.BulkBindingError{ElementType: elemType.String(), Reason: fmt.Sprintf("no field matches TVP column %q", col.Name)}
		}
		accessors[i] = columnAccessor{column: col, fieldIndex: f.Index, fieldType: f.Type}
	}

	return &PayloadFactory{schema: schema, accessors: accessors}, nil
}

// Build assembles a TvpPayloadReader over rows, which must be a slice
// (or array) of struct or *struct elements. estimatedBytes reports a
// cheap sampled size estimate (every 128th row, times 128) for
// telemetry; it is exact only by coincidence.
func (f *PayloadFactory) Build(rows any) (reader *types.TvpPayloadReader, estimatedBytes int64, err error) {
	rv := reflect.ValueOf(rows)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, 0, &types.BulkBindingError{ElementType: rv.Type().String(), Reason: "TVP source must be a slice or array"}
	}

	n := rv.Len()
	bufCap := n
	if bufCap <= 0 || bufCap > defaultColumnBufferCapacity*64 {
		bufCap = defaultColumnBufferCapacity
	}

	buffers := make([]types.AnyColumnarBuffer, len(f.accessors))
	for i, acc := range f.accessors {
		buffers[i] = newBufferForType(acc.fieldType, bufCap)
	}

	defer func() {
		if err != nil {
			// Dispose of partially built buffers before unwinding; the
			// buffers themselves hold no external resources, so disposal
			// here just means letting them fall out of scope unreferenced.
			buffers = nil
		}
	}()

	const sampleEvery = 128
	var sampledBytes int64
	var sampledRows int64

	for i := 0; i < n; i++ {
		elem := rv.Index(i)
		if elem.Kind() == reflect.Ptr {
			if elem.IsNil() {
				return nil, 0, &types.BulkBindingError{ElementType: elem.Type().String(), Reason: fmt.Sprintf("row %d is a nil pointer", i)}
			}
			elem = elem.Elem()
		}

		for ci, acc := range f.accessors {
			fv := elem.FieldByIndex(acc.fieldIndex)
			value, isNull := extractFieldValue(fv)
			if isNull && !acc.column.IsNullable {
				return nil, 0, &types.NullInRequiredColumnError{ColumnName: acc.column.Name, RowIndex: i}
			}
			if !isNull && isCharacterType(acc.column.DatabaseType) {
				if serialized, wasJSON, jsonErr := autoJSON(value, acc.column.DatabaseType); jsonErr == nil && wasJSON {
					value = serialized
				}
			}
			appendAny(buffers[ci], value, !isNull)
		}

		if i%sampleEvery == 0 {
			sampledBytes += estimateRowSize(elem, f.accessors)
			sampledRows++
		}
	}

	if sampledRows > 0 {
		estimatedBytes = sampledBytes * sampleEvery
	}

	return types.NewTvpPayloadReader(f.schema, buffers), estimatedBytes, nil
}

func extractFieldValue(fv reflect.Value) (value any, isNull bool) {
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, true
		}
		return fv.Elem().Interface(), false
	}
	return fv.Interface(), false
}

// estimateRowSize is a rough, allocation-free size guess used only for
// the sampled telemetry estimate, not for buffer sizing.
func estimateRowSize(elem reflect.Value, accessors []columnAccessor) int64 {
	var total int64
	for _, acc := range accessors {
		switch acc.fieldType.Kind() {
		case reflect.String:
			total += int64(elem.FieldByIndex(acc.fieldIndex).Len())
		default:
			total += int64(acc.fieldType.Size())
		}
	}
	return total
}

// newBufferForType returns a ColumnarBuffer specialized for common
// scalar kinds, falling back to a boxed ColumnarBuffer[any] for
// anything else, so the common cases (numbers, strings, times) avoid
// per-value boxing in the hot append loop.
func newBufferForType(t reflect.Type, capacityHint int) types.AnyColumnarBuffer {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int64, reflect.Int, reflect.Int32, reflect.Int16, reflect.Int8:
		return types.NewColumnarBuffer[int64](capacityHint)
	case reflect.Uint64, reflect.Uint, reflect.Uint32, reflect.Uint16, reflect.Uint8:
		return types.NewColumnarBuffer[uint64](capacityHint)
	case reflect.Float64, reflect.Float32:
		return types.NewColumnarBuffer[float64](capacityHint)
	case reflect.Bool:
		return types.NewColumnarBuffer[bool](capacityHint)
	case reflect.String:
		return types.NewColumnarBuffer[string](capacityHint)
	default:
		if t == reflect.TypeOf(time.Time{}) {
			return types.NewColumnarBuffer[time.Time](capacityHint)
		}
		return types.NewColumnarBuffer[any](capacityHint)
	}
}

// appendAny type-switches to the concrete buffer so callers working
// through the type-erased AnyColumnarBuffer interface can still append
// without the factory caller needing to know the buffer's element type.
func appendAny(buf types.AnyColumnarBuffer, value any, ok bool) {
	switch b := buf.(type) {
	case *types.ColumnarBuffer[int64]:
		v, _ := toInt64(value)
		b.Append(v, ok)
	case *types.ColumnarBuffer[uint64]:
		v, _ := toUint64(value)
		b.Append(v, ok)
	case *types.ColumnarBuffer[float64]:
		v, _ := toFloat64(value)
		b.Append(v, ok)
	case *types.ColumnarBuffer[bool]:
		v, _ := value.(bool)
		b.Append(v, ok)
	case *types.ColumnarBuffer[string]:
		v, _ := value.(string)
		b.Append(v, ok)
	case *types.ColumnarBuffer[time.Time]:
		v, _ := value.(time.Time)
		b.Append(v, ok)
	case *types.ColumnarBuffer[any]:
		b.Append(value, ok)
	}
}

func toInt64(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int()), true
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// PayloadFactoryCache caches PayloadFactory instances keyed by element
// type plus TVP schema name. Capacity is configurable; eviction is a
// full clear when the cap is hit, a simple and predictable policy for
// entries that are cheap to rebuild.
type PayloadFactoryCache struct {
	cache *lru.Cache[string, *PayloadFactory]
	size  int

	validator       Validator
	validationMu    sync.Mutex
	validationState map[string]validationState
}

// NewPayloadFactoryCache constructs a cache with the given capacity (0
// selects the default of 10,000).
func NewPayloadFactoryCache(capacity int, validator Validator) (*PayloadFactoryCache, error) {
	if capacity <= 0 {
		capacity = defaultPayloadFactoryCacheSize
	}
	c, err := lru.New[string, *PayloadFactory](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "constructing payload factory cache")
	}
	return &PayloadFactoryCache{
		cache:           c,
		size:            capacity,
		validator:       validator,
		validationState: make(map[string]validationState),
	}, nil
}

// GetOrBuild resolves a PayloadFactory for elemType against schema,
// consulting the validator callback's state cache first when one is
// registered.
func (c *PayloadFactoryCache) GetOrBuild(schema types.TvpSchema, elemType reflect.Type) (*PayloadFactory, error) {
	key := elemType.String() + "|" + schema.Name.Raw()

	if c.validator != nil {
		if err := c.checkValidation(elemType, schema.Name.Raw()); err != nil {
			return nil, err
		}
	}

	if f, ok := c.cache.Get(key); ok {
		return f, nil
	}

	f, err := buildPayloadFactory(schema, elemType)
	if err != nil {
		return nil, err
	}

	if c.cache.Len() >= c.size {
		c.cache.Purge()
	}
	c.cache.Add(key, f)
	return f, nil
}

func (c *PayloadFactoryCache) checkValidation(elemType reflect.Type, udtName string) error {
	key := elemType.String() + "|" + udtName

	c.validationMu.Lock()
	state := c.validationState[key]
	c.validationMu.Unlock()

	switch state {
	case stateSuccess:
		return nil
	case stateFailed:
		return &types.SchemaMismatchError{Object: udtName, Reason: "element type failed a prior TVP validation check"}
	}

	err := c.validator(elemType, udtName)

	c.validationMu.Lock()
	if err != nil {
		c.validationState[key] = stateFailed
	} else {
		c.validationState[key] = stateSuccess
	}
	c.validationMu.Unlock()

	if err != nil {
		return &types.SchemaMismatchError{Object: udtName, Reason: err.Error()}
	}
	return nil
}
