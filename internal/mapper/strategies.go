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

package mapper

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// Mappable is the "generated mapper" capability (strategy 5): a type
// that knows how to populate itself from a row without reflection.
// Generated-code packages implement this directly instead of registering
// with a NamespaceRegistry.
type Mappable interface {
	FromRow(row types.Row) error
}

var mappableType = reflect.TypeOf((*Mappable)(nil)).Elem()

// TabularRow is the legacy bulk-flow row shape (strategy 3): a type that
// accepts the raw positional values and column names directly, bypassing
// per-property binding.
type TabularRow interface {
	LoadTabular(values []any, columnNames []string) error
}

var tabularRowType = reflect.TypeOf((*TabularRow)(nil)).Elem()

// dictionaryMapper handles strategy 2: T is map[string]any (string-keyed
// rows), read by column name.
func dictionaryMapper(t reflect.Type) (func(types.Row) (any, error), bool) {
	if t.Kind() != reflect.Map || t.Key().Kind() != reflect.String || t.Elem().Kind() != reflect.Interface {
		return nil, false
	}
	return func(row types.Row) (any, error) {
		m := reflect.MakeMapWithSize(t, row.FieldCount())
		for i := 0; i < row.FieldCount(); i++ {
			v, err := row.Value(i)
			if err != nil {
				return nil, err
			}
			if row.IsNull(i) {
				v = nil
			}
			m.SetMapIndex(reflect.ValueOf(row.FieldName(i)), reflect.ValueOf(&v).Elem())
		}
		return m.Interface(), nil
	}, true
}

// tabularRowMapper handles strategy 3: T (or *T) implements TabularRow.
func tabularRowMapper(t reflect.Type) (func(types.Row) (any, error), bool) {
	ptrT := t
	if ptrT.Kind() != reflect.Ptr {
		ptrT = reflect.PtrTo(t)
	}
	if !ptrT.Implements(tabularRowType) {
		return nil, false
	}
	elemT := ptrT.Elem()
	return func(row types.Row) (any, error) {
		values := make([]any, row.FieldCount())
		names := make([]string, row.FieldCount())
		for i := range values {
			v, err := row.Value(i)
			if err != nil {
				return nil, err
			}
			if row.IsNull(i) {
				v = nil
			}
			values[i] = v
			names[i] = row.FieldName(i)
		}
		instance := reflect.New(elemT)
		tabular := instance.Interface().(TabularRow)
		if err := tabular.LoadTabular(values, names); err != nil {
			return nil, err
		}
		return instance.Interface(), nil
	}, true
}

// mappableMapper handles strategy 5: T (or *T) implements Mappable.
func mappableMapper(t reflect.Type) (func(types.Row) (any, error), bool) {
	ptrT := t
	if ptrT.Kind() != reflect.Ptr {
		ptrT = reflect.PtrTo(t)
	}
	if !ptrT.Implements(mappableType) {
		return nil, false
	}
	elemT := ptrT.Elem()
	return func(row types.Row) (any, error) {
		instance := reflect.New(elemT)
		mappable := instance.Interface().(Mappable)
		if err := mappable.FromRow(row); err != nil {
			return nil, err
		}
		return instance.Interface(), nil
	}, true
}

// isScalarTarget reports whether t is one of the single-column primitive
// kinds strategy 4 materializes directly from column 0, without any
// struct-field binding.
func isScalarTarget(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	switch t {
	case reflect.TypeOf(time.Time{}), reflect.TypeOf(uuid.UUID{}), reflect.TypeOf(decimal.Decimal{}), reflect.TypeOf([]byte(nil)):
		return true
	}
	return false
}

// scalarMapper handles strategy 4: a single-column primitive result,
// for the target types isScalarTarget accepts. A []byte target receives
// the column's bytes; stream-like interface targets such as io.Reader
// are not accepted, so a byte column is never adapted into a reader.
func scalarMapper(t reflect.Type) (func(types.Row) (any, error), bool) {
	if !isScalarTarget(t) {
		return nil, false
	}
	return func(row types.Row) (any, error) {
		if row.FieldCount() == 0 {
			return reflect.Zero(t).Interface(), nil
		}
		if row.IsNull(0) {
			return reflect.Zero(t).Interface(), nil
		}
		raw, err := row.Value(0)
		if err != nil {
			return nil, err
		}
		return convertScalar(raw, t)
	}, true
}
