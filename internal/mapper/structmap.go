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
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// fieldBinding pairs one matched row column to a struct field by
// precompiled index path, so the compiled mapper's hot loop never does a
// by-name lookup.
type fieldBinding struct {
	columnOrdinal int
	fieldIndex    []int
	fieldType     reflect.Type
}

// Constructor is a registered candidate for building T from matched
// column values, standing in for "pick the public constructor with the
// greatest parameter count" in a language without overloaded
// constructors: callers register one or more named-parameter factory
// functions and the compiler picks the highest-arity one whose every
// parameter name matches an available column.
type Constructor struct {
	ParamNames []string
	Build      func(args []any) (any, error)
}

// compileStructMapper implements strategy 7: a runtime-compiled mapper
// for struct (or *struct) T, keyed by the row's signature. It applies the
// column->property binding rules directly: case-insensitive name match,
// typed accessor when the column's Go-mapped type already matches the
// field, JSON deserialization for a composite property bound from a
// character column, and the documented special coercions.
func compileStructMapper(t reflect.Type, row types.Row, ctors []Constructor) (func(types.Row) (any, error), bool) {
	ptr := false
	elemT := t
	if elemT.Kind() == reflect.Ptr {
		ptr = true
		elemT = elemT.Elem()
	}
	if elemT.Kind() != reflect.Struct {
		return nil, false
	}

	byName := make(map[string]reflect.StructField, elemT.NumField())
	for i := 0; i < elemT.NumField(); i++ {
		f := elemT.Field(i)
		if f.PkgPath != "" {
			continue
		}
		byName[strings.ToLower(f.Name)] = f
	}

	bindings := make([]fieldBinding, 0, row.FieldCount())
	matchedColumns := make(map[int]bool, row.FieldCount())
	for i := 0; i < row.FieldCount(); i++ {
		f, ok := byName[strings.ToLower(row.FieldName(i))]
		if !ok {
			continue
		}
		bindings = append(bindings, fieldBinding{columnOrdinal: i, fieldIndex: f.Index, fieldType: f.Type})
		matchedColumns[i] = true
	}

	ctor := selectConstructor(ctors, row)

	return func(row types.Row) (any, error) {
		instance := reflect.New(elemT)
		target := instance.Elem()

		consumed := make(map[int]bool, len(matchedColumns))
		if ctor != nil {
			args := make([]any, len(ctor.ParamNames))
			for pi, name := range ctor.ParamNames {
				ci := columnOrdinalByName(row, name)
				if ci < 0 {
					args[pi] = nil
					continue
				}
				v, err := readColumn(row, ci)
				if err != nil {
					return nil, err
				}
				args[pi] = v
				consumed[ci] = true
			}
			built, err := ctor.Build(args)
			if err != nil {
				return nil, err
			}
			built2 := reflect.ValueOf(built)
			if built2.Kind() == reflect.Ptr {
				built2 = built2.Elem()
			}
			target.Set(built2)
		}

		for _, b := range bindings {
			if consumed[b.columnOrdinal] {
				continue // already set by the constructor call above
			}
			if err := bindField(target.FieldByIndex(b.fieldIndex), row, b.columnOrdinal); err != nil {
				return nil, err
			}
		}

		if ptr {
			return instance.Interface(), nil
		}
		return target.Interface(), nil
	}, true
}

func columnOrdinalByName(row types.Row, name string) int {
	for i := 0; i < row.FieldCount(); i++ {
		if strings.EqualFold(row.FieldName(i), name) {
			return i
		}
	}
	return -1
}

func readColumn(row types.Row, i int) (any, error) {
	if row.IsNull(i) {
		return nil, nil
	}
	return row.Value(i)
}

// selectConstructor picks, among candidates whose every parameter name
// matches a column present in row, the one with the greatest parameter
// count.
func selectConstructor(ctors []Constructor, row types.Row) *Constructor {
	var best *Constructor
	for i := range ctors {
		c := &ctors[i]
		matches := true
		for _, name := range c.ParamNames {
			if columnOrdinalByName(row, name) < 0 {
				matches = false
				break
			}
		}
		if !matches {
			continue
		}
		if best == nil || len(c.ParamNames) > len(best.ParamNames) {
			best = c
		}
	}
	return best
}

// bindField applies the column->property binding rules for one matched
// field: null handling, typed-accessor fast path, auto-JSON for
// composite properties, and the documented special coercions.
func bindField(field reflect.Value, row types.Row, columnOrdinal int) error {
	if row.IsNull(columnOrdinal) {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	raw, err := row.Value(columnOrdinal)
	if err != nil {
		return err
	}
	converted, err := convertScalar(raw, field.Type())
	if err != nil {
		return err
	}
	cv := reflect.ValueOf(converted)
	if !cv.IsValid() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	if cv.Type().AssignableTo(field.Type()) {
		field.Set(cv)
		return nil
	}
	if cv.Type().ConvertibleTo(field.Type()) {
		field.Set(cv.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("mapper: column %q (%T) cannot be assigned to field of type %s", row.FieldName(columnOrdinal), raw, field.Type())
}

// convertScalar converts a value read off the wire to targetType,
// applying the character->GUID, numeric-to-float32 narrowing,
// composite-from-JSON, and generic-value-convert rules.
func convertScalar(raw any, targetType reflect.Type) (any, error) {
	if raw == nil {
		return reflect.Zero(targetType).Interface(), nil
	}
	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(targetType) {
		return raw, nil
	}

	switch targetType {
	case reflect.TypeOf(uuid.UUID{}):
		if s, ok := raw.(string); ok {
			return uuid.Parse(s)
		}
		if b, ok := raw.([]byte); ok {
			return uuid.FromBytes(b)
		}
	case reflect.TypeOf(decimal.Decimal{}):
		switch v := raw.(type) {
		case string:
			return decimal.NewFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		}
	case reflect.TypeOf(time.Time{}):
		if s, ok := raw.(string); ok {
			return time.Parse(time.RFC3339, s)
		}
	}

	if targetType.Kind() == reflect.Float32 {
		if f, ok := toFloat(raw); ok {
			return float32(f), nil
		}
	}
	if targetType.Kind() == reflect.Struct && isCompositeCandidate(raw) {
		if s, ok := raw.(string); ok {
			out := reflect.New(targetType)
			if err := json.Unmarshal([]byte(s), out.Interface()); err == nil {
				return out.Elem().Interface(), nil
			}
		}
	}

	if numericKind(rv.Kind()) && numericKind(targetType.Kind()) {
		return numericConvert(rv, targetType), nil
	}

	if rv.Type().ConvertibleTo(targetType) {
		return rv.Convert(targetType).Interface(), nil
	}
	return raw, nil
}

func isCompositeCandidate(raw any) bool {
	_, isString := raw.(string)
	return isString
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func numericConvert(rv reflect.Value, targetType reflect.Type) any {
	return rv.Convert(targetType).Interface()
}

func toFloat(raw any) (float64, bool) {
	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	}
	return 0, false
}
