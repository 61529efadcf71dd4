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

// Package binder binds application values onto driver command
// parameters: null policy, overflow pre-validation, string sanitizing,
// auto-JSON for composite values, numeric coercion, and table-valued
// parameter assembly.
package binder

import (
	"reflect"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// Binder binds parameters onto driver commands. The zero value is not
// usable; construct with New.
type Binder struct {
	tvpFactories *PayloadFactoryCache
}

// New constructs a Binder. tvpCacheCapacity of 0 selects the default
// (10,000); validator may be nil to skip TVP element-type validation.
func New(tvpCacheCapacity int, validator Validator) (*Binder, error) {
	factories, err := NewPayloadFactoryCache(tvpCacheCapacity, validator)
	if err != nil {
		return nil, err
	}
	return &Binder{tvpFactories: factories}, nil
}

// Bind binds one parameter using authoritative procedure metadata,
// applying the null policy, overflow pre-validation, string
// sanitizing, auto-JSON, coercion, and TVP assembly in one pass.
func (b *Binder) Bind(cmd types.Command, meta types.ParameterMetadata, raw any, strict bool) error {
	isNil := raw == nil
	decision, err := classifyNull(meta, isNil, strict)
	if err != nil {
		return err
	}
	if decision == skipBinding {
		return nil
	}
	if isNil {
		return cmd.SetParameter(meta.Name, nil)
	}

	if meta.IsStructured() {
		return b.bindStructured(cmd, meta, raw)
	}

	value := raw
	if s, ok := value.(string); ok {
		value = sanitizeString(s, meta.MaxLength)
	}

	if err := validateOverflow(meta, value); err != nil {
		return err
	}

	if serialized, wasJSON, err := autoJSON(value, meta.DatabaseType); err != nil {
		return err
	} else if wasJSON {
		value = serialized
	} else if isNumericKind(value) {
		value = coerceNumeric(value, meta.DatabaseType)
	} else if f32, ok := value.(float32); ok {
		widened, err := halfToSingle(f32)
		if err != nil {
			return err
		}
		value = widened
	}

	return cmd.SetParameter(meta.Name, value)
}

// BindRaw binds a parameter without procedure metadata, inferring the
// database type from the Go value's own shape. optionalTypeName, if
// non-empty, is used as the structured parameter's user-defined type
// name when value isn't a primitive.
func (b *Binder) BindRaw(cmd types.Command, name string, value any, optionalTypeName string) error {
	if value == nil {
		return cmd.SetParameter(name, nil)
	}
	if s, ok := value.(string); ok {
		return cmd.SetParameter(name, sanitizeString(s, -1))
	}
	if isNumericKind(value) {
		return cmd.SetParameter(name, coerceNumeric(value, inferDatabaseType(value)))
	}
	if f32, ok := value.(float32); ok {
		widened, err := halfToSingle(f32)
		if err != nil {
			return err
		}
		return cmd.SetParameter(name, widened)
	}
	if optionalTypeName != "" {
		if err := cmd.SetParameterTypeName(name, optionalTypeName); err != nil {
			return err
		}
	}
	return cmd.SetParameter(name, value)
}

func inferDatabaseType(value any) string {
	switch value.(type) {
	case int, int32:
		return "int"
	case int64:
		return "bigint"
	case int16:
		return "smallint"
	case int8, uint8:
		return "tinyint"
	case float32, float64:
		return "float"
	}
	return ""
}

func validateOverflow(meta types.ParameterMetadata, value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		i, _ := toInt64(v)
		return checkIntegerOverflow(meta.Name, i, meta.DatabaseType, meta.Precision, meta.Scale)
	case decimal.Decimal:
		return checkDecimalOverflow(meta.Name, v, meta.DatabaseType, meta.Precision, meta.Scale)
	case time.Time:
		return checkDateOverflow(meta.Name, v, meta.DatabaseType)
	}
	return nil
}

// bindStructured implements the TVP half of Bind: a pre-built tabular
// object is retyped to the parameter's UDT name; anything else is
// assembled into a TvpPayloadReader via the payload factory cache.
func (b *Binder) bindStructured(cmd types.Command, meta types.ParameterMetadata, raw any) error {
	if reader, ok := raw.(*types.TvpPayloadReader); ok {
		if err := cmd.SetParameterTypeName(meta.Name, meta.UDTName); err != nil {
			return err
		}
		return cmd.SetParameter(meta.Name, reader)
	}

	schema, ok := structuredSchemaOf(raw)
	if !ok {
		return &types.BulkBindingError{ElementType: reflect.TypeOf(raw).String(), Reason: "value bound to a structured parameter must be a TvpPayloadReader or a slice of rows plus a registered TVP schema"}
	}

	elemType := reflect.TypeOf(raw).Elem()
	factory, err := b.tvpFactories.GetOrBuild(schema, elemType)
	if err != nil {
		return err
	}

	reader, _, err := factory.Build(raw)
	if err != nil {
		return err
	}

	if err := cmd.SetParameterTypeName(meta.Name, meta.UDTName); err != nil {
		return err
	}
	return cmd.SetParameter(meta.Name, reader)
}

// structuredSchemaProvider is implemented by a slice's element type (or
// a wrapper) to declare which registered TVP schema it binds as. It is
// the escape hatch callers use instead of passing a pre-built reader.
type structuredSchemaProvider interface {
	TvpSchema() types.TvpSchema
}

func structuredSchemaOf(raw any) (types.TvpSchema, bool) {
	if provider, ok := raw.(structuredSchemaProvider); ok {
		return provider.TvpSchema(), true
	}
	rv := reflect.ValueOf(raw)
	if (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) && rv.Len() > 0 {
		if provider, ok := rv.Index(0).Interface().(structuredSchemaProvider); ok {
			return provider.TvpSchema(), true
		}
	}
	return types.TvpSchema{}, false
}
