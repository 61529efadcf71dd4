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
	"encoding/json"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// isTrivialScalar reports whether v is one of the fixed set of types
// auto-JSON treats as already wire-representable on its own: string,
// the numeric kinds, bool, time.Time, uuid.UUID, decimal.Decimal, or a
// byte slice (blob) / io.Reader-like stream. Anything else is
// "composite" and gets JSON-serialized when bound to a character column.
func isTrivialScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Time, uuid.UUID, decimal.Decimal,
		[]byte:
		return true
	}
	if _, ok := v.(readerLike); ok {
		return true
	}
	return false
}

// readerLike mirrors io.Reader without importing it solely for a type
// assertion, keeping this file's dependency surface to what it actually
// uses.
type readerLike interface {
	Read(p []byte) (n int, err error)
}

// autoJSON serializes a non-trivial composite value to a JSON string
// when the target column is character-typed. It returns ok=false when v
// is trivial and should be bound as-is.
func autoJSON(v any, databaseType string) (string, bool, error) {
	if isTrivialScalar(v) {
		return "", false, nil
	}
	if !isCharacterType(databaseType) {
		return "", false, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func isCharacterType(databaseType string) bool {
	switch databaseType {
	case "char", "varchar", "nchar", "nvarchar", "text", "ntext":
		return true
	}
	return false
}

// coerceNumeric converts a numeric value to the width the driver's
// parameter values carry: every integer kind (including integer-backed
// enumerations) becomes int64, and every float kind becomes float64, so
// half-precision-sourced float32 data is widened because the wire
// protocol has no half-precision type. databaseType is not consulted:
// values are not narrowed to the column's own integer width.
func coerceNumeric(v any, databaseType string) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint())
	case reflect.Float32:
		return float64(rv.Float())
	case reflect.Float64:
		return rv.Float()
	}
	return v
}

// isNumericKind reports whether v's underlying kind is one coerceNumeric
// handles, used to decide whether overflow/coercion applies at all.
func isNumericKind(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// halfToSingle widens a float32 carrying half-precision-sourced data to
// the float64 the wire format expects, guarding against an overflowed
// representation that would otherwise silently become +/-Inf.
func halfToSingle(v float32) (float64, error) {
	if math.IsInf(float64(v), 0) || math.IsNaN(float64(v)) {
		return 0, &types.RangeOverflowError{TargetType: "real", OfferedValue: v}
	}
	return float64(v), nil
}
