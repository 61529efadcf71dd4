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
	"reflect"
	"strings"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// BulkCopyMapping is a 1:1 column-name mapping for the database's
// native bulk-copy path, generated either from a tabular input's
// declared columns or from a struct element type's field order.
type BulkCopyMapping struct {
	SourceColumn      string
	DestinationColumn string
}

// BuildBulkCopyMapping derives a BulkCopyMapping list for rows, which
// must be a slice of struct (or *struct) elements, matching each field
// to a destination column by case-insensitive name. Fields with no
// matching destination column are skipped; destinationColumns supplies
// the target table's authoritative column order.
func BuildBulkCopyMapping(rows any, destinationColumns []types.ColumnDescriptor) ([]BulkCopyMapping, error) {
	rv := reflect.TypeOf(rows)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, &types.BulkBindingError{ElementType: rv.String(), Reason: "bulk copy source must be a slice or array"}
	}
	elemType := rv.Elem()
	if elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		return nil, &types.BulkBindingError{ElementType: elemType.String(), Reason: "bulk copy rows must be structs"}
	}

	destByName := make(map[string]types.ColumnDescriptor, len(destinationColumns))
	for _, c := range destinationColumns {
		destByName[strings.ToLower(c.Name)] = c
	}

	var mapping []BulkCopyMapping
	for i := 0; i < elemType.NumField(); i++ {
		f := elemType.Field(i)
		if f.PkgPath != "" {
			continue
		}
		if dest, ok := destByName[strings.ToLower(f.Name)]; ok {
			mapping = append(mapping, BulkCopyMapping{SourceColumn: f.Name, DestinationColumn: dest.Name})
		}
	}
	return mapping, nil
}

// BuildBulkCopyReader assembles a TvpPayloadReader over rows using the
// same columnar-buffer machinery as TVP assembly, so the database's
// native bulk-copy path and the TVP path share one reader shape.
func BuildBulkCopyReader(schema types.TvpSchema, rows any) (*types.TvpPayloadReader, error) {
	elemType := reflect.TypeOf(rows).Elem()
	factory, err := buildPayloadFactory(schema, elemType)
	if err != nil {
		return nil, err
	}
	reader, _, err := factory.Build(rows)
	return reader, err
}
