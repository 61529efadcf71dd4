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

package executor

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// driverRow adapts one already-advanced *sql.Rows position to
// types.Row, the minimal row-reading surface the mapper factory
// consumes. The current row's values are scanned eagerly into an any
// slice so FieldType/IsNull/Value can be answered by index without a
// second round trip to the driver.
type driverRow struct {
	names  []string
	types  []string
	values []any
}

func newDriverRow(rows *sql.Rows) (*driverRow, error) {
	cols, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "reading column metadata")
	}

	names := make([]string, len(cols))
	dbTypes := make([]string, len(cols))
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i, c := range cols {
		names[i] = c.Name()
		dbTypes[i] = c.DatabaseTypeName()
		ptrs[i] = &values[i]
	}

	if err := rows.Scan(ptrs...); err != nil {
		return nil, errors.Wrap(err, "scanning row")
	}

	return &driverRow{names: names, types: dbTypes, values: values}, nil
}

var _ types.Row = (*driverRow)(nil)

func (r *driverRow) FieldCount() int        { return len(r.names) }
func (r *driverRow) FieldName(i int) string { return r.names[i] }
func (r *driverRow) FieldType(i int) string { return r.types[i] }
func (r *driverRow) IsNull(i int) bool      { return r.values[i] == nil }
func (r *driverRow) Value(i int) (any, error) {
	return r.values[i], nil
}
