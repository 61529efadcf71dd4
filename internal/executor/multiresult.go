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
	"context"
	"database/sql"
	"reflect"

	"github.com/sqlxcore/sqlxcore/internal/strategy"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// MultiResultReader walks a command's successive result sets in order.
// It is forward-only: once NextResultSet has been called, the previous
// result set's rows are no longer reachable.
type MultiResultReader struct {
	rows   *sql.Rows
	stream strategy.StreamConnection
	fn     *Executor
}

// NextResultSet advances to the next result set. It returns false once
// every result set has been consumed.
func (m *MultiResultReader) NextResultSet() bool {
	if m.rows == nil {
		return false
	}
	return m.rows.NextResultSet()
}

// Rows materializes the current result set as target, consuming it.
func (m *MultiResultReader) Rows(target reflect.Type) ([]any, error) {
	if m.rows == nil {
		return nil, nil
	}
	var out []any
	for m.rows.Next() {
		row, err := newDriverRow(m.rows)
		if err != nil {
			return nil, err
		}
		materialize, err := m.fn.mappers.MaterializerFor(target, row)
		if err != nil {
			return nil, err
		}
		value, err := materialize(row)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	return out, m.rows.Err()
}

// Close releases the rows and the owning connection.
func (m *MultiResultReader) Close() error {
	if m.rows == nil {
		return nil
	}
	closeErr := m.rows.Close()
	streamErr := m.stream.Close()
	if closeErr != nil {
		return closeErr
	}
	return streamErr
}

// MultiResultQuery opens a reader over req whose result sets are
// consumed one at a time via MultiResultReader.NextResultSet. This
// needs no MARS-style connection-string capability: the driver walks a
// single statement's successive result sets in order on one active
// statement, which go-mssqldb supports regardless of the
// MultipleActiveResultSets setting. That setting only matters for
// concurrent, interleaved statements on one connection, which this
// forward-only reader never issues.
func (e *Executor) MultiResultQuery(ctx context.Context, req types.ExecutionRequest) (*MultiResultReader, error) {
	result, err := e.runOp(ctx, req, OpMultiResultSet, func(ctx context.Context) (any, error) {
		if e.dryRun && isWriteCommand(req.CommandText) {
			return &MultiResultReader{fn: e}, nil
		}

		schema, err := e.resolveSchema(ctx, req)
		if err != nil {
			return nil, err
		}
		cmd := newCommandBuilder()
		if err := e.bindParameters(cmd, req, schema); err != nil {
			return nil, err
		}

		stream, err := e.runner.OpenStream(ctx, req)
		if err != nil {
			return nil, err
		}
		rows, err := stream.QueryContext(ctx, req.CommandText, cmd.Args()...)
		if err != nil {
			_ = stream.Close()
			return nil, err
		}
		return &MultiResultReader{rows: rows, stream: stream, fn: e}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*MultiResultReader), nil
}
