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
	"bytes"
	"context"
	"database/sql"
	"reflect"

	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/strategy"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// RowIterator yields materialized rows lazily from a streaming query. It
// owns both the underlying *sql.Rows and the strategy.StreamConnection
// that produced it, and closes both together. Each row is scanned in
// full, blob columns included as the driver's []byte values, before it
// is materialized; there is no sequential-access mode.
type RowIterator struct {
	rows   *sql.Rows
	stream strategy.StreamConnection
	target reflect.Type
	fn     *Executor

	current any
	err     error
}

// Next advances to the next row, materializing it as target. It returns
// false once the result set is exhausted, the context is canceled, or an
// error occurred; Err reports which.
func (it *RowIterator) Next() bool {
	if it.err != nil || it.rows == nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}

	row, err := newDriverRow(it.rows)
	if err != nil {
		it.err = err
		return false
	}

	materialize, err := it.fn.mappers.MaterializerFor(it.target, row)
	if err != nil {
		it.err = err
		return false
	}

	value, err := materialize(row)
	if err != nil {
		it.err = err
		return false
	}
	it.current = value
	return true
}

// Current returns the most recently materialized row.
func (it *RowIterator) Current() any { return it.current }

// Err returns the error, if any, that stopped iteration early. A nil
// Err after Next returns false just means the result set was exhausted.
func (it *RowIterator) Err() error { return it.err }

// Close releases the rows and the owning connection. A dry-run
// iterator owns neither and Close is a no-op.
func (it *RowIterator) Close() error {
	if it.rows == nil {
		return nil
	}
	closeErr := it.rows.Close()
	streamErr := it.stream.Close()
	if closeErr != nil {
		return closeErr
	}
	return streamErr
}

// StreamingQuery opens a reader over req and yields materialized rows of
// type target lazily via the returned RowIterator, which the caller must
// Close.
func (e *Executor) StreamingQuery(ctx context.Context, req types.ExecutionRequest, target reflect.Type) (*RowIterator, error) {
	result, err := e.runOp(ctx, req, OpStreamingQuery, func(ctx context.Context) (any, error) {
		if e.dryRun && isWriteCommand(req.CommandText) {
			return &RowIterator{rows: nil, target: target, fn: e}, nil
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
		return &RowIterator{rows: rows, stream: stream, target: target, fn: e}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*RowIterator), nil
}

// SingleRowQuery runs the same pipeline as StreamingQuery but returns
// only the first row, materialized as target; an empty result set
// returns target's zero value.
func (e *Executor) SingleRowQuery(ctx context.Context, req types.ExecutionRequest, target reflect.Type) (any, error) {
	it, err := e.StreamingQuery(ctx, req, target)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	if it.rows == nil || !it.Next() {
		if it.Err() != nil {
			return nil, it.Err()
		}
		return reflect.Zero(target).Interface(), nil
	}
	return it.Current(), nil
}

// Scalar returns the first column of the first row. A byte-sequence
// column is returned as an in-memory *bytes.Reader rather than a raw
// []byte, so callers can treat it like any other stream.
func (e *Executor) Scalar(ctx context.Context, req types.ExecutionRequest) (any, error) {
	result, err := e.runOp(ctx, req, OpScalar, func(ctx context.Context) (any, error) {
		if e.dryRun && isWriteCommand(req.CommandText) {
			return nil, nil
		}

		schema, err := e.resolveSchema(ctx, req)
		if err != nil {
			return nil, err
		}
		cmd := newCommandBuilder()
		if err := e.bindParameters(cmd, req, schema); err != nil {
			return nil, err
		}

		var scalar any
		err = e.runner.Run(ctx, req, func(ctx context.Context, q types.TargetQuerier) error {
			row := q.QueryRowContext(ctx, req.CommandText, cmd.Args()...)
			var value any
			if err := row.Scan(&value); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil
				}
				return err
			}
			if b, ok := value.([]byte); ok {
				value = bytes.NewReader(b)
			}
			scalar = value
			return nil
		})
		if err != nil {
			return nil, err
		}
		return scalar, nil
	})
	return result, err
}
