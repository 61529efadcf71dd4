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
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// BulkInsert drains rows into table via the driver's native bulk-copy
// protocol, chunking the source into adaptively sized batches: each
// batch's observed rows-per-second feeds back into the sizer so the
// next batch's size tracks the target duration. In dry-run mode rows
// are drained from the channel without ever being written.
func (e *Executor) BulkInsert(ctx context.Context, req types.ExecutionRequest, table ident.Table, columns []string, rows <-chan []any) (int64, error) {
	result, err := e.runOp(ctx, req, OpNonQuery, func(ctx context.Context) (any, error) {
		var total int64
		for {
			size := e.batch.Size(ctx, e.monitor)
			chunk, done := drainChunk(rows, size)
			if len(chunk) == 0 {
				return total, nil
			}

			if e.dryRun {
				total += int64(len(chunk))
				if done {
					return total, nil
				}
				continue
			}

			start := time.Now()
			if err := e.runner.Run(ctx, req, func(ctx context.Context, q types.TargetQuerier) error {
				return bulkCopyChunk(ctx, q, table, columns, chunk)
			}); err != nil {
				return total, err
			}
			e.batch.Observe(len(chunk), time.Since(start))
			total += int64(len(chunk))

			if done {
				return total, nil
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// drainChunk reads up to size values from rows without blocking past a
// closed channel, reporting whether the channel is now exhausted.
func drainChunk(rows <-chan []any, size int) ([][]any, bool) {
	chunk := make([][]any, 0, size)
	for len(chunk) < size {
		row, ok := <-rows
		if !ok {
			return chunk, true
		}
		chunk = append(chunk, row)
	}
	return chunk, false
}

// bulkCopyChunk issues one native bulk-copy statement covering every
// row in chunk, via a prepared mssql.CopyIn statement executed once per
// row and flushed with a final no-argument Exec.
func bulkCopyChunk(ctx context.Context, q types.TargetQuerier, table ident.Table, columns []string, chunk [][]any) error {
	preparer, ok := q.(interface {
		PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	})
	if !ok {
		return errors.New("executor: bulk insert requires a connection that supports prepared statements")
	}

	stmt, err := preparer.PrepareContext(ctx, mssql.CopyIn(table.Quoted(), mssql.BulkOptions{}, columns...))
	if err != nil {
		return errors.Wrap(err, "preparing bulk copy")
	}
	defer stmt.Close()

	for _, row := range chunk {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return errors.Wrap(err, "staging bulk copy row")
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return errors.Wrap(err, "flushing bulk copy")
	}
	return nil
}
