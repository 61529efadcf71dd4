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
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// tempTableCounter produces collision-resistant local temp-table names
// for bulk update/delete staging. It is seeded at process start to a
// wall-clock-derived value rather than zero, so two processes started
// at different times (or the same process across restarts) don't
// collide on a pooled connection that still has an old temp table in
// scope.
type tempTableCounter struct {
	next uint64
}

func newTempTableCounter() *tempTableCounter {
	return &tempTableCounter{next: uint64(time.Now().UnixNano())}
}

func (c *tempTableCounter) Next() string {
	n := atomic.AddUint64(&c.next, 1)
	return fmt.Sprintf("#sqlxcore_stage_%x", n)
}

// BulkUpdate stages rows into a uniquely named local temp table, then
// merges them into table by key, updating every non-key column for a
// matched row. In dry-run mode the temp table is created and dropped
// but never populated, and the merge is never issued.
func (e *Executor) BulkUpdate(ctx context.Context, req types.ExecutionRequest, table ident.Table, keyColumns, valueColumns []string, rows <-chan []any) (int64, error) {
	columns := append(append([]string{}, keyColumns...), valueColumns...)
	return e.bulkMutate(ctx, req, table, columns, len(keyColumns), rows, func(staging ident.Table) string {
		return mergeStatement(table, staging, keyColumns, valueColumns)
	})
}

// BulkDelete stages the rows to delete (identified by keyColumns) into
// a uniquely named local temp table, then deletes every matching row
// from table via a join on the staging table.
func (e *Executor) BulkDelete(ctx context.Context, req types.ExecutionRequest, table ident.Table, keyColumns []string, rows <-chan []any) (int64, error) {
	return e.bulkMutate(ctx, req, table, keyColumns, len(keyColumns), rows, func(staging ident.Table) string {
		return deleteJoinStatement(table, staging, keyColumns)
	})
}

// bulkMutate implements the common stage-then-apply shape shared by
// BulkUpdate and BulkDelete: dedup each staged batch by its leading
// keyColumnCount columns (a MERGE or DELETE-JOIN source with duplicate
// keys is itself an error on the server), bulk-copy into a fresh temp
// table, run the caller-supplied apply statement, then drop the temp
// table.
func (e *Executor) bulkMutate(ctx context.Context, req types.ExecutionRequest, table ident.Table, columns []string, keyColumnCount int, rows <-chan []any, apply func(staging ident.Table) string) (int64, error) {
	result, err := e.runOp(ctx, req, OpNonQuery, func(ctx context.Context) (any, error) {
		staging := ident.NewTable(ident.Schema{}, ident.New(e.tempTableSeq.Next()))

		var total int64
		err := e.runner.Run(ctx, req, func(ctx context.Context, q types.TargetQuerier) error {
			createStmt := fmt.Sprintf("SELECT TOP 0 %s INTO %s FROM %s",
				quotedColumnList(columns), staging.Quoted(), table.Quoted())
			if _, err := q.ExecContext(ctx, createStmt); err != nil {
				return errors.Wrap(err, "creating staging table")
			}
			defer func() {
				_, _ = q.ExecContext(ctx, fmt.Sprintf("DROP TABLE %s", staging.Quoted()))
			}()

			for {
				size := e.batch.Size(ctx, e.monitor)
				chunk, done := drainChunk(rows, size)
				if len(chunk) > 0 {
					chunk = dedupRowsByKey(chunk, keyColumnCount)
					if !e.dryRun {
						if err := bulkCopyChunk(ctx, q, staging, columns, chunk); err != nil {
							return err
						}
					}
					total += int64(len(chunk))
				}
				if done {
					break
				}
			}

			if e.dryRun || total == 0 {
				return nil
			}
			res, err := q.ExecContext(ctx, apply(staging))
			if err != nil {
				return errors.Wrap(err, "applying staged bulk mutation")
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total = affected
			return nil
		})
		if err != nil {
			return nil, err
		}
		return total, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// dedupRowsByKey removes rows sharing the same leading keyColumnCount
// values, keeping the later occurrence in iteration order ("last one
// wins"). It compacts rows in place by iterating backwards and moving
// each newly seen key to the rear, returning the compacted tail.
func dedupRowsByKey(rows [][]any, keyColumnCount int) [][]any {
	if keyColumnCount <= 0 {
		return rows
	}
	seenIdx := make(map[string]int, len(rows))

	dest := len(rows)
	for src := len(rows) - 1; src >= 0; src-- {
		key := rowKey(rows[src], keyColumnCount)
		if _, found := seenIdx[key]; found {
			continue
		}
		dest--
		seenIdx[key] = dest
		rows[dest] = rows[src]
	}
	return rows[dest:]
}

func rowKey(row []any, keyColumnCount int) string {
	var b strings.Builder
	for i := 0; i < keyColumnCount && i < len(row); i++ {
		fmt.Fprintf(&b, "%v\x1f", row[i])
	}
	return b.String()
}

func quotedColumnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = ident.New(c).Quoted()
	}
	return strings.Join(quoted, ", ")
}

func joinCondition(alias1, alias2 string, keyColumns []string) string {
	clauses := make([]string, len(keyColumns))
	for i, c := range keyColumns {
		q := ident.New(c).Quoted()
		clauses[i] = fmt.Sprintf("%s.%s = %s.%s", alias1, q, alias2, q)
	}
	return strings.Join(clauses, " AND ")
}

func mergeStatement(table, staging ident.Table, keyColumns, valueColumns []string) string {
	sets := make([]string, len(valueColumns))
	for i, c := range valueColumns {
		q := ident.New(c).Quoted()
		sets[i] = fmt.Sprintf("target.%s = source.%s", q, q)
	}
	return fmt.Sprintf(
		"MERGE %s AS target USING %s AS source ON %s WHEN MATCHED THEN UPDATE SET %s;",
		table.Quoted(), staging.Quoted(), joinCondition("target", "source", keyColumns), strings.Join(sets, ", "),
	)
}

func deleteJoinStatement(table, staging ident.Table, keyColumns []string) string {
	return fmt.Sprintf(
		"DELETE target FROM %s AS target INNER JOIN %s AS source ON %s;",
		table.Quoted(), staging.Quoted(), joinCondition("target", "source", keyColumns),
	)
}
