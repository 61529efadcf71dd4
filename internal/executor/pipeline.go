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

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// BulkPipeline feeds rows produced by source into a BulkInsert over
// table, through a bounded channel sized to the current adaptive batch
// size so the producer never races far ahead of the writer. Whatever
// the producer leaves in flight when it stops is flushed as a final,
// possibly short, batch. In dry-run mode the channel is still drained
// so source completes normally, but nothing is written.
func (e *Executor) BulkPipeline(ctx context.Context, req types.ExecutionRequest, table ident.Table, columns []string, source func(ctx context.Context, out chan<- []any) error) (int64, error) {
	bufSize := e.batch.Size(ctx, e.monitor)
	rows := make(chan []any, bufSize)

	sourceErrCh := make(chan error, 1)
	go func() {
		defer close(rows)
		sourceErrCh <- source(ctx, rows)
	}()

	total, insertErr := e.BulkInsert(ctx, req, table, columns, rows)

	sourceErr := <-sourceErrCh
	if insertErr != nil {
		return total, insertErr
	}
	return total, sourceErr
}
