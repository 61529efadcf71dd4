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
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sqlxcore/sqlxcore/internal/cursorstore"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// transientTransportCodes are server-reported conditions a resumable
// query's batch retry considers worth retrying rather than aborting:
// timeout (-2), network path not found (53), and a reset pipe (233),
// alongside the deadlock victim code the execution strategy otherwise
// classifies on its own.
var transientTransportCodes = map[int]bool{
	-2:   true,
	53:   true,
	233:  true,
	1205: true,
}

func isTransient(err error) bool {
	var transportErr *types.TransportError
	if errors.As(err, &transportErr) {
		return transientTransportCodes[transportErr.Code]
	}
	return false
}

// ResumableQueryOptions configures ResumableQuery.
type ResumableQueryOptions struct {
	// QueryKey identifies this query's cursor in the Store, typically
	// the procedure or query name.
	QueryKey string
	// QueryFor renders the command text to run for the given cursor.
	QueryFor func(cursor any) (types.ExecutionRequest, error)
	// NextCursor derives the next cursor from a materialized row.
	NextCursor func(row any) (any, error)
	// OnBatch is invoked once per non-empty batch with its materialized
	// rows, in order.
	OnBatch func(ctx context.Context, rows []any) error

	Store         cursorstore.Store
	MaxRetries    uint64
	MaxRetryDelay time.Duration
}

// ResumableQuery repeatedly runs opts.QueryFor starting from the last
// persisted cursor (or from scratch if none exists), advancing the
// cursor after each non-empty batch and persisting it to opts.Store.
// A transient SQL exception retries the current batch with exponential
// backoff up to opts.MaxRetries, each delay capped at
// opts.MaxRetryDelay. Three consecutive batches that fail to advance
// the cursor raise *types.NoProgressError.
func (e *Executor) ResumableQuery(ctx context.Context, req types.ExecutionRequest, target reflect.Type, opts ResumableQueryOptions) error {
	store := opts.Store
	if store == nil {
		store = cursorstore.NullStore{}
	}

	cursor, _, err := store.Load(ctx, req.Instance, opts.QueryKey)
	if err != nil {
		return err
	}

	noProgressStreak := 0
	for {
		var rows []any
		runBatch := func() error {
			batchReq, err := opts.QueryFor(cursor)
			if err != nil {
				return backoff.Permanent(err)
			}
			batchReq.Instance = req.Instance
			if batchReq.CorrelationID == "" {
				batchReq.CorrelationID = req.CorrelationID
			}

			it, err := e.StreamingQuery(ctx, batchReq, target)
			if err != nil {
				if isTransient(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			defer it.Close()

			rows = rows[:0]
			for it.Next() {
				rows = append(rows, it.Current())
			}
			if err := it.Err(); err != nil {
				if isTransient(err) {
					return err
				}
				return backoff.Permanent(err)
			}
			return nil
		}

		policy := backoff.WithMaxRetries(&backoff.ExponentialBackOff{
			InitialInterval:     200 * time.Millisecond,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         opts.MaxRetryDelay,
			MaxElapsedTime:      0,
			Clock:               backoff.SystemClock,
		}, opts.MaxRetries)

		if err := backoff.Retry(runBatch, backoff.WithContext(policy, ctx)); err != nil {
			return err
		}

		if len(rows) == 0 {
			return nil
		}

		if opts.OnBatch != nil {
			if err := opts.OnBatch(ctx, rows); err != nil {
				return err
			}
		}

		nextCursor, err := opts.NextCursor(rows[len(rows)-1])
		if err != nil {
			return err
		}

		if reflect.DeepEqual(nextCursor, cursor) {
			noProgressStreak++
			if noProgressStreak >= 3 {
				return &types.NoProgressError{Cursor: cursor}
			}
		} else {
			noProgressStreak = 0
		}
		cursor = nextCursor

		if err := store.Save(ctx, req.Instance, opts.QueryKey, cursor); err != nil {
			log.WithError(err).WithField("queryKey", opts.QueryKey).Warn("could not persist resumable query cursor")
		}
	}
}
