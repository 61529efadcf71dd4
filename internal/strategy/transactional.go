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

package strategy

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/metrics"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// TransactionalOptions configures a Transactional runner.
type TransactionalOptions struct {
	Schemas SchemaInvalidator
	// OnSchemaSelfHeal is called before the schema-mismatch error is
	// re-thrown, so a caller can still observe the self-heal even though
	// this variant never retries.
	OnSchemaSelfHeal func(instance types.InstanceId, code int)
}

// Transactional runs commands against a single externally supplied
// connection or transaction for the lifetime of the caller's unit of
// work. It never opens or closes a connection itself, never retries,
// and defaults to snapshot-only schema resolution since the caller's
// transaction already fixes a point-in-time view of the catalog.
type Transactional struct {
	target  types.TargetQuerier
	schemas SchemaInvalidator
	onHeal  func(instance types.InstanceId, code int)
}

// NewTransactional constructs a Transactional runner bound to target,
// typically a *sql.Tx or *sql.Conn the caller already holds open.
func NewTransactional(target types.TargetQuerier, opts TransactionalOptions) *Transactional {
	onHeal := opts.OnSchemaSelfHeal
	if onHeal == nil {
		onHeal = func(instance types.InstanceId, code int) {
			metrics.RetryTotal.WithLabelValues(string(instance), "schema").Inc()
		}
	}
	return &Transactional{
		target:  target,
		schemas: opts.Schemas,
		onHeal:  onHeal,
	}
}

// DefaultResolutionMode implements Runner.
func (t *Transactional) DefaultResolutionMode() types.SchemaResolutionMode {
	return types.SnapshotOnly
}

// Run implements Runner: it always runs fn against the bound target,
// never opening a connection and never retrying on failure. A
// schema-mismatch error still invalidates the cached schema entry — so
// the next transaction attempt gets fresh metadata — but is re-thrown
// unchanged so the caller's transaction can roll back.
func (t *Transactional) Run(ctx context.Context, req types.ExecutionRequest, fn func(context.Context, types.TargetQuerier) error) error {
	err := fn(ctx, t.target)
	if err == nil {
		return nil
	}

	var transportErr *types.TransportError
	if errors.As(err, &transportErr) && isSchemaMismatchCode(transportErr.Code) {
		if t.schemas != nil && req.CommandKind == types.CommandStoredProcedure {
			t.schemas.Invalidate(types.CacheKey{
				Name:     ident.NewQualifiedTable(req.CommandText).Raw(),
				Instance: req.Instance,
				Kind:     types.KindProcedure,
			})
		}
		if t.onHeal != nil {
			t.onHeal(req.Instance, transportErr.Code)
		}
	}
	return err
}

// OpenStream implements Runner: the returned StreamConnection wraps the
// same bound target and its Close is a no-op, since Transactional never
// owns the connection it streams over.
func (t *Transactional) OpenStream(ctx context.Context, req types.ExecutionRequest) (StreamConnection, error) {
	return transactionalStream{TargetQuerier: t.target}, nil
}

type transactionalStream struct {
	types.TargetQuerier
}

func (transactionalStream) Close() error { return nil }
