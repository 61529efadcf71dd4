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
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/sqlxcore/sqlxcore/internal/connprovider"
	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/metrics"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// SchemaInvalidator is the subset of *schemasvc.Service the Resilient
// variant needs for its self-healing path.
type SchemaInvalidator interface {
	Invalidate(key types.CacheKey)
}

// SelfHealMetrics records the observability hooks the Resilient variant
// fires on the classification paths; every field is optional.
type SelfHealMetrics struct {
	OnDeadlockRetry  func(instance types.InstanceId)
	OnSchemaSelfHeal func(instance types.InstanceId, code int)
	OnCircuitBreak   func(instance types.InstanceId, code int)
}

// ResilientOptions configures a Resilient runner.
type ResilientOptions struct {
	Schemas SchemaInvalidator
	Metrics SelfHealMetrics
	// BreakerSettings overrides gobreaker's defaults; the zero value
	// selects gobreaker's own tuned defaults.
	BreakerSettings gobreaker.Settings
	// ResolutionMode overrides the default ServiceOnly resolution mode.
	// nil selects the default; SnapshotOnly is itself the iota zero value,
	// so a plain (non-pointer) field could never distinguish "unset" from
	// "explicitly SnapshotOnly".
	ResolutionMode *types.SchemaResolutionMode
}

// Resilient obtains a fresh connection per request and classifies
// transport errors into deadlock-retry, schema-mismatch-self-heal, and
// fast-fail-circuit-break outcomes, cooperating with (but not
// implementing) an external retry pipeline.
type Resilient struct {
	provider *connprovider.Provider
	schemas  SchemaInvalidator
	metrics  SelfHealMetrics
	breaker  *gobreaker.CircuitBreaker
	mode     types.SchemaResolutionMode

	deadlockMu       sync.Mutex
	deadlockPriority map[types.InstanceId]bool
}

// NewResilient constructs a Resilient runner over provider.
func NewResilient(provider *connprovider.Provider, opts ResilientOptions) *Resilient {
	settings := opts.BreakerSettings
	if settings.Name == "" {
		settings.Name = "sqlxcore-resilient"
	}
	mode := types.ServiceOnly
	if opts.ResolutionMode != nil {
		mode = *opts.ResolutionMode
	}
	return &Resilient{
		provider:         provider,
		schemas:          opts.Schemas,
		metrics:          withDefaultMetrics(opts.Metrics),
		breaker:          gobreaker.NewCircuitBreaker(settings),
		mode:             mode,
		deadlockPriority: make(map[types.InstanceId]bool),
	}
}

// DefaultResolutionMode implements Runner.
func (r *Resilient) DefaultResolutionMode() types.SchemaResolutionMode { return r.mode }

// Run implements Runner.
func (r *Resilient) Run(ctx context.Context, req types.ExecutionRequest, fn func(context.Context, types.TargetQuerier) error) error {
	conn, err := r.provider.Open(ctx, req.Instance)
	if err != nil {
		return err
	}
	defer connprovider.Dispose(conn)

	if r.consumeDeadlockPriority(req.Instance) {
		if _, err := conn.ExecContext(ctx, "SET DEADLOCK_PRIORITY HIGH"); err != nil {
			log.WithError(err).WithField("instance", req.Instance).Warn("failed to elevate deadlock priority; proceeding at normal priority")
		}
	}

	_, err = r.breaker.Execute(func() (any, error) {
		return nil, fn(ctx, conn.DB)
	})
	if err != nil {
		return r.classify(req, err)
	}
	return nil
}

// OpenStream implements Runner: the connection returned lives until the
// caller closes it, independent of Run's per-call connection.
func (r *Resilient) OpenStream(ctx context.Context, req types.ExecutionRequest) (StreamConnection, error) {
	conn, err := r.provider.Open(ctx, req.Instance)
	if err != nil {
		return nil, err
	}
	return &resilientStream{Connection: conn}, nil
}

// resilientStream ties the underlying *sql.DB (embedded via
// *types.Connection, which already satisfies types.TargetQuerier) to the
// lifetime of one streaming result; Close disposes the connection back
// through connprovider rather than leaving it to a finalizer.
type resilientStream struct {
	*types.Connection
}

func (s *resilientStream) Close() error {
	connprovider.Dispose(s.Connection)
	return nil
}

// classify applies the Resilient variant's deadlock / schema-mismatch /
// fast-fail classification to a transport-layer error, per the
// documented contract. Non-transport errors pass through unchanged.
func (r *Resilient) classify(req types.ExecutionRequest, err error) error {
	var transportErr *types.TransportError
	if !errors.As(err, &transportErr) {
		return err
	}

	switch {
	case transportErr.Code == codeDeadlockVictim:
		r.markDeadlockPriority(req.Instance)
		if r.metrics.OnDeadlockRetry != nil {
			r.metrics.OnDeadlockRetry(req.Instance)
		}
		return err

	case isSchemaMismatchCode(transportErr.Code):
		if r.schemas != nil && req.CommandKind == types.CommandStoredProcedure {
			r.schemas.Invalidate(types.CacheKey{
				Name:     ident.NewQualifiedTable(req.CommandText).Raw(),
				Instance: req.Instance,
				Kind:     types.KindProcedure,
			})
		}
		if r.metrics.OnSchemaSelfHeal != nil {
			r.metrics.OnSchemaSelfHeal(req.Instance, transportErr.Code)
		}
		return err

	case isFastFailCode(transportErr.Code):
		if r.metrics.OnCircuitBreak != nil {
			r.metrics.OnCircuitBreak(req.Instance, transportErr.Code)
		}
		return types.ErrCircuitBroken

	default:
		return err
	}
}

// withDefaultMetrics fills any unset hook with one that records to the
// shared prometheus counters, so a caller that never sets opts.Metrics
// still gets real telemetry rather than silent classification.
func withDefaultMetrics(m SelfHealMetrics) SelfHealMetrics {
	if m.OnDeadlockRetry == nil {
		m.OnDeadlockRetry = func(instance types.InstanceId) {
			metrics.RetryTotal.WithLabelValues(string(instance), "deadlock").Inc()
		}
	}
	if m.OnSchemaSelfHeal == nil {
		m.OnSchemaSelfHeal = func(instance types.InstanceId, code int) {
			metrics.RetryTotal.WithLabelValues(string(instance), "schema").Inc()
		}
	}
	if m.OnCircuitBreak == nil {
		m.OnCircuitBreak = func(instance types.InstanceId, code int) {
			metrics.RetryTotal.WithLabelValues(string(instance), "fast_fail").Inc()
		}
	}
	return m
}

func (r *Resilient) markDeadlockPriority(instance types.InstanceId) {
	r.deadlockMu.Lock()
	defer r.deadlockMu.Unlock()
	r.deadlockPriority[instance] = true
}

// consumeDeadlockPriority reports and clears whether the next request on
// instance should run with elevated deadlock priority: the elevation
// applies to exactly one retry attempt, not every future call.
func (r *Resilient) consumeDeadlockPriority(instance types.InstanceId) bool {
	r.deadlockMu.Lock()
	defer r.deadlockMu.Unlock()
	if r.deadlockPriority[instance] {
		delete(r.deadlockPriority, instance)
		return true
	}
	return false
}
