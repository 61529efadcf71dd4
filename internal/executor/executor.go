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

// Package executor composes the connection strategy, the schema service,
// the binder, and the mapper factory into the five operation shapes a
// caller actually invokes: streaming query, single-row query, scalar,
// non-query, and multi-result-set, plus the bulk and resumable-query
// operations built on top of them.
package executor

import (
	"context"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sqlxcore/sqlxcore/internal/binder"
	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/mapper"
	"github.com/sqlxcore/sqlxcore/internal/metrics"
	"github.com/sqlxcore/sqlxcore/internal/strategy"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// OperationKind distinguishes the five shapes an Executor call can take.
type OperationKind int

const (
	OpStreamingQuery OperationKind = iota
	OpSingleRowQuery
	OpScalar
	OpNonQuery
	OpMultiResultSet
)

func (k OperationKind) String() string {
	switch k {
	case OpStreamingQuery:
		return "streaming_query"
	case OpSingleRowQuery:
		return "single_row_query"
	case OpScalar:
		return "scalar"
	case OpNonQuery:
		return "non_query"
	case OpMultiResultSet:
		return "multi_result_set"
	default:
		return "unknown"
	}
}

// SchemaResolver is the subset of *schemasvc.Service the executor needs
// to fetch authoritative parameter/column metadata before binding.
type SchemaResolver interface {
	Procedure(ctx context.Context, name ident.Table, instance types.InstanceId) (*types.ProcedureSchema, error)
	Tvp(ctx context.Context, name ident.Table, instance types.InstanceId) (*types.TvpSchema, error)
}

// InterceptorContext is the mutable state passed through the pre/post
// interceptor chains for a single call.
type InterceptorContext struct {
	Request types.ExecutionRequest
	Kind    OperationKind

	// Suppress, when set by a pre-execute interceptor, skips the actual
	// command execution entirely and returns MockResult instead. It
	// exists for testing.
	Suppress   bool
	MockResult any

	Result   any
	Err      error
	Duration time.Duration
}

// PreInterceptor runs before a command executes. Returning an error
// aborts the call.
type PreInterceptor func(ctx context.Context, ic *InterceptorContext) error

// PostInterceptor runs after a command executes (successfully or not).
type PostInterceptor func(ctx context.Context, ic *InterceptorContext) error

// Executor composes C1-C6 into the five operation shapes plus the bulk
// and resumable-query operations built on top of them.
type Executor struct {
	runner  strategy.Runner
	schemas SchemaResolver
	binder  *binder.Binder
	mappers *mapper.Factory

	pre  PreInterceptor
	post PostInterceptor

	dryRun         bool
	correlationGen func() string

	batch   *adaptiveBatchSizer
	monitor memoryMonitor

	tempTableSeq *tempTableCounter
}

// memoryMonitor is the subset of *memload.Sampler the bulk-insert
// adaptive sizer consults for its pressure signal.
type memoryMonitor interface {
	IsCritical(ctx context.Context) bool
}

// noopMonitor never reports memory pressure; used when no monitor is
// configured.
type noopMonitor struct{}

func (noopMonitor) IsCritical(context.Context) bool { return false }

// Option configures an Executor at construction.
type Option func(*Executor)

// WithInterceptors installs an ordered list of pre- and post-execute
// interceptors, composed once at construction into a single delegate
// per direction.
func WithInterceptors(pre []PreInterceptor, post []PostInterceptor) Option {
	return func(e *Executor) {
		e.pre = buildPreChain(pre)
		e.post = buildPostChain(post)
	}
}

// WithDryRun enables or disables dry-run mode.
func WithDryRun(enabled bool) Option {
	return func(e *Executor) { e.dryRun = enabled }
}

// WithMemoryMonitor installs the collaborator the adaptive bulk-insert
// sizer consults for its memory-pressure signal.
func WithMemoryMonitor(m memoryMonitor) Option {
	return func(e *Executor) {
		if m != nil {
			e.monitor = m
		}
	}
}

// WithBatchSizer overrides the default adaptive batch sizer, mainly for
// tests that want deterministic sizing.
func WithBatchSizer(s *adaptiveBatchSizer) Option {
	return func(e *Executor) {
		if s != nil {
			e.batch = s
		}
	}
}

// WithCorrelationIDFunc overrides how correlation ids are generated when
// a request does not already carry one. Mainly for deterministic tests.
func WithCorrelationIDFunc(fn func() string) Option {
	return func(e *Executor) {
		if fn != nil {
			e.correlationGen = fn
		}
	}
}

// New constructs an Executor over the given collaborators.
func New(runner strategy.Runner, schemas SchemaResolver, bind *binder.Binder, mappers *mapper.Factory, opts ...Option) *Executor {
	e := &Executor{
		runner:         runner,
		schemas:        schemas,
		binder:         bind,
		mappers:        mappers,
		correlationGen: func() string { return uuid.NewString() },
		monitor:        noopMonitor{},
		batch:          newAdaptiveBatchSizer(defaultBatchOptions()),
		tempTableSeq:   newTempTableCounter(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pre == nil {
		e.pre = buildPreChain(nil)
	}
	if e.post == nil {
		e.post = buildPostChain(nil)
	}
	return e
}

// isWriteCommand reports whether text is a data-modifying statement
// (INSERT/UPDATE/DELETE/MERGE), case-insensitively, ignoring leading
// whitespace. Dry-run mode skips these.
func isWriteCommand(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, verb := range []string{"INSERT", "UPDATE", "DELETE", "MERGE"} {
		if len(trimmed) >= len(verb) && strings.EqualFold(trimmed[:len(verb)], verb) {
			return true
		}
	}
	return false
}

// correlationID returns req's correlation id, generating one if absent.
func (e *Executor) correlationID(req types.ExecutionRequest) string {
	if req.CorrelationID != "" {
		return req.CorrelationID
	}
	return e.correlationGen()
}

// resolutionMode returns the effective resolution mode for req: the
// request's override if set, otherwise the strategy's own default.
func (e *Executor) resolutionMode(req types.ExecutionRequest) types.SchemaResolutionMode {
	if req.ResolutionMode != nil {
		return *req.ResolutionMode
	}
	return e.runner.DefaultResolutionMode()
}

// resolveSchema fetches the authoritative procedure schema for req when
// it names a stored procedure and the resolution mode calls for a
// lookup. A lookup failure under SnapshotOnly is fatal (there is no
// network fallback available); under every other mode it is logged and
// binding proceeds schema-less.
func (e *Executor) resolveSchema(ctx context.Context, req types.ExecutionRequest) (*types.ProcedureSchema, error) {
	if req.CommandKind != types.CommandStoredProcedure {
		return nil, nil
	}
	mode := e.resolutionMode(req)
	if mode == types.None {
		return nil, nil
	}

	schema, err := e.schemas.Procedure(ctx, ident.NewQualifiedTable(req.CommandText), req.Instance)
	if err != nil {
		if mode == types.SnapshotOnly {
			return nil, err
		}
		log.WithError(err).WithField("instance", req.Instance).Warn("schema fetch failed; proceeding without authoritative parameter metadata")
		return nil, nil
	}
	return schema, nil
}

// bindParameters binds req.Parameters onto cmd using schema when
// available, falling back to inference-only binding otherwise.
func (e *Executor) bindParameters(cmd types.Command, req types.ExecutionRequest, schema *types.ProcedureSchema) error {
	values, err := paramValues(req.Parameters)
	if err != nil {
		return err
	}

	if schema == nil {
		for name, v := range values {
			if err := e.binder.BindRaw(cmd, name, v, ""); err != nil {
				return err
			}
		}
		return nil
	}

	for _, meta := range schema.Parameters {
		v := values[strings.ToLower(meta.Name)]
		if err := e.binder.Bind(cmd, meta, v, true); err != nil {
			return err
		}
	}
	return nil
}

// paramValues normalizes req.Parameters (a struct, a map[string]any, or
// nil) into a lower-cased-key map for uniform lookup.
func paramValues(parameters any) (map[string]any, error) {
	out := make(map[string]any)
	if parameters == nil {
		return out, nil
	}

	if m, ok := parameters.(map[string]any); ok {
		for k, v := range m {
			out[strings.ToLower(k)] = v
		}
		return out, nil
	}

	rv := reflect.ValueOf(parameters)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return out, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, errors.Errorf("executor: parameters must be a struct, map[string]any, or nil, got %T", parameters)
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" {
			continue
		}
		out[strings.ToLower(f.Name)] = rv.Field(i).Interface()
	}
	return out, nil
}

// wrapNonSQLError wraps err with the command's execution context unless
// it is already a transport (SQL-layer) error, the circuit-broken
// sentinel, or a context cancellation or deadline error; those pass
// through unchanged so the resilience pipeline and the caller can
// classify or recognize them.
func wrapNonSQLError(req types.ExecutionRequest, err error) error {
	if err == nil {
		return nil
	}
	var transportErr *types.TransportError
	if errors.As(err, &transportErr) {
		return err
	}
	if errors.Is(err, types.ErrCircuitBroken) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &types.CommandExecutionFailedError{
		Context: types.NewCommandContext(req.Instance, req.CommandText, req.CorrelationID),
		Cause:   err,
	}
}

// runOp executes body under the pre/post interceptor chain and standard
// duration/error recording, honoring Suppress.
func (e *Executor) runOp(ctx context.Context, req types.ExecutionRequest, kind OperationKind, body func(ctx context.Context) (any, error)) (any, error) {
	ic := &InterceptorContext{Request: req, Kind: kind}

	if err := e.pre(ctx, ic); err != nil {
		return nil, err
	}
	if ic.Suppress {
		return ic.MockResult, nil
	}

	start := time.Now()
	result, err := body(ctx)
	ic.Duration = time.Since(start)
	ic.Result = result
	ic.Err = err

	metrics.CommandDuration.WithLabelValues(string(req.Instance), kind.String()).Observe(ic.Duration.Seconds())
	if err != nil {
		metrics.CommandErrors.WithLabelValues(string(req.Instance), kind.String()).Inc()
	}

	if postErr := e.post(ctx, ic); postErr != nil && err == nil {
		err = postErr
	}

	if err != nil {
		return nil, wrapNonSQLError(req, err)
	}
	return ic.Result, nil
}
