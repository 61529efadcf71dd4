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

// Package chaos injects synthetic failures into an execution strategy
// for resilience testing, without touching the strategy it wraps.
package chaos

import (
	"context"
	"database/sql"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/strategy"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// ErrChaos is the error injected by WithChaos.
var ErrChaos = errors.New("chaos")

// WithChaos wraps delegate with a strategy.Runner that injects ErrChaos
// before Run and OpenStream with probability prob. delegate is returned
// unwrapped if prob is zero or negative.
func WithChaos(delegate strategy.Runner, prob float32) strategy.Runner {
	if prob <= 0 {
		return delegate
	}
	return &chaosRunner{delegate: delegate, prob: prob}
}

// This could hold a *rand.Rand, but once Run is called concurrently
// from multiple goroutines there is no hope of repeatable injection
// sequences anyway.
type chaosRunner struct {
	delegate strategy.Runner
	prob     float32
}

var _ strategy.Runner = (*chaosRunner)(nil)

func (r *chaosRunner) Run(ctx context.Context, req types.ExecutionRequest, fn func(context.Context, types.TargetQuerier) error) error {
	if rand.Float32() < r.prob {
		return doChaos("Run")
	}
	return r.delegate.Run(ctx, req, fn)
}

func (r *chaosRunner) OpenStream(ctx context.Context, req types.ExecutionRequest) (strategy.StreamConnection, error) {
	if rand.Float32() < r.prob {
		return nil, doChaos("OpenStream")
	}
	stream, err := r.delegate.OpenStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &chaosStream{delegate: stream, prob: r.prob}, nil
}

func (r *chaosRunner) DefaultResolutionMode() types.SchemaResolutionMode {
	return r.delegate.DefaultResolutionMode()
}

// chaosStream fails ExecContext and QueryContext calls on the wrapped
// stream at the same rate as the runner that opened it, so a long-lived
// streaming result gets a chance to be disrupted mid-flight rather than
// only at open time. QueryRowContext, which has no error return, is not
// gated. Close is not gated either: it always delegates, so chaos never
// leaks a connection.
type chaosStream struct {
	// Don't embed, we want the compiler to break on new interface methods.
	delegate strategy.StreamConnection
	prob     float32
}

var _ strategy.StreamConnection = (*chaosStream)(nil)

func (s *chaosStream) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if rand.Float32() < s.prob {
		return nil, doChaos("ExecContext")
	}
	return s.delegate.ExecContext(ctx, query, args...)
}

func (s *chaosStream) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if rand.Float32() < s.prob {
		return nil, doChaos("QueryContext")
	}
	return s.delegate.QueryContext(ctx, query, args...)
}

func (s *chaosStream) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.delegate.QueryRowContext(ctx, query, args...)
}

func (s *chaosStream) Close() error { return s.delegate.Close() }

// doChaos is a convenient place to set a breakpoint.
func doChaos(msg string) error {
	return errors.WithMessage(ErrChaos, msg)
}
