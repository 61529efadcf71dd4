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

// Package strategy provides the two connection-and-resilience variants
// the executor runs commands under: Resilient (a fresh connection per
// request, cooperating with an external retry/circuit-breaker pipeline)
// and Transactional (an externally supplied connection/transaction,
// never retried).
package strategy

import (
	"context"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// Runner is the shared surface both variants implement. The executor
// (C7) depends only on this interface, never on the concrete variant.
type Runner interface {
	// Run executes fn against a TargetQuerier selected per this
	// variant's connection-acquisition rule, applying whatever
	// deadlock/self-healing/circuit-breaking behavior the variant
	// defines around the call.
	Run(ctx context.Context, req types.ExecutionRequest, fn func(context.Context, types.TargetQuerier) error) error

	// OpenStream obtains a connection whose lifetime is tied to the
	// returned StreamConnection rather than to a single Run call, for
	// streaming query results that outlive one request/response cycle.
	OpenStream(ctx context.Context, req types.ExecutionRequest) (StreamConnection, error)

	// DefaultResolutionMode is used when an ExecutionRequest does not
	// set ResolutionMode explicitly.
	DefaultResolutionMode() types.SchemaResolutionMode
}

// StreamConnection is a TargetQuerier bound to one streaming result's
// lifetime; Close closes the connection opened for the stream
// (Resilient) or is a no-op (Transactional, which never owns the
// connection it streams over).
type StreamConnection interface {
	types.TargetQuerier
	Close() error
}

// server-specific numeric error codes this package classifies
// TransportError.Code against.
const (
	codeDeadlockVictim = 1205

	codeObjectNotFound         = 201
	codeColumnNotFound         = 207
	codeParameterCountMismatch = 8144

	codeLoginFailed           = 18456
	codeDatabaseNotAccessible = 4060
	codeServerNotFound        = 2812
)

func isSchemaMismatchCode(code int) bool {
	switch code {
	case codeObjectNotFound, codeColumnNotFound, codeParameterCountMismatch:
		return true
	}
	return false
}

func isFastFailCode(code int) bool {
	switch code {
	case codeLoginFailed, codeDatabaseNotAccessible, codeServerNotFound:
		return true
	}
	return false
}
