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

package mapper

import (
	"reflect"
	"sync"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// NamespaceRegistry stands in for a generated-code namespace scan: callers
// (normally `init()` functions in generated `_mapper.go` files) register a
// materializer for a type ahead of time; the registry is frozen on first
// lookup so later registrations are a programming error rather than a
// race, matching the "one-time scan, then frozen map" contract.
type NamespaceRegistry struct {
	mu     sync.Mutex
	frozen bool
	byType map[reflect.Type]func(types.Row) (any, error)
}

// NewNamespaceRegistry constructs an empty, unfrozen registry.
func NewNamespaceRegistry() *NamespaceRegistry {
	return &NamespaceRegistry{byType: make(map[reflect.Type]func(types.Row) (any, error))}
}

// Register installs a generated materializer for t. Panics if called
// after the registry has been frozen by a lookup, since that would mean a
// generated-code package registered itself after materialization had
// already begun relying on the frozen set.
func (r *NamespaceRegistry) Register(t reflect.Type, fn func(types.Row) (any, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("mapper: NamespaceRegistry.Register called after the registry was frozen by a lookup")
	}
	r.byType[t] = fn
}

// lookup freezes the registry (if not already) and returns the
// materializer for t, if any was registered.
func (r *NamespaceRegistry) lookup(t reflect.Type) (func(types.Row) (any, error), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
	fn, ok := r.byType[t]
	return fn, ok
}
