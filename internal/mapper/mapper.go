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

// Package mapper builds and caches per-type row materializers, trying a
// fixed strategy order from fastest/most-specific to the reflective
// fallback, and caches compiled struct mappers in a generational cache
// keyed by row signature.
package mapper

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// Factory resolves and caches row materializers per (target type, row
// signature) pair. The zero value is not usable; construct with New.
type Factory struct {
	mu        sync.RWMutex
	di        map[reflect.Type]func(types.Row) (any, error)
	ctors     map[reflect.Type][]Constructor
	namespace *NamespaceRegistry
	cache     *generationalCache
}

// Options configures a Factory.
type Options struct {
	// CacheCapacity bounds the generational cache's combined Gen-0+Gen-1
	// population; 0 selects the default.
	CacheCapacity int
	// Namespace, if non-nil, is consulted as strategy 6 (generated
	// mappers discovered by a one-time namespace scan).
	Namespace *NamespaceRegistry
}

// New constructs a Factory.
func New(opts Options) (*Factory, error) {
	cache, err := newGenerationalCache(opts.CacheCapacity)
	if err != nil {
		return nil, err
	}
	ns := opts.Namespace
	if ns == nil {
		ns = NewNamespaceRegistry()
	}
	return &Factory{
		di:        make(map[reflect.Type]func(types.Row) (any, error)),
		ctors:     make(map[reflect.Type][]Constructor),
		namespace: ns,
		cache:     cache,
	}, nil
}

// RegisterMapper installs a DI-provided materializer for t (strategy 1),
// taking priority over every other strategy.
func (f *Factory) RegisterMapper(t reflect.Type, fn func(types.Row) (any, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.di[t] = fn
}

// RegisterConstructor adds a constructor candidate for t, consulted by
// the runtime-compiled struct mapper's constructor-selection rule.
func (f *Factory) RegisterConstructor(t reflect.Type, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[t] = append(f.ctors[t], ctor)
}

// RowSignature computes the cache key component identifying a row's
// shape: field count plus the ordered, lower-cased column names.
func RowSignature(row types.Row) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d", row.FieldCount())
	for i := 0; i < row.FieldCount(); i++ {
		b.WriteByte('|')
		b.WriteString(strings.ToLower(row.FieldName(i)))
	}
	return b.String()
}

// MaterializerFor resolves the materializer function for target type t
// against the shape of row, trying the strategy chain in order and
// caching the result (for struct types) under the type's row signature.
func (f *Factory) MaterializerFor(t reflect.Type, row types.Row) (func(types.Row) (any, error), error) {
	f.mu.RLock()
	fn, ok := f.di[t]
	f.mu.RUnlock()
	if ok {
		return fn, nil // strategy 1: DI-provided
	}

	if fn, ok := dictionaryMapper(t); ok {
		return fn, nil // strategy 2
	}
	if fn, ok := tabularRowMapper(t); ok {
		return fn, nil // strategy 3
	}
	if fn, ok := scalarMapper(t); ok {
		return fn, nil // strategy 4
	}
	if fn, ok := mappableMapper(t); ok {
		return fn, nil // strategy 5
	}
	if fn, ok := f.namespace.lookup(t); ok {
		return fn, nil // strategy 6
	}

	cacheKey := t.String() + "#" + RowSignature(row)
	if entry, ok := f.cache.get(cacheKey); ok {
		f.cache.recordHit(cacheKey, entry)
		return entry.Materialize, nil
	}

	f.mu.RLock()
	ctors := f.ctors[t]
	f.mu.RUnlock()

	if fn, ok := compileStructMapper(t, row, ctors); ok { // strategy 7
		entry := &types.MapperEntry{RowSignature: cacheKey, Materialize: fn}
		f.cache.put(cacheKey, entry)
		return fn, nil
	}

	return nil, fmt.Errorf("mapper: cannot materialize %s: %w", t.String(), types.ErrNoMaterializer) // strategy 8
}
