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
	"math/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

const defaultGenerationalCacheCap = 4096

// generationalCache is the two-tier compiled-mapper cache: a short-lived
// Gen-0 map holding newly compiled entries, and a long-lived Gen-1 tier
// entries are promoted into on their second hit. When the combined
// population reaches cap, Gen-0 is pruned by unweighted random sampling
// rather than LRU bookkeeping, bounding cleanup to at most two passes
// over Gen-0 instead of a full recency ranking.
type generationalCache struct {
	mu   sync.Mutex
	cap  int
	gen0 map[string]*types.MapperEntry
	gen1 *lru.Cache[string, *types.MapperEntry]
}

func newGenerationalCache(capacity int) (*generationalCache, error) {
	if capacity <= 0 {
		capacity = defaultGenerationalCacheCap
	}
	gen1, err := lru.New[string, *types.MapperEntry](capacity)
	if err != nil {
		return nil, errors.Wrap(err, "constructing generational mapper cache")
	}
	return &generationalCache{
		cap:  capacity,
		gen0: make(map[string]*types.MapperEntry),
		gen1: gen1,
	}, nil
}

func (g *generationalCache) get(key string) (*types.MapperEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.gen1.Get(key); ok {
		return e, true
	}
	if e, ok := g.gen0[key]; ok {
		return e, true
	}
	return nil, false
}

// recordHit bumps an entry's hit counter and promotes it to Gen-1 on its
// second hit, per the generational cache's promotion rule.
func (g *generationalCache) recordHit(key string, e *types.MapperEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e.Hits++
	if e.Hits >= 2 {
		if _, stillGen0 := g.gen0[key]; stillGen0 {
			delete(g.gen0, key)
			g.gen1.Add(key, e)
		}
	}
}

func (g *generationalCache) put(key string, e *types.MapperEntry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen0[key] = e
	g.pruneIfNeededLocked()
}

func (g *generationalCache) pruneIfNeededLocked() {
	if len(g.gen0)+g.gen1.Len() < g.cap {
		return
	}
	removed := pruneRandomHalf(g.gen0)
	if removed == 0 || removed == len(g.gen0)+removed {
		// Corrective second pass when an unlucky sample removed nothing
		// or removed everything. After removing nothing, one more pass
		// removes about half of Gen-0; after removing everything, Gen-0
		// is empty and the second pass has nothing to act on.
		pruneRandomHalf(g.gen0)
	}
}

// pruneRandomHalf removes each key from m independently with probability
// 0.5 and returns the number removed.
func pruneRandomHalf(m map[string]*types.MapperEntry) int {
	if len(m) == 0 {
		return 0
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	removed := 0
	for _, k := range keys {
		if rand.Float64() < 0.5 {
			delete(m, k)
			removed++
		}
	}
	return removed
}
