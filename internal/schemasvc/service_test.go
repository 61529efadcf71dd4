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

package schemasvc

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

func newTestService() *Service {
	svc := &Service{
		opts: Options{}.withDefaults(),
		l1:   make(map[types.CacheKey]*entry),
	}
	for i := range svc.stripes {
		svc.stripes[i] = newStripe()
	}
	return svc
}

func TestStripeForIsStableForSameKey(t *testing.T) {
	svc := newTestService()
	key := types.CacheKey{Name: "dbo.GetOrders", Instance: "east", Kind: types.KindProcedure}
	assert.Same(t, svc.stripeFor(key), svc.stripeFor(key))
}

func TestStripeForDistributesAcrossStripes(t *testing.T) {
	svc := newTestService()
	seen := map[*stripe]bool{}
	for i := 0; i < 5000; i++ {
		key := types.CacheKey{Name: fmt.Sprintf("dbo.Proc%d", i), Instance: "east", Kind: types.KindProcedure}
		seen[svc.stripeFor(key)] = true
	}
	assert.Greater(t, len(seen), stripeCount/2, "5000 distinct keys should spread across most of the 1024 stripes")
}

func TestStripeForDistinguishesKind(t *testing.T) {
	svc := newTestService()
	proc := types.CacheKey{Name: "dbo.X", Instance: "east", Kind: types.KindProcedure}
	tvp := types.CacheKey{Name: "dbo.X", Instance: "east", Kind: types.KindTableType}
	// Distinct kinds are not guaranteed distinct stripes by pigeonhole,
	// but the kind byte is part of the hash input and these two keys
	// land on different stripes.
	assert.NotSame(t, svc.stripeFor(proc), svc.stripeFor(tvp))
}

func TestExtendPreservesPayloadAndBumpsDeadline(t *testing.T) {
	original := &entry{version: 7, nextCheckDue: time.Now().Add(-time.Minute)}
	extended := extend(original, time.Minute)

	assert.Equal(t, original.version, extended.version)
	assert.True(t, extended.nextCheckDue.After(time.Now()))
	assert.NotSame(t, original, extended)
}

func TestOptionsWithDefaultsFillsZeroValues(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Positive(t, opts.RefreshInterval)
	assert.Positive(t, opts.GraceWindow)
	assert.Positive(t, opts.LockTimeout)
}

func TestOptionsWithDefaultsPreservesExplicitValues(t *testing.T) {
	opts := Options{RefreshInterval: time.Hour}.withDefaults()
	assert.Equal(t, time.Hour, opts.RefreshInterval)
}

func TestL1GetPutRoundTrip(t *testing.T) {
	svc := newTestService()
	key := types.CacheKey{Name: "dbo.GetOrders", Instance: "east", Kind: types.KindProcedure}

	assert.Nil(t, svc.l1Get(key))

	e := &entry{version: 3}
	svc.l1Put(key, e)
	assert.Same(t, e, svc.l1Get(key))
}

func TestOnChangeFiresRegisteredHooks(t *testing.T) {
	svc := newTestService()

	var got []types.VersionToken
	svc.OnChange(func(kind types.SchemaKind, name string, oldVersion, newVersion types.VersionToken) {
		got = append(got, oldVersion, newVersion)
	})

	svc.fireHooks(types.KindProcedure, "dbo.GetOrders", 1, 2)
	assert.Equal(t, []types.VersionToken{1, 2}, got)
}

func TestInvalidateEvictsL1AndIsSafeWithoutL2(t *testing.T) {
	svc := newTestService()
	key := types.CacheKey{Name: "dbo.GetOrders", Instance: "east", Kind: types.KindProcedure}
	svc.l1Put(key, &entry{version: 3})

	svc.Invalidate(key)
	assert.Nil(t, svc.l1Get(key))
}

func TestOnChangePanickingHookDoesNotBlockOthers(t *testing.T) {
	svc := newTestService()

	called := false
	svc.OnChange(func(kind types.SchemaKind, name string, oldVersion, newVersion types.VersionToken) {
		panic("boom")
	})
	svc.OnChange(func(kind types.SchemaKind, name string, oldVersion, newVersion types.VersionToken) {
		called = true
	})

	assert.NotPanics(t, func() { svc.fireHooks(types.KindProcedure, "dbo.X", 0, 1) })
	assert.True(t, called)
}
