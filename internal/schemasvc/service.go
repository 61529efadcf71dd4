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

// Package schemasvc maintains the two-tier, cross-process-coordinated
// schema cache in front of internal/schemarepo: an in-process L1 map
// and an mmap-backed L2 region, refreshed under 1024-way striped locks
// with singleflight-deduplicated misses.
package schemasvc

import (
	"context"
	"hash/fnv"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/schemarepo"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

const stripeCount = 1024

// ChangeHook is invoked, best-effort, whenever a refresh replaces a
// cached entry with a different version token.
type ChangeHook func(kind types.SchemaKind, name string, oldVersion, newVersion types.VersionToken)

// Options configures a Service.
type Options struct {
	// RefreshInterval is the time-to-live extension granted on an
	// unchanged version token.
	RefreshInterval time.Duration
	// GraceWindow is the shorter extension granted when the repository
	// call fails but a prior entry exists, or when the striped lock
	// cannot be acquired before LockTimeout.
	GraceWindow time.Duration
	// LockTimeout bounds how long a refresh waits to acquire its stripe.
	LockTimeout time.Duration
	// CacheDir, when non-empty, enables the mmap-backed L2 tier under
	// this directory. Empty disables L2; the service runs L1-only.
	CacheDir string
	// MutexScope selects the cross-process coordination strategy for L2
	// publication.
	MutexScope MutexScope
	// WarmupConcurrency overrides the default min(GOMAXPROCS, pending)
	// bound on warm-up fan-out. Zero means "use the default".
	WarmupConcurrency int
}

func (o Options) withDefaults() Options {
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 5 * time.Minute
	}
	if o.GraceWindow <= 0 {
		o.GraceWindow = 30 * time.Second
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 2 * time.Second
	}
	return o
}

// entry is the L1-resident cache record for one catalog object.
type entry struct {
	procedure    *types.ProcedureSchema
	tvp          *types.TvpSchema
	version      types.VersionToken
	nextCheckDue time.Time
}

func (e *entry) snapshot(key types.CacheKey) entrySnapshot {
	return entrySnapshot{
		Key:          key,
		Procedure:    toProcedureSnapshot(e.procedure),
		Tvp:          toTvpSnapshot(e.tvp),
		NextCheckDue: e.nextCheckDue.UnixNano(),
	}
}

func fromSnapshot(s entrySnapshot) *entry {
	return &entry{
		procedure:    s.Procedure.toProcedureSchema(),
		tvp:          s.Tvp.toTvpSchema(),
		version:      snapshotVersion(s),
		nextCheckDue: time.Unix(0, s.NextCheckDue),
	}
}

func snapshotVersion(s entrySnapshot) types.VersionToken {
	if s.Procedure != nil {
		return s.Procedure.Version
	}
	if s.Tvp != nil {
		return s.Tvp.Version
	}
	return 0
}

// stripe pairs a try-lock-with-timeout semaphore (a single-token
// channel, rather than sync.Mutex, so a timed-out acquisition attempt
// never leaks a goroutine blocked forever on Lock) with the
// singleflight group that dedupes concurrent refreshes for the stripe.
type stripe struct {
	sem   chan struct{}
	group singleflight.Group
}

func newStripe() stripe {
	sem := make(chan struct{}, 1)
	sem <- struct{}{}
	return stripe{sem: sem}
}

func (st *stripe) tryLock(timeout time.Duration) bool {
	select {
	case <-st.sem:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (st *stripe) unlock() {
	st.sem <- struct{}{}
}

// Service is the schema cache. It is safe for concurrent use.
type Service struct {
	repo    *schemarepo.Repository
	opts    Options
	l2      *l2Store
	procMtx *procMutex

	l1mu sync.RWMutex
	l1   map[types.CacheKey]*entry

	stripes [stripeCount]stripe

	hooksMu sync.RWMutex
	hooks   []ChangeHook
}

// New constructs a Service over a repository and connection string (the
// latter is only used to derive the L2 isolation key).
func New(repo *schemarepo.Repository, connectionString string, opts Options) *Service {
	opts = opts.withDefaults()
	svc := &Service{
		repo: repo,
		opts: opts,
		l1:   make(map[types.CacheKey]*entry),
	}
	for i := range svc.stripes {
		svc.stripes[i] = newStripe()
	}
	if opts.CacheDir != "" {
		svc.l2 = newL2Store(opts.CacheDir, connectionString)
		svc.procMtx = newProcMutex(opts.MutexScope, opts.CacheDir, isolationKey(connectionString))
	} else {
		log.Debug("schema cache L2 tier disabled: no cache directory configured")
	}
	return svc
}

// OnChange registers a best-effort change hook.
func (s *Service) OnChange(h ChangeHook) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *Service) fireHooks(kind types.SchemaKind, name string, oldVersion, newVersion types.VersionToken) {
	s.hooksMu.RLock()
	hooks := append([]ChangeHook(nil), s.hooks...)
	s.hooksMu.RUnlock()

	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("panic", r).Warn("schema change hook panicked, ignoring")
				}
			}()
			h(kind, name, oldVersion, newVersion)
		}()
	}
}

func (s *Service) stripeFor(key types.CacheKey) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.Name))
	_, _ = h.Write([]byte(key.Instance))
	_, _ = h.Write([]byte{byte(key.Kind)})
	return &s.stripes[h.Sum32()%stripeCount]
}

// Procedure resolves a stored procedure's schema, refreshing through
// the striped-lock/singleflight path on a cache miss or staleness.
func (s *Service) Procedure(ctx context.Context, name ident.Table, instance types.InstanceId) (*types.ProcedureSchema, error) {
	key := types.CacheKey{Name: name.Raw(), Instance: instance, Kind: types.KindProcedure}
	e, err := s.resolve(ctx, key, func(ctx context.Context) (*entry, error) {
		ps, err := s.repo.ProcedureMetadata(ctx, name, instance)
		if err != nil {
			return nil, err
		}
		return &entry{procedure: ps, version: ps.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	return e.procedure, nil
}

// Tvp resolves a table type's schema, refreshing through the same path.
func (s *Service) Tvp(ctx context.Context, name ident.Table, instance types.InstanceId) (*types.TvpSchema, error) {
	key := types.CacheKey{Name: name.Raw(), Instance: instance, Kind: types.KindTableType}
	e, err := s.resolve(ctx, key, func(ctx context.Context) (*entry, error) {
		ts, err := s.repo.TvpMetadata(ctx, name, instance)
		if err != nil {
			return nil, err
		}
		return &entry{tvp: ts, version: ts.Version}, nil
	})
	if err != nil {
		return nil, err
	}
	return e.tvp, nil
}

// resolve implements the version-token contract: L1 check, L2 check,
// then a striped, singleflight-deduplicated refresh.
func (s *Service) resolve(ctx context.Context, key types.CacheKey, fetch func(context.Context) (*entry, error)) (*entry, error) {
	now := time.Now()

	if e := s.l1Get(key); e != nil && now.Before(e.nextCheckDue) {
		return e, nil
	}

	if s.l2 != nil {
		if e := s.l2Get(key); e != nil && now.Before(e.nextCheckDue) {
			s.l1Put(key, e)
			return e, nil
		}
	}

	st := s.stripeFor(key)
	v, err, _ := st.group.Do(key.Name+"|"+string(key.Instance), func() (any, error) {
		return s.refreshLocked(ctx, st, key, fetch)
	})
	if err != nil {
		return nil, err
	}
	return v.(*entry), nil
}

func (s *Service) refreshLocked(ctx context.Context, st *stripe, key types.CacheKey, fetch func(context.Context) (*entry, error)) (*entry, error) {
	if !st.tryLock(s.opts.LockTimeout) {
		// Lock acquisition failure degrades to the last-known-good
		// schema extended by the grace window; this never happens if
		// no prior entry exists, since we'd have nothing to serve.
		if e := s.l1Get(key); e != nil {
			log.WithField("key", key.Name).Warn("striped lock acquisition timed out, serving grace-extended schema")
			extended := extend(e, s.opts.GraceWindow)
			s.l1Put(key, extended)
			return extended, nil
		}
		return nil, errors.Errorf("timed out acquiring schema refresh lock for %q and no cached entry to fall back to", key.Name)
	}
	defer st.unlock()

	now := time.Now()
	if e := s.l1Get(key); e != nil && now.Before(e.nextCheckDue) {
		return e, nil
	}

	fresh, err := fetch(ctx)
	if err != nil {
		if prior := s.l1Get(key); prior != nil {
			log.WithError(err).WithField("key", key.Name).Warn("schema repository refresh failed, extending prior entry by grace window")
			extended := extend(prior, s.opts.GraceWindow)
			s.l1Put(key, extended)
			return extended, nil
		}
		return nil, err
	}

	prior := s.l1Get(key)
	if prior != nil && prior.version == fresh.version {
		extended := extend(prior, s.opts.RefreshInterval)
		s.l1Put(key, extended)
		return extended, nil
	}

	fresh.nextCheckDue = now.Add(s.opts.RefreshInterval)
	s.l1Put(key, fresh)
	if s.l2 != nil {
		if err := s.publishL2(key, fresh); err != nil {
			log.WithError(err).WithField("key", key.Name).Warn("failed to publish schema to L2 region")
		}
	}

	var oldVersion types.VersionToken
	if prior != nil {
		oldVersion = prior.version
	}
	s.fireHooks(key.Kind, key.Name, oldVersion, fresh.version)

	return fresh, nil
}

func extend(e *entry, by time.Duration) *entry {
	clone := *e
	clone.nextCheckDue = time.Now().Add(by)
	return &clone
}

func (s *Service) l1Get(key types.CacheKey) *entry {
	s.l1mu.RLock()
	defer s.l1mu.RUnlock()
	return s.l1[key]
}

func (s *Service) l1Put(key types.CacheKey, e *entry) {
	s.l1mu.Lock()
	defer s.l1mu.Unlock()
	s.l1[key] = e
}

func (s *Service) l2Get(key types.CacheKey) *entry {
	all, err := s.l2.load()
	if err != nil {
		log.WithError(err).Warn("failed to load L2 schema region, treating as miss")
		return nil
	}
	snap, ok := all[key]
	if !ok {
		return nil
	}
	return fromSnapshot(snap)
}

func (s *Service) publishL2(key types.CacheKey, e *entry) error {
	if err := s.procMtx.Lock(s.opts.LockTimeout); err != nil {
		return err
	}
	defer s.procMtx.Unlock()

	all, err := s.l2.load()
	if err != nil {
		return err
	}
	all[key] = e.snapshot(key)
	return s.l2.publish(all)
}

// Invalidate evicts key from both cache tiers, forcing the next
// Procedure/Tvp call for it to perform a fresh repository round trip.
// The execution strategy calls this on a schema-mismatch error before
// retrying, per its self-healing contract.
func (s *Service) Invalidate(key types.CacheKey) {
	s.l1mu.Lock()
	delete(s.l1, key)
	s.l1mu.Unlock()

	if s.l2 == nil {
		return
	}
	if err := s.procMtx.Lock(s.opts.LockTimeout); err != nil {
		log.WithError(err).Warn("failed to acquire cross-process lock while invalidating schema; L2 entry may still serve stale data until its own TTL expires")
		return
	}
	defer s.procMtx.Unlock()

	all, err := s.l2.load()
	if err != nil {
		return
	}
	if _, ok := all[key]; !ok {
		return
	}
	delete(all, key)
	if err := s.l2.publish(all); err != nil {
		log.WithError(err).Warn("failed to publish invalidated schema to L2 region")
	}
}

// Warmup populates both tiers from one repository Bulk call (two round
// trips, filtered by the include/exclude patterns only), bounded to
// min(GOMAXPROCS, pending) concurrent publications unless overridden.
func (s *Service) Warmup(ctx context.Context, schema ident.Schema, instance types.InstanceId, include, exclude []string) error {
	bulk, err := s.repo.Bulk(ctx, schema, instance, include, exclude)
	if err != nil {
		return errors.Wrap(err, "warm-up bulk fetch")
	}

	type task struct {
		key types.CacheKey
		e   *entry
	}
	var pending []task
	now := time.Now()
	for name, ps := range bulk.Procedures {
		pending = append(pending, task{
			key: types.CacheKey{Name: name, Instance: instance, Kind: types.KindProcedure},
			e:   &entry{procedure: ps, version: ps.Version, nextCheckDue: now.Add(s.opts.RefreshInterval)},
		})
	}
	for name, ts := range bulk.TableTypes {
		pending = append(pending, task{
			key: types.CacheKey{Name: name, Instance: instance, Kind: types.KindTableType},
			e:   &entry{tvp: ts, version: ts.Version, nextCheckDue: now.Add(s.opts.RefreshInterval)},
		})
	}
	if len(pending) == 0 {
		return nil
	}

	limit := s.opts.WarmupConcurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	if limit > len(pending) {
		limit = len(pending)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, t := range pending {
		t := t
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			s.l1Put(t.key, t.e)
			if s.l2 != nil {
				if err := s.publishL2(t.key, t.e); err != nil {
					log.WithError(err).WithField("key", t.key.Name).Warn("warm-up failed to publish schema to L2 region")
				}
			}
			return nil
		})
	}
	return g.Wait()
}
