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

// Package engine wires the connection provider, schema repository and
// service, binder, mapper, and execution strategy into a single
// Executor, mirroring the teacher's wire.NewSet/ProvideXxx convention
// for composing a logical replication loop's dependencies.
package engine

import (
	"context"

	"github.com/google/wire"
	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/binder"
	"github.com/sqlxcore/sqlxcore/internal/chaos"
	"github.com/sqlxcore/sqlxcore/internal/config"
	"github.com/sqlxcore/sqlxcore/internal/connprovider"
	"github.com/sqlxcore/sqlxcore/internal/cursorstore"
	"github.com/sqlxcore/sqlxcore/internal/executor"
	"github.com/sqlxcore/sqlxcore/internal/mapper"
	"github.com/sqlxcore/sqlxcore/internal/memload"
	"github.com/sqlxcore/sqlxcore/internal/schemarepo"
	"github.com/sqlxcore/sqlxcore/internal/schemasvc"
	"github.com/sqlxcore/sqlxcore/internal/strategy"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideProvider,
	ProvideSchemaConnection,
	ProvideRepository,
	ProvideSchemaService,
	ProvideBinder,
	ProvideMapper,
	ProvideRunner,
	ProvideCursorStore,
	ProvideExecutor,
)

// Engine bundles the fully-wired Executor and its cursor store, the two
// collaborators a caller outside this package needs direct access to.
type Engine struct {
	Executor    *executor.Executor
	CursorStore cursorstore.Store
}

// ProvideProvider is called by Wire to build the connection provider
// from the configured alias table.
func ProvideProvider(cfg *config.Config) (*connprovider.Provider, error) {
	aliases, err := cfg.ParsedAliases()
	if err != nil {
		return nil, err
	}
	out := make(map[types.InstanceId]string, len(aliases))
	for k, v := range aliases {
		out[types.InstanceId(k)] = v
	}
	return connprovider.New(out), nil
}

// ProvideSchemaConnection is called by Wire to open the connection the
// schema repository reads the catalog through. The returned cleanup
// closes it.
func ProvideSchemaConnection(
	ctx context.Context, provider *connprovider.Provider, instance types.InstanceId,
) (*types.Connection, func(), error) {
	conn, err := provider.Open(ctx, instance)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening schema-repository connection")
	}
	return conn, func() { _ = conn.Close() }, nil
}

// ProvideRepository is called by Wire.
func ProvideRepository(conn *types.Connection) *schemarepo.Repository {
	return schemarepo.New(conn)
}

// ProvideSchemaService is called by Wire.
func ProvideSchemaService(
	cfg *config.Config, repo *schemarepo.Repository, instance types.InstanceId,
) (*schemasvc.Service, error) {
	aliases, err := cfg.ParsedAliases()
	if err != nil {
		return nil, err
	}
	return schemasvc.New(repo, aliases[string(instance)], schemasvc.Options{
		RefreshInterval: cfg.SchemaRefreshInterval,
		GraceWindow:     cfg.SchemaGraceWindow,
		LockTimeout:     cfg.SchemaLockTimeout,
	}), nil
}

// ProvideBinder is called by Wire.
func ProvideBinder(cfg *config.Config) (*binder.Binder, error) {
	return binder.New(cfg.TvpFactoryCacheSize, nil)
}

// ProvideMapper is called by Wire.
func ProvideMapper(cfg *config.Config) (*mapper.Factory, error) {
	return mapper.New(mapper.Options{CacheCapacity: cfg.MapperCacheCapacity})
}

// ProvideRunner is called by Wire to compose the resilient strategy
// with optional chaos injection.
func ProvideRunner(
	provider *connprovider.Provider, schemas *schemasvc.Service, cfg *config.Config,
) strategy.Runner {
	runner := strategy.NewResilient(provider, strategy.ResilientOptions{Schemas: schemas})
	return chaos.WithChaos(runner, cfg.ChaosProbability)
}

// ProvideCursorStore is called by Wire. An empty DSN selects NullStore.
func ProvideCursorStore(ctx context.Context, cfg *config.Config) (cursorstore.Store, func(), error) {
	if cfg.CursorStoreDSN == "" {
		return cursorstore.NullStore{}, func() {}, nil
	}
	store, err := cursorstore.Open(ctx, cfg.CursorStoreDSN)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening cursor store")
	}
	return store, store.Close, nil
}

// ProvideExecutor is called by Wire.
func ProvideExecutor(runner strategy.Runner, schemas *schemasvc.Service, bind *binder.Binder, mappers *mapper.Factory, cfg *config.Config) *executor.Executor {
	return executor.New(runner, schemas, bind, mappers,
		executor.WithDryRun(cfg.DryRun),
		executor.WithMemoryMonitor(memload.New()),
	)
}
