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

// Package connprovider resolves an InstanceId to a live connection,
// trying an ad-hoc registration map, then a literal connection-string
// prefix, then a configured alias table, in that order.
package connprovider

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	_ "github.com/microsoft/go-mssqldb" // registers the "sqlserver" driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// knownPrefixes lists the literal connection-string prefixes that
// resolve() recognizes as "the InstanceId value is itself a connection
// string", rather than an alias to look up.
var knownPrefixes = []string{"sqlserver://", "Server=", "server=", "Data Source="}

// Option configures a connection opened through Provider.Open.
type Option func(*sql.DB)

// WithMaxOpenConns bounds the pool's concurrent connections.
func WithMaxOpenConns(n int) Option {
	return func(db *sql.DB) { db.SetMaxOpenConns(n) }
}

// WithMaxIdleConns bounds the pool's idle connections.
func WithMaxIdleConns(n int) Option {
	return func(db *sql.DB) { db.SetMaxIdleConns(n) }
}

// Provider resolves InstanceId values to Connections. It is safe for
// concurrent use.
type Provider struct {
	adHoc   sync.Map // InstanceId -> string (connection string)
	aliases map[types.InstanceId]string
	opts    []Option
}

// New constructs a Provider over a fixed, process-lifetime alias table
// (typically loaded from configuration). Ad-hoc registrations may still
// be added and removed afterward.
func New(aliases map[types.InstanceId]string, opts ...Option) *Provider {
	if aliases == nil {
		aliases = map[types.InstanceId]string{}
	}
	return &Provider{aliases: aliases, opts: opts}
}

// Register adds an ad-hoc, process-lifetime InstanceId -> connection
// string mapping. It fails if the id is already registered, ad-hoc or
// otherwise, to avoid silently shadowing an existing endpoint.
func (p *Provider) Register(id types.InstanceId, connectionString string) error {
	if _, exists := p.aliases[id]; exists {
		return &types.ConfigurationError{Instance: id, Reason: "duplicate registration: id is already a configured alias"}
	}
	if _, loaded := p.adHoc.LoadOrStore(id, connectionString); loaded {
		return &types.ConfigurationError{Instance: id, Reason: "duplicate registration: id is already registered ad-hoc"}
	}
	return nil
}

// Unregister removes a prior ad-hoc registration. It is a no-op if the
// id was never registered.
func (p *Provider) Unregister(id types.InstanceId) {
	p.adHoc.Delete(id)
}

// resolve implements the three-tier resolution order: ad-hoc map,
// literal connection-string prefix, configured alias map.
func (p *Provider) resolve(id types.InstanceId) (string, error) {
	if v, ok := p.adHoc.Load(id); ok {
		return v.(string), nil
	}
	raw := string(id)
	for _, prefix := range knownPrefixes {
		if strings.HasPrefix(raw, prefix) {
			return raw, nil
		}
	}
	if cs, ok := p.aliases[id]; ok {
		return cs, nil
	}
	return "", &types.ConfigurationError{Instance: id, Reason: "no ad-hoc registration, literal connection string, or configured alias matched"}
}

// Open resolves instanceID to a connection string and opens it,
// disposing of any partially constructed *sql.DB before returning on
// error (fail-fast semantics).
func (p *Provider) Open(ctx context.Context, instanceID types.InstanceId) (*types.Connection, error) {
	connStr, err := p.resolve(instanceID)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, errors.Wrapf(err, "opening connection for instance %q", instanceID)
	}
	for _, opt := range p.opts {
		opt(db)
	}

	if err := db.PingContext(ctx); err != nil {
		closeErr := db.Close()
		if closeErr != nil {
			log.WithError(closeErr).Warn("failed to dispose of partially opened connection")
		}
		return nil, errors.Wrapf(err, "pinging instance %q", instanceID)
	}

	product, version, err := detectProduct(ctx, db)
	if err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("failed to dispose of connection after product detection failure")
		}
		return nil, errors.Wrapf(err, "detecting product for instance %q", instanceID)
	}

	return &types.Connection{
		DB: db,
		PoolInfo: types.PoolInfo{
			ConnectionString: connStr,
			Product:          product,
			Version:          version,
			Instance:         instanceID,
		},
	}, nil
}

func detectProduct(ctx context.Context, db *sql.DB) (types.Product, string, error) {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT @@VERSION").Scan(&version); err != nil {
		return types.ProductUnknown, "", err
	}
	product := types.ProductSQLServer
	switch {
	case strings.Contains(version, "Azure SQL Edge"), strings.Contains(version, "Azure SQL Database"):
		product = types.ProductAzureSQL
	case strings.Contains(version, "Analytics Platform System"), strings.Contains(version, "Synapse"):
		product = types.ProductAzureSynapse
	}
	return product, version, nil
}

// Dispose closes a connection obtained from Open, logging (rather than
// propagating) a close failure so it never masks the original failure
// path that triggered disposal.
func Dispose(conn *types.Connection) {
	if conn == nil || conn.DB == nil {
		return
	}
	if err := conn.Close(); err != nil {
		log.WithError(err).WithField("instance", conn.Instance).Warn("error closing connection")
	}
}
