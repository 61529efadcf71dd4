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

// Package cursorstore persists the last cursor a resumable query
// reached, so a restarted process can resume rather than rescan.
package cursorstore

import (
	"bytes"
	"context"
	"encoding/gob"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// Store persists and retrieves resumable-query cursors, keyed by
// instance and a caller-chosen query key (typically the procedure or
// query name).
type Store interface {
	// Save persists cursor under (instance, queryKey), overwriting any
	// previous value.
	Save(ctx context.Context, instance types.InstanceId, queryKey string, cursor any) error
	// Load returns the last persisted cursor, or ok=false if none has
	// been saved yet.
	Load(ctx context.Context, instance types.InstanceId, queryKey string) (cursor any, ok bool, err error)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sqlxcore_resumable_cursors (
	instance  text NOT NULL,
	query_key text NOT NULL,
	cursor    bytea NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (instance, query_key)
)`

// PgxStore is a Store backed by a pgx connection pool, repurposing the
// pattern the teacher uses for its staging pool: a pooled, pgx-native
// connection opened once at startup and shared across every save/load
// call.
type PgxStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PgxStore)(nil)

// Open connects to the staging database and ensures the cursor table
// exists.
func Open(ctx context.Context, connString string) (*PgxStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, errors.Wrap(err, "could not open cursor store pool")
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "could not ensure cursor store schema")
	}
	return &PgxStore{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *PgxStore) Close() { s.pool.Close() }

// Save implements Store.
func (s *PgxStore) Save(ctx context.Context, instance types.InstanceId, queryKey string, cursor any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&cursor); err != nil {
		return errors.Wrap(err, "could not encode cursor")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sqlxcore_resumable_cursors (instance, query_key, cursor, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (instance, query_key) DO UPDATE
		SET cursor = EXCLUDED.cursor, updated_at = now()`,
		string(instance), queryKey, buf.Bytes())
	if err != nil {
		return errors.Wrap(err, "could not persist cursor")
	}
	return nil
}

// Load implements Store.
func (s *PgxStore) Load(ctx context.Context, instance types.InstanceId, queryKey string) (any, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT cursor FROM sqlxcore_resumable_cursors
		WHERE instance = $1 AND query_key = $2`,
		string(instance), queryKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "could not load cursor")
	}

	var cursor any
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cursor); err != nil {
		return nil, false, errors.Wrap(err, "could not decode cursor")
	}
	return cursor, true, nil
}

// NullStore is a no-op Store for callers that have not configured a
// cursor backend: Save silently discards, Load always reports a miss,
// so the resumable query behaves as a from-scratch scan.
type NullStore struct{}

var _ Store = NullStore{}

func (NullStore) Save(ctx context.Context, instance types.InstanceId, queryKey string, cursor any) error {
	log.WithField("queryKey", queryKey).Debug("cursor store not configured; discarding cursor")
	return nil
}

func (NullStore) Load(ctx context.Context, instance types.InstanceId, queryKey string) (any, bool, error) {
	return nil, false, nil
}
