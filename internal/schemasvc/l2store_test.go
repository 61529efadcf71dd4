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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

func TestIsolationKeyDeterministicAndDistinct(t *testing.T) {
	a := isolationKey("sqlserver://host-a")
	b := isolationKey("sqlserver://host-b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, isolationKey("sqlserver://host-a"))
}

func TestL2StoreLoadMissingFileIsEmptyNotError(t *testing.T) {
	store := newL2Store(t.TempDir(), "sqlserver://host-a")
	all, err := store.load()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestL2StorePublishThenLoadRoundTrips(t *testing.T) {
	store := newL2Store(t.TempDir(), "sqlserver://host-a")

	key := types.CacheKey{Name: "dbo.GetOrders", Instance: "east", Kind: types.KindProcedure}
	ps := &types.ProcedureSchema{
		Name:     ident.NewQualifiedTable("dbo.GetOrders"),
		Instance: "east",
		Version:  42,
		Parameters: []types.ParameterMetadata{
			{Name: "CustomerId", DatabaseType: "int", Ordinal: 1},
		},
		ObservedAt: time.Now(),
	}
	snap := entrySnapshot{
		Key:          key,
		Procedure:    toProcedureSnapshot(ps),
		NextCheckDue: time.Now().Add(5 * time.Minute).UnixNano(),
	}

	require.NoError(t, store.publish(map[types.CacheKey]entrySnapshot{key: snap}))

	loaded, err := store.load()
	require.NoError(t, err)
	require.Contains(t, loaded, key)

	got := loaded[key].Procedure.toProcedureSchema()
	assert.Equal(t, ps.Name.Raw(), got.Name.Raw())
	assert.Equal(t, ps.Version, got.Version)
	require.Len(t, got.Parameters, 1)
	assert.Equal(t, "CustomerId", got.Parameters[0].Name)
}

func TestL2StorePublishOverwritesPriorSnapshot(t *testing.T) {
	store := newL2Store(t.TempDir(), "sqlserver://host-a")
	key := types.CacheKey{Name: "dbo.P", Instance: "east", Kind: types.KindProcedure}

	first := entrySnapshot{Key: key, Procedure: &procedureSnapshot{Name: "dbo.P", Version: 1}}
	require.NoError(t, store.publish(map[types.CacheKey]entrySnapshot{key: first}))

	second := entrySnapshot{Key: key, Procedure: &procedureSnapshot{Name: "dbo.P", Version: 2}}
	require.NoError(t, store.publish(map[types.CacheKey]entrySnapshot{key: second}))

	loaded, err := store.load()
	require.NoError(t, err)
	assert.Equal(t, types.VersionToken(2), loaded[key].Procedure.Version)
}
