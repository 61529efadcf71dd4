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

package strategy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

func TestTransactionalDefaultResolutionModeIsSnapshotOnly(t *testing.T) {
	tx := NewTransactional(fakeQuerier{}, TransactionalOptions{})
	assert.Equal(t, types.SnapshotOnly, tx.DefaultResolutionMode())
}

func TestTransactionalRunPassesTheBoundTargetThrough(t *testing.T) {
	target := fakeQuerier{}
	tx := NewTransactional(target, TransactionalOptions{})

	var got types.TargetQuerier
	err := tx.Run(context.Background(), types.ExecutionRequest{}, func(ctx context.Context, q types.TargetQuerier) error {
		got = q
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestTransactionalRunNeverRetriesAndRethrowsOnSchemaMismatch(t *testing.T) {
	inv := &fakeInvalidator{}
	var healed []int
	calls := 0
	tx := NewTransactional(fakeQuerier{}, TransactionalOptions{
		Schemas: inv,
		OnSchemaSelfHeal: func(instance types.InstanceId, code int) {
			healed = append(healed, code)
		},
	})

	original := &types.TransportError{Code: 201, Cause: assert.AnError}
	err := tx.Run(context.Background(), types.ExecutionRequest{
		Instance:    "east",
		CommandKind: types.CommandStoredProcedure,
		CommandText: "dbo.GetOrders",
	}, func(ctx context.Context, q types.TargetQuerier) error {
		calls++
		return original
	})

	require.Same(t, original, err)
	assert.Equal(t, 1, calls, "Transactional must never retry")
	require.Len(t, inv.invalidated, 1)
	assert.Equal(t, "dbo.GetOrders", inv.invalidated[0].Name)
	assert.Equal(t, []int{201}, healed)
}

func TestTransactionalRunSkipsInvalidationForNonSchemaMismatchErrors(t *testing.T) {
	inv := &fakeInvalidator{}
	tx := NewTransactional(fakeQuerier{}, TransactionalOptions{Schemas: inv})

	err := tx.Run(context.Background(), types.ExecutionRequest{
		CommandKind: types.CommandStoredProcedure,
		CommandText: "dbo.GetOrders",
	}, func(ctx context.Context, q types.TargetQuerier) error {
		return assert.AnError
	})

	assert.Same(t, assert.AnError, err)
	assert.Empty(t, inv.invalidated)
}

func TestTransactionalOpenStreamCloseIsNoOp(t *testing.T) {
	tx := NewTransactional(fakeQuerier{}, TransactionalOptions{})

	stream, err := tx.OpenStream(context.Background(), types.ExecutionRequest{})
	require.NoError(t, err)
	assert.NoError(t, stream.Close())
}
