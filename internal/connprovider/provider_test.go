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

package connprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

func TestResolveAdHocTakesPriority(t *testing.T) {
	p := New(nil)
	literal := types.InstanceId("sqlserver://literal-loses")
	require.NoError(t, p.Register(literal, "sqlserver://adhoc-wins"))

	cs, err := p.resolve(literal)
	require.NoError(t, err)
	assert.Equal(t, "sqlserver://adhoc-wins", cs)
}

func TestResolveLiteralConnectionString(t *testing.T) {
	p := New(nil)
	literal := types.InstanceId("Server=localhost;Database=orders;")

	cs, err := p.resolve(literal)
	require.NoError(t, err)
	assert.Equal(t, string(literal), cs)
}

func TestResolveConfiguredAlias(t *testing.T) {
	p := New(map[types.InstanceId]string{"reporting": "sqlserver://reporting-host"})

	cs, err := p.resolve("reporting")
	require.NoError(t, err)
	assert.Equal(t, "sqlserver://reporting-host", cs)
}

func TestResolveUnknownInstanceFails(t *testing.T) {
	p := New(nil)

	_, err := p.resolve("does-not-exist")
	require.Error(t, err)

	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, types.InstanceId("does-not-exist"), cfgErr.Instance)
}

func TestRegisterRejectsDuplicateAdHoc(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("east", "sqlserver://first"))

	err := p.Register("east", "sqlserver://second")
	require.Error(t, err)
}

func TestRegisterRejectsShadowingConfiguredAlias(t *testing.T) {
	p := New(map[types.InstanceId]string{"east": "sqlserver://configured"})

	err := p.Register("east", "sqlserver://shadow")
	require.Error(t, err)
}

func TestUnregisterAllowsReRegistration(t *testing.T) {
	p := New(nil)
	require.NoError(t, p.Register("east", "sqlserver://first"))

	p.Unregister("east")

	require.NoError(t, p.Register("east", "sqlserver://second"))
	cs, err := p.resolve("east")
	require.NoError(t, err)
	assert.Equal(t, "sqlserver://second", cs)
}

func TestDisposeNilConnectionIsNoOp(t *testing.T) {
	assert.NotPanics(t, func() { Dispose(nil) })
	assert.NotPanics(t, func() { Dispose(&types.Connection{}) })
}
