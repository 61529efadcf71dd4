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

package executor

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandBuilderArgsPreserveFirstSetOrder(t *testing.T) {
	cmd := newCommandBuilder()
	require.NoError(t, cmd.SetParameter("b", 2))
	require.NoError(t, cmd.SetParameter("a", 1))
	require.NoError(t, cmd.SetParameter("b", 20))

	args := cmd.Args()
	require.Len(t, args, 2)
	assert.Equal(t, "b", args[0].(sql.NamedArg).Name)
	assert.Equal(t, 20, args[0].(sql.NamedArg).Value)
	assert.Equal(t, "a", args[1].(sql.NamedArg).Name)
}

func TestCommandBuilderWrapsStructuredParametersInTVP(t *testing.T) {
	cmd := newCommandBuilder()
	require.NoError(t, cmd.SetParameterTypeName("rows", "dbo.OrderRows"))
	require.NoError(t, cmd.SetParameter("rows", "payload"))

	args := cmd.Args()
	require.Len(t, args, 1)
	assert.Equal(t, "rows", args[0].(sql.NamedArg).Name)
}

func TestCommandBuilderDeclareOutputOverridesPriorValue(t *testing.T) {
	cmd := newCommandBuilder()
	require.NoError(t, cmd.SetParameter("total", 0))
	cmd.declareOutput("total", false)

	args := cmd.Args()
	require.Len(t, args, 1)
	out, ok := args[0].(sql.NamedArg).Value.(sql.Out)
	require.True(t, ok)
	assert.False(t, out.In)
}

func TestCommandBuilderDeclareOutputInoutCarriesForwardInputValue(t *testing.T) {
	cmd := newCommandBuilder()
	require.NoError(t, cmd.SetParameter("status", "pending"))
	dest := cmd.declareOutput("status", true)
	assert.Equal(t, "pending", *dest)
}

func TestCommandBuilderReadbackOntoMap(t *testing.T) {
	cmd := newCommandBuilder()
	dest := cmd.declareOutput("total", false)
	*dest = int64(42)

	params := map[string]any{}
	require.NoError(t, cmd.readback(params))
	assert.Equal(t, int64(42), params["total"])
}

type readbackTarget struct {
	Total int64
}

func TestCommandBuilderReadbackOntoStructFieldCaseInsensitive(t *testing.T) {
	cmd := newCommandBuilder()
	dest := cmd.declareOutput("TOTAL", false)
	*dest = int64(7)

	target := &readbackTarget{}
	require.NoError(t, cmd.readback(target))
	assert.Equal(t, int64(7), target.Total)
}

func TestCommandBuilderReadbackIsNoOpWhenNoOutputsDeclared(t *testing.T) {
	cmd := newCommandBuilder()
	require.NoError(t, cmd.SetParameter("a", 1))
	assert.NoError(t, cmd.readback(nil))
}

func TestCommandBuilderReadbackErrorsOnIncompatibleType(t *testing.T) {
	cmd := newCommandBuilder()
	dest := cmd.declareOutput("total", false)
	*dest = "not-a-number"

	target := &readbackTarget{}
	err := cmd.readback(target)
	assert.Error(t, err)
}
