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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlxcore/sqlxcore/internal/ident"
)

func TestTempTableCounterNeverRepeatsWithinAProcess(t *testing.T) {
	c := newTempTableCounter()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		name := c.Next()
		assert.False(t, seen[name], "duplicate temp table name %q", name)
		seen[name] = true
		assert.True(t, strings.HasPrefix(name, "#"))
	}
}

func TestDedupRowsByKeyKeepsLastOccurrence(t *testing.T) {
	rows := [][]any{
		{1, "first"},
		{2, "only"},
		{1, "second"},
		{1, "third"},
	}
	deduped := dedupRowsByKey(rows, 1)

	byKey := make(map[any]string, len(deduped))
	for _, r := range deduped {
		byKey[r[0]] = r[1].(string)
	}
	assert.Len(t, deduped, 2)
	assert.Equal(t, "third", byKey[1])
	assert.Equal(t, "only", byKey[2])
}

func TestDedupRowsByKeyHandlesCompositeKeys(t *testing.T) {
	rows := [][]any{
		{1, "a", "x"},
		{1, "b", "y"},
		{1, "a", "z"},
	}
	deduped := dedupRowsByKey(rows, 2)
	assert.Len(t, deduped, 2)
}

func TestDedupRowsByKeyNoOpWhenKeyColumnCountIsZero(t *testing.T) {
	rows := [][]any{{1}, {1}, {2}}
	assert.Len(t, dedupRowsByKey(rows, 0), 3)
}

func TestQuotedColumnListBracketsEveryColumn(t *testing.T) {
	got := quotedColumnList([]string{"Id", "Order Date"})
	assert.Equal(t, "[Id], [Order Date]", got)
}

func TestJoinConditionAndsEveryKeyColumn(t *testing.T) {
	got := joinCondition("target", "source", []string{"Id", "TenantId"})
	assert.Equal(t, "target.[Id] = source.[Id] AND target.[TenantId] = source.[TenantId]", got)
}

func TestMergeStatementUpdatesOnlyValueColumns(t *testing.T) {
	table := ident.NewQualifiedTable("dbo.Orders")
	staging := ident.NewTable(ident.Schema{}, ident.New("#stage"))

	stmt := mergeStatement(table, staging, []string{"Id"}, []string{"Status", "Total"})
	assert.Contains(t, stmt, "MERGE [dbo].[Orders] AS target USING [#stage] AS source")
	assert.Contains(t, stmt, "ON target.[Id] = source.[Id]")
	assert.Contains(t, stmt, "target.[Status] = source.[Status]")
	assert.Contains(t, stmt, "target.[Total] = source.[Total]")
}

func TestDeleteJoinStatementJoinsOnKeyColumns(t *testing.T) {
	table := ident.NewQualifiedTable("dbo.Orders")
	staging := ident.NewTable(ident.Schema{}, ident.New("#stage"))

	stmt := deleteJoinStatement(table, staging, []string{"Id"})
	assert.Contains(t, stmt, "DELETE target FROM [dbo].[Orders] AS target")
	assert.Contains(t, stmt, "INNER JOIN [#stage] AS source ON target.[Id] = source.[Id]")
}
