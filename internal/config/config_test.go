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

package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bound() (*Config, *pflag.FlagSet) {
	c := &Config{}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Bind(flags)
	return c, flags
}

func TestBindPopulatesDefaults(t *testing.T) {
	c, flags := bound()
	require.NoError(t, flags.Parse(nil))

	assert.Equal(t, 5*time.Minute, c.SchemaRefreshInterval)
	assert.Equal(t, 4096, c.MapperCacheCapacity)
	assert.Equal(t, 100, c.BulkMinBatchSize)
	assert.Equal(t, 50000, c.BulkMaxBatchSize)
	assert.False(t, c.DryRun)
}

func TestPreflightRejectsMalformedConnAlias(t *testing.T) {
	c, flags := bound()
	require.NoError(t, flags.Parse([]string{"--connAlias=not-a-pair"}))
	assert.Error(t, c.Preflight())
}

func TestPreflightAcceptsWellFormedConnAlias(t *testing.T) {
	c, flags := bound()
	require.NoError(t, flags.Parse([]string{"--connAlias=east=sqlserver://host"}))
	require.NoError(t, c.Preflight())

	aliases, err := c.ParsedAliases()
	require.NoError(t, err)
	assert.Equal(t, "sqlserver://host", aliases["east"])
}

func TestPreflightRejectsInvertedBatchSizeBounds(t *testing.T) {
	c, _ := bound()
	c.SchemaRefreshInterval = time.Minute
	c.SchemaLockTimeout = time.Second
	c.MapperCacheCapacity = 1
	c.TvpFactoryCacheSize = 1
	c.BulkTargetBatchDuration = time.Second
	c.ResumableBackoffCeiling = time.Second
	c.BulkMinBatchSize = 1000
	c.BulkMaxBatchSize = 10

	assert.Error(t, c.Preflight())
}

func TestPreflightRejectsOutOfRangeChaosProbability(t *testing.T) {
	c, _ := bound()
	c.SchemaRefreshInterval = time.Minute
	c.SchemaLockTimeout = time.Second
	c.MapperCacheCapacity = 1
	c.TvpFactoryCacheSize = 1
	c.BulkTargetBatchDuration = time.Second
	c.BulkMinBatchSize = 1
	c.BulkMaxBatchSize = 10
	c.ResumableBackoffCeiling = time.Second
	c.ChaosProbability = 1.5

	assert.Error(t, c.Preflight())
}

func TestPreflightAcceptsDefaultsUnmodified(t *testing.T) {
	c, flags := bound()
	require.NoError(t, flags.Parse(nil))
	assert.NoError(t, c.Preflight())
}
