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

// Package config holds the process-level configuration for the engine,
// bound from command-line flags and layered with environment/file
// overrides.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the user-visible, process-level configuration for the
// engine: connection aliases, schema cache tuning, bulk defaults, and
// the optional chaos/cursor-store collaborators.
type Config struct {
	// ConnectionAliases maps an instance id to a connection string, for
	// instances not registered ad hoc at runtime. Entries are
	// "alias=connection-string" pairs.
	ConnectionAliases []string

	SchemaRefreshInterval time.Duration
	SchemaGraceWindow     time.Duration
	SchemaLockTimeout     time.Duration
	MapperCacheCapacity   int
	TvpFactoryCacheSize   int

	// BulkTargetBatchDuration, BulkMinBatchSize and BulkMaxBatchSize are
	// bound and checked by Preflight, but the engine does not hand them
	// to the executor: its bulk-insert sizer always runs with its
	// built-in bounds.
	BulkTargetBatchDuration time.Duration
	BulkMinBatchSize        int
	BulkMaxBatchSize        int

	// ResumableMaxRetries and ResumableBackoffCeiling are bound and
	// checked by Preflight only; ResumableQuery takes its retry limit and
	// delay ceiling from the options passed to each call.
	ResumableMaxRetries     int
	ResumableBackoffCeiling time.Duration

	DryRun bool

	CursorStoreDSN string

	// ChaosProbability injects synthetic failures into the execution
	// strategy at this rate when non-zero; zero disables chaos entirely.
	ChaosProbability float32
}

// Bind registers every flag this Config exposes.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringArrayVar(&c.ConnectionAliases, "connAlias", nil,
		"an instance=connectionString pair; may be repeated")

	flags.DurationVar(&c.SchemaRefreshInterval, "schemaRefreshInterval", 5*time.Minute,
		"how often a cached schema entry is proactively revalidated")
	flags.DurationVar(&c.SchemaGraceWindow, "schemaGraceWindow", 30*time.Second,
		"how long a cached schema entry is extended when its refresh fails or its refresh lock times out")
	flags.DurationVar(&c.SchemaLockTimeout, "schemaLockTimeout", 10*time.Second,
		"how long to wait for the cross-process schema publication lock")
	flags.IntVar(&c.MapperCacheCapacity, "mapperCacheCapacity", 4096,
		"combined Gen-0/Gen-1 capacity of the result mapper cache")
	flags.IntVar(&c.TvpFactoryCacheSize, "tvpFactoryCacheSize", 1024,
		"capacity of the table-valued-parameter payload factory cache")

	flags.DurationVar(&c.BulkTargetBatchDuration, "bulkTargetBatchDuration", time.Second,
		"target wall-clock duration the adaptive bulk-insert sizer aims for per batch")
	flags.IntVar(&c.BulkMinBatchSize, "bulkMinBatchSize", 100,
		"floor on the adaptive bulk-insert batch size")
	flags.IntVar(&c.BulkMaxBatchSize, "bulkMaxBatchSize", 50000,
		"ceiling on the adaptive bulk-insert batch size")

	flags.IntVar(&c.ResumableMaxRetries, "resumableMaxRetries", 5,
		"maximum transient-error retries for a resumable query batch")
	flags.DurationVar(&c.ResumableBackoffCeiling, "resumableBackoffCeiling", 30*time.Second,
		"ceiling on the exponential backoff delay between resumable query retries")

	flags.BoolVar(&c.DryRun, "dryRun", false,
		"skip write commands and bulk/pipeline writes; useful for validating a migration plan")

	flags.StringVar(&c.CursorStoreDSN, "cursorStoreDSN", "",
		"a postgres-family connection string for persisting resumable-query cursors; empty disables persistence")

	flags.Float32Var(&c.ChaosProbability, "chaosProbability", 0,
		"inject synthetic failures into the execution strategy at this rate; 0 disables chaos")
}

// Preflight validates the configuration, returning the first problem it
// finds. It does not fill in or change any field.
func (c *Config) Preflight() error {
	for _, pair := range c.ConnectionAliases {
		if _, _, ok := strings.Cut(pair, "="); !ok {
			return errors.Errorf("connAlias %q is not in instance=connectionString form", pair)
		}
	}

	if c.SchemaRefreshInterval <= 0 {
		return errors.New("schemaRefreshInterval must be positive")
	}
	if c.SchemaGraceWindow < 0 {
		return errors.New("schemaGraceWindow must not be negative")
	}
	if c.SchemaLockTimeout <= 0 {
		return errors.New("schemaLockTimeout must be positive")
	}
	if c.MapperCacheCapacity <= 0 {
		return errors.New("mapperCacheCapacity must be positive")
	}
	if c.TvpFactoryCacheSize <= 0 {
		return errors.New("tvpFactoryCacheSize must be positive")
	}

	if c.BulkMinBatchSize <= 0 {
		return errors.New("bulkMinBatchSize must be positive")
	}
	if c.BulkMaxBatchSize < c.BulkMinBatchSize {
		return errors.New("bulkMaxBatchSize must not be less than bulkMinBatchSize")
	}
	if c.BulkTargetBatchDuration <= 0 {
		return errors.New("bulkTargetBatchDuration must be positive")
	}

	if c.ResumableMaxRetries < 0 {
		return errors.New("resumableMaxRetries must not be negative")
	}
	if c.ResumableBackoffCeiling <= 0 {
		return errors.New("resumableBackoffCeiling must be positive")
	}

	if c.ChaosProbability < 0 || c.ChaosProbability > 1 {
		return errors.New("chaosProbability must be within [0,1]")
	}

	return nil
}

// ParsedAliases splits each "instance=connectionString" entry bound by
// Bind into a map, failing only if Preflight was skipped and an entry
// is malformed.
func (c *Config) ParsedAliases() (map[string]string, error) {
	out := make(map[string]string, len(c.ConnectionAliases))
	for _, pair := range c.ConnectionAliases {
		instance, cs, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Errorf("connAlias %q is not in instance=connectionString form", pair)
		}
		out[instance] = cs
	}
	return out, nil
}

// Layer applies the overrides v holds (SQLXCORE_-prefixed environment
// variables, plus any config file the caller has already read into v)
// to every flag not set on the command line, so they reach the Config
// that Bind populated.
func Layer(v *viper.Viper, flags *pflag.FlagSet) error {
	v.SetEnvPrefix("SQLXCORE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := v.BindPFlags(flags); err != nil {
		return errors.Wrap(err, "could not bind flags to the configuration layer")
	}
	var setErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if setErr != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := flags.Set(f.Name, v.GetString(f.Name)); err != nil {
			setErr = errors.Wrapf(err, "could not apply override for %s", f.Name)
		}
	})
	return setErr
}
