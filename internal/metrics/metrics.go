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

// Package metrics defines the prometheus instrumentation shared across
// the engine's components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets covers sub-millisecond round trips through multi-second
// bulk operations.
var LatencyBuckets = []float64{
	.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
}

// InstanceLabels is the label set shared by every per-instance counter
// and histogram below.
var InstanceLabels = []string{"instance"}

var (
	ConnectionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_opened_total",
		Help: "the number of fresh connections opened by the connection provider",
	}, InstanceLabels)
	ConnectionOpenErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_open_errors_total",
		Help: "the number of connection attempts that failed to open or ping",
	}, InstanceLabels)
	ConnectionOpenDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connection_open_duration_seconds",
		Help:    "the length of time it took to open, ping, and detect the product of a connection",
		Buckets: LatencyBuckets,
	}, InstanceLabels)

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "command_duration_seconds",
		Help:    "the length of time it took to run a command through the executor",
		Buckets: LatencyBuckets,
	}, []string{"instance", "kind"})
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "command_errors_total",
		Help: "the number of commands that returned an error",
	}, []string{"instance", "kind"})

	RetryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_total",
		Help: "the number of retry-eligible conditions observed, by classification",
	}, []string{"instance", "kind"}) // kind: deadlock, schema, fast_fail

	SchemaRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_refresh_total",
		Help: "the number of schema repository round trips performed on a cache miss or self-heal",
	}, []string{"kind"}) // kind: procedure, tvp
	SchemaRefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "schema_refresh_errors_total",
		Help: "the number of schema repository round trips that failed",
	}, []string{"kind"})

	BulkRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bulk_rows_total",
		Help: "the number of rows processed by a bulk insert, update, delete, or pipeline operation",
	}, []string{"instance", "operation"})
	BulkBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bulk_batch_size",
		Help:    "the adaptive batch size chosen for a bulk insert batch",
		Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, InstanceLabels)

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "the number of cache lookups that found an entry",
	}, []string{"cache", "tier"})
	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "the number of cache lookups that found nothing and triggered a rebuild",
	}, []string{"cache", "tier"})

	ResumableQueryStuckBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resumable_query_stuck_batches_total",
		Help: "the number of consecutive no-progress batches observed by a resumable query",
	}, InstanceLabels)
)
