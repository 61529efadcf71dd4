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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeMonitor struct{ critical bool }

func (f fakeMonitor) IsCritical(context.Context) bool { return f.critical }

func TestAdaptiveBatchSizerObserveClampsToTwentyPercentWindow(t *testing.T) {
	s := newAdaptiveBatchSizer(batchSizerOptions{
		Initial: 1000, Min: 1, Max: 1000000,
		TargetDuration: time.Second, EMAWeight: 0.3, OOMFloor: 1,
	})

	// A batch running far faster than target would naively push the
	// estimate to 10x the current size; the clamp limits it to +20%.
	s.Observe(10000, time.Second)
	assert.Equal(t, 1200, s.currentSize)
}

func TestAdaptiveBatchSizerObserveHonorsMin(t *testing.T) {
	s := newAdaptiveBatchSizer(batchSizerOptions{
		Initial: 1000, Min: 1100, Max: 5000,
		TargetDuration: time.Second, EMAWeight: 1, OOMFloor: 1,
	})
	s.Observe(1000, time.Second)
	assert.Equal(t, 1100, s.currentSize)
}

func TestAdaptiveBatchSizerObserveHonorsMax(t *testing.T) {
	s := newAdaptiveBatchSizer(batchSizerOptions{
		Initial: 1000, Min: 1, Max: 1150,
		TargetDuration: time.Second, EMAWeight: 1, OOMFloor: 1,
	})
	s.Observe(100000, time.Second)
	assert.Equal(t, 1150, s.currentSize)
}

func TestAdaptiveBatchSizerSizeHalvesUnderMemoryPressure(t *testing.T) {
	s := newAdaptiveBatchSizer(batchSizerOptions{Initial: 1000, Min: 100, Max: 5000, OOMFloor: 100})
	assert.Equal(t, 500, s.Size(context.Background(), fakeMonitor{critical: true}))
	assert.Equal(t, 1000, s.Size(context.Background(), fakeMonitor{critical: false}))
}

func TestAdaptiveBatchSizerSizeNeverGoesBelowOOMFloor(t *testing.T) {
	s := newAdaptiveBatchSizer(batchSizerOptions{Initial: 150, Min: 1, Max: 5000, OOMFloor: 100})
	assert.Equal(t, 100, s.Size(context.Background(), fakeMonitor{critical: true}))
}

func TestAdaptiveBatchSizerObserveIgnoresEmptyBatches(t *testing.T) {
	s := newAdaptiveBatchSizer(defaultBatchOptions())
	s.Observe(0, time.Second)
	s.Observe(100, 0)
	assert.Equal(t, defaultBatchOptions().Initial, s.currentSize)
}
