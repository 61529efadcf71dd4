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
	"sync"
	"time"
)

// batchSizerOptions configures an adaptiveBatchSizer.
type batchSizerOptions struct {
	Initial        int
	Min            int
	Max            int
	TargetDuration time.Duration
	EMAWeight      float64
	OOMFloor       int
}

func defaultBatchOptions() batchSizerOptions {
	return batchSizerOptions{
		Initial:        1000,
		Min:            100,
		Max:            50000,
		TargetDuration: time.Second,
		EMAWeight:      0.3,
		OOMFloor:       100,
	}
}

// adaptiveBatchSizer tracks a rows-per-second exponential moving average
// and re-estimates the next bulk-operation batch size so each batch
// approximates a target duration. All state is guarded by a mutex since
// bulk pipelines observe and read concurrently with flush goroutines.
type adaptiveBatchSizer struct {
	opts batchSizerOptions

	mu          sync.Mutex
	currentSize int
	rowsPerSec  float64
	haveSample  bool
}

func newAdaptiveBatchSizer(opts batchSizerOptions) *adaptiveBatchSizer {
	return &adaptiveBatchSizer{opts: opts, currentSize: opts.Initial}
}

// Size returns the batch size to use for the next chunk, halved when
// monitor reports the process under memory pressure and floored at
// OOMFloor regardless.
func (s *adaptiveBatchSizer) Size(ctx context.Context, monitor memoryMonitor) int {
	s.mu.Lock()
	size := s.currentSize
	s.mu.Unlock()

	if monitor != nil && monitor.IsCritical(ctx) {
		size /= 2
	}
	if size < s.opts.OOMFloor {
		size = s.opts.OOMFloor
	}
	return size
}

// Observe folds one completed batch's throughput into the moving
// average and re-clamps the current size: first to within 20% of its
// prior value, then to [Min, Max].
func (s *adaptiveBatchSizer) Observe(rowsProcessed int, elapsed time.Duration) {
	if rowsProcessed <= 0 || elapsed <= 0 {
		return
	}
	sample := float64(rowsProcessed) / elapsed.Seconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveSample {
		s.rowsPerSec = sample
		s.haveSample = true
	} else {
		s.rowsPerSec = s.opts.EMAWeight*sample + (1-s.opts.EMAWeight)*s.rowsPerSec
	}

	estimate := int(s.rowsPerSec * s.opts.TargetDuration.Seconds())
	if estimate <= 0 {
		return
	}

	lo := s.currentSize * 8 / 10
	hi := s.currentSize * 12 / 10
	if estimate < lo {
		estimate = lo
	}
	if estimate > hi {
		estimate = hi
	}
	if estimate < s.opts.Min {
		estimate = s.opts.Min
	}
	if estimate > s.opts.Max {
		estimate = s.opts.Max
	}
	s.currentSize = estimate
}
