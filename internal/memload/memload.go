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

// Package memload reports the process's memory pressure for the bulk
// insert adaptive batch sizer, sampling at most twice a second.
package memload

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	sampleInterval = 500 * time.Millisecond
	// pressureThreshold is the live-set/total-available ratio above
	// which the bulk insert sizer halves its batch-size estimate.
	pressureThreshold = 0.8
)

// Sampler reports memory pressure, caching gopsutil samples for
// sampleInterval so a hot bulk-insert loop does not re-read
// /proc on every batch.
type Sampler struct {
	pid int32

	mu        sync.Mutex
	sampledAt time.Time
	lastRatio float64
	lastErr   error
}

// New returns a Sampler for the current process.
func New() *Sampler {
	return &Sampler{pid: int32(os.Getpid())}
}

// LoadFactor returns the live-set/total-available memory ratio, caching
// the underlying gopsutil sample for up to 500ms.
func (s *Sampler) LoadFactor(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.sampledAt) < sampleInterval {
		return s.lastRatio, s.lastErr
	}

	ratio, err := s.sample(ctx)
	s.sampledAt = time.Now()
	s.lastRatio, s.lastErr = ratio, err
	return ratio, err
}

// IsCritical reports whether the current load factor exceeds
// pressureThreshold. A sampling error is treated as non-critical: the
// bulk sizer should degrade gracefully, not stall, when memory
// telemetry is unavailable.
func (s *Sampler) IsCritical(ctx context.Context) bool {
	ratio, err := s.LoadFactor(ctx)
	if err != nil {
		return false
	}
	return ratio > pressureThreshold
}

func (s *Sampler) sample(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "could not sample system memory")
	}
	if vm.Total == 0 {
		return 0, errors.New("system reported zero total memory")
	}

	proc, err := process.NewProcessWithContext(ctx, s.pid)
	if err != nil {
		return 0, errors.Wrap(err, "could not open process handle for memory sampling")
	}
	info, err := proc.MemInfoWithContext(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "could not sample process RSS")
	}

	return float64(info.RSS) / float64(vm.Total), nil
}
