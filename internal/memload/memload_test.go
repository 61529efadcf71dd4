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

package memload

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFactorReturnsAPlausibleRatio(t *testing.T) {
	s := New()
	ratio, err := s.LoadFactor(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ratio, 0.0)
}

func TestLoadFactorCachesWithinSampleInterval(t *testing.T) {
	s := New()
	first, err := s.LoadFactor(context.Background())
	require.NoError(t, err)

	sampledAt := s.sampledAt
	second, err := s.LoadFactor(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, sampledAt, s.sampledAt, "a second call within the cache window must not re-sample")
}

func TestLoadFactorResamplesAfterInterval(t *testing.T) {
	s := New()
	_, err := s.LoadFactor(context.Background())
	require.NoError(t, err)

	s.sampledAt = time.Now().Add(-2 * sampleInterval)
	before := s.sampledAt
	_, err = s.LoadFactor(context.Background())
	require.NoError(t, err)
	assert.True(t, s.sampledAt.After(before))
}

func TestIsCriticalTreatsSamplingErrorAsNonCritical(t *testing.T) {
	s := &Sampler{
		pid:       -1,
		sampledAt: time.Now(),
		lastErr:   assert.AnError,
	}
	// Force a cache miss so sample() runs against an invalid pid.
	s.sampledAt = time.Time{}
	assert.False(t, s.IsCritical(context.Background()))
}
