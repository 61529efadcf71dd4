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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

func TestIsTransientRecognizesKnownCodes(t *testing.T) {
	for _, code := range []int{-2, 53, 233, 1205} {
		err := &types.TransportError{Code: code, Cause: assert.AnError}
		assert.True(t, isTransient(err), "code %d", code)
	}
}

func TestIsTransientRejectsUnknownCodeOrPlainError(t *testing.T) {
	assert.False(t, isTransient(&types.TransportError{Code: 999, Cause: assert.AnError}))
	assert.False(t, isTransient(assert.AnError))
}
