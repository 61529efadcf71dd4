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

package binder

import (
	"strings"
	"unicode"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// nullDecision is what bind should do once it has classified a value
// against the null policy.
type nullDecision int

const (
	// proceedWithValue means the value is non-nil, or nil is acceptable
	// and should be bound as SQL NULL explicitly.
	proceedWithValue nullDecision = iota
	// skipBinding means the parameter should not be set at all, letting
	// the database's own default apply.
	skipBinding
)

// classifyNull implements the parameter null policy. isNil reports
// whether the caller's value was nil/zero-for-the-purpose-of-null.
func classifyNull(meta types.ParameterMetadata, isNil, strict bool) (nullDecision, error) {
	if !isNil {
		return proceedWithValue, nil
	}
	if meta.Direction != types.DirectionInput && meta.Direction != types.DirectionInputOutput {
		return proceedWithValue, nil
	}
	if meta.HasDefault {
		return skipBinding, nil
	}
	if strict && !meta.IsNullable {
		return proceedWithValue, &types.RequiredParameterMissingError{ParameterName: meta.Name}
	}
	return proceedWithValue, nil
}

// sanitizeString applies the control/whitespace policy and truncates to
// maxLength when set (maxLength < 0 means "no limit", matching
// ParameterMetadata.MaxLength's -1-means-max convention).
func sanitizeString(s string, maxLength int) string {
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	if maxLength >= 0 {
		runes := []rune(s)
		if len(runes) > maxLength {
			s = string(runes[:maxLength])
		}
	}
	return s
}
