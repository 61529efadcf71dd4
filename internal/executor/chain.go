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

import "context"

// buildPreChain composes an ordered list of pre-execute interceptors,
// first to last, into a single delegate by reverse-folding them around a
// no-op terminal: dispatch cost is one call regardless of chain length,
// and each interceptor still sees the next one in line as a plain
// function call rather than a loop over a slice.
func buildPreChain(interceptors []PreInterceptor) PreInterceptor {
	next := func(context.Context, *InterceptorContext) error { return nil }
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		prior := next
		next = func(ctx context.Context, ic *InterceptorContext) error {
			if err := interceptor(ctx, ic); err != nil {
				return err
			}
			if ic.Suppress {
				return nil
			}
			return prior(ctx, ic)
		}
	}
	return next
}

// buildPostChain composes post-execute interceptors the same way. Unlike
// the pre-chain, every interceptor runs regardless of an earlier one's
// error, since post-execute hooks observe outcomes rather than gate them;
// the first error encountered is the one returned.
func buildPostChain(interceptors []PostInterceptor) PostInterceptor {
	next := func(context.Context, *InterceptorContext) error { return nil }
	for i := len(interceptors) - 1; i >= 0; i-- {
		interceptor := interceptors[i]
		prior := next
		next = func(ctx context.Context, ic *InterceptorContext) error {
			err := interceptor(ctx, ic)
			if priorErr := prior(ctx, ic); priorErr != nil && err == nil {
				err = priorErr
			}
			return err
		}
	}
	return next
}
