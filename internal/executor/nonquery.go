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

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// NonQuery executes req as a data-modifying command or a stored
// procedure with no result set, returning the affected-row count. Any
// Output, InputOutput, or ReturnValue parameter named by the resolved
// schema is declared as a driver output parameter and read back onto
// req.Parameters after the command completes.
func (e *Executor) NonQuery(ctx context.Context, req types.ExecutionRequest) (int64, error) {
	result, err := e.runOp(ctx, req, OpNonQuery, func(ctx context.Context) (any, error) {
		if e.dryRun && isWriteCommand(req.CommandText) {
			return int64(0), nil
		}

		schema, err := e.resolveSchema(ctx, req)
		if err != nil {
			return nil, err
		}
		cmd := newCommandBuilder()
		if err := e.bindParameters(cmd, req, schema); err != nil {
			return nil, err
		}
		if schema != nil {
			for _, meta := range schema.Parameters {
				switch meta.Direction {
				case types.DirectionOutput, types.DirectionReturnValue:
					cmd.declareOutput(meta.Name, false)
				case types.DirectionInputOutput:
					cmd.declareOutput(meta.Name, true)
				}
			}
		}

		var affected int64
		err = e.runner.Run(ctx, req, func(ctx context.Context, q types.TargetQuerier) error {
			res, err := q.ExecContext(ctx, req.CommandText, cmd.Args()...)
			if err != nil {
				return err
			}
			affected, err = res.RowsAffected()
			return err
		})
		if err != nil {
			return nil, err
		}
		if err := cmd.readback(req.Parameters); err != nil {
			return nil, err
		}
		return affected, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}
