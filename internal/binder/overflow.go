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
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// intBounds gives the representable [min, max] for the SQL Server
// integer family, so a value can be proved representable before it is
// shipped rather than rejected by the wire layer after a round trip.
var intBounds = map[string][2]int64{
	"tinyint":  {0, math.MaxUint8},
	"smallint": {math.MinInt16, math.MaxInt16},
	"int":      {math.MinInt32, math.MaxInt32},
	"bigint":   {math.MinInt64, math.MaxInt64},
}

// minLegacyDateTime is the smallest value the legacy `datetime` type can
// represent; `datetime2`/`date` have no such floor.
var minLegacyDateTime = time.Date(1753, 1, 1, 0, 0, 0, 0, time.UTC)

// checkIntegerOverflow proves an integer value fits databaseType's
// representable range.
func checkIntegerOverflow(paramName string, value int64, databaseType string, precision, scale uint8) error {
	bounds, ok := intBounds[databaseType]
	if !ok {
		return nil
	}
	if value < bounds[0] || value > bounds[1] {
		return &types.RangeOverflowError{
			ParameterName: paramName,
			OfferedValue:  value,
			TargetType:    databaseType,
			Precision:     precision,
			Scale:         scale,
		}
	}
	return nil
}

// checkDecimalOverflow proves a decimal value is representable by a
// column of the given precision p and scale s: |value| < 10^(p-s).
func checkDecimalOverflow(paramName string, value decimal.Decimal, databaseType string, precision, scale uint8) error {
	if precision == 0 {
		return nil
	}
	limitExp := int32(precision) - int32(scale)
	if limitExp < 0 {
		limitExp = 0
	}
	limit := decimal.New(1, limitExp)
	if value.Abs().GreaterThanOrEqual(limit) {
		return &types.RangeOverflowError{
			ParameterName: paramName,
			OfferedValue:  value.String(),
			TargetType:    databaseType,
			Precision:     precision,
			Scale:         scale,
		}
	}
	return nil
}

// checkDateOverflow proves a time.Time value fits the representable
// range of databaseType, the only documented floor being the legacy
// `datetime` type's 1753-01-01 minimum.
func checkDateOverflow(paramName string, value time.Time, databaseType string) error {
	if databaseType == "datetime" && value.Before(minLegacyDateTime) {
		return &types.RangeOverflowError{
			ParameterName: paramName,
			OfferedValue:  value,
			TargetType:    databaseType,
		}
	}
	return nil
}
