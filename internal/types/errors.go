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

package types

import (
	"fmt"

	"github.com/pkg/errors"
)

// CommandContext carries the bounded, user-visible context every error
// in this package attaches: the instance, a truncated command prefix,
// and a correlation id when one was supplied on the request.
type CommandContext struct {
	Instance      InstanceId
	CommandPrefix string
	CorrelationID string
}

const commandPrefixLimit = 256

// NewCommandContext truncates commandText to a bounded prefix before
// storing it, so error values never retain an entire, possibly huge,
// batch statement.
func NewCommandContext(instance InstanceId, commandText, correlationID string) CommandContext {
	prefix := commandText
	if len(prefix) > commandPrefixLimit {
		prefix = prefix[:commandPrefixLimit] + "..."
	}
	return CommandContext{Instance: instance, CommandPrefix: prefix, CorrelationID: correlationID}
}

// ConfigurationError reports an unresolvable instance-id, a malformed
// connection-string prefix, or a duplicate ad-hoc registration.
type ConfigurationError struct {
	Instance InstanceId
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for instance %q: %s", e.Instance, e.Reason)
}

// SchemaLookupError reports that the schema repository could not return
// metadata for a catalog object.
type SchemaLookupError struct {
	Object   string
	Instance InstanceId
	Cause    error
}

func (e *SchemaLookupError) Error() string {
	return fmt.Sprintf("schema lookup failed for %q on instance %q: %v", e.Object, e.Instance, e.Cause)
}

func (e *SchemaLookupError) Unwrap() error { return e.Cause }

// SchemaMismatchError reports that a TVP payload's element type does
// not match the TVP's declared shape, or that a stored procedure's
// parameter/row shape has drifted beneath the cache.
type SchemaMismatchError struct {
	Object string
	Reason string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch on %q: %s", e.Object, e.Reason)
}

// RequiredParameterMissingError reports a strict-mode violation: a
// non-nullable, no-default, Input parameter received a nil value.
type RequiredParameterMissingError struct {
	ParameterName string
}

func (e *RequiredParameterMissingError) Error() string {
	return fmt.Sprintf("required parameter %q was not supplied", e.ParameterName)
}

// RangeOverflowError reports that a numeric or date value does not fit
// its parameter's declared precision, scale, or representable range.
type RangeOverflowError struct {
	ParameterName string
	OfferedValue  any
	TargetType    string
	Precision     uint8
	Scale         uint8
}

func (e *RangeOverflowError) Error() string {
	return fmt.Sprintf(
		"parameter %q: value %v does not fit %s (Precision:%d, Scale:%d)",
		e.ParameterName, e.OfferedValue, e.TargetType, e.Precision, e.Scale,
	)
}

// BulkBindingError reports that a TVP element reader could not be built
// for the supplied source shape (e.g. an unrecognized collection type).
type BulkBindingError struct {
	ElementType string
	Reason      string
}

func (e *BulkBindingError) Error() string {
	return fmt.Sprintf("cannot bind TVP rows from %s: %s", e.ElementType, e.Reason)
}

// NullInRequiredColumnError reports that a non-nullable, value-typed TVP
// column received a null value for some source row.
type NullInRequiredColumnError struct {
	ColumnName string
	RowIndex   int
}

func (e *NullInRequiredColumnError) Error() string {
	return fmt.Sprintf("column %q is not nullable, but row %d supplied a null value", e.ColumnName, e.RowIndex)
}

// TransportError wraps whatever the driver surfaced, carrying the
// server-defined numeric code the execution strategy classifies on.
type TransportError struct {
	Code  int
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (code %d): %v", e.Code, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// CommandExecutionFailedError wraps a non-SQL exception with the
// executor's command context. SQL exceptions are never wrapped this
// way, so the resilience pipeline upstream can still classify them
// directly.
type CommandExecutionFailedError struct {
	Context CommandContext
	Cause   error
}

func (e *CommandExecutionFailedError) Error() string {
	return fmt.Sprintf(
		"command execution failed on instance %q (correlation %s): %v [%s]",
		e.Context.Instance, e.Context.CorrelationID, e.Cause, e.Context.CommandPrefix,
	)
}

func (e *CommandExecutionFailedError) Unwrap() error { return e.Cause }

// NoProgressError is raised by a resumable query when the cursor fails
// to advance for three consecutive non-empty batches.
type NoProgressError struct {
	Cursor any
}

func (e *NoProgressError) Error() string {
	return fmt.Sprintf("resumable query made no progress: cursor %v repeated for 3 consecutive batches", e.Cursor)
}

// ErrCircuitBroken is the sentinel the execution strategy surfaces
// unchanged: circuit-broken errors are never wrapped further.
var ErrCircuitBroken = errors.New("circuit broken: fast-fail condition observed, not retrying")

// ErrNoMaterializer is returned by the reflective fallback mapper: row
// materialization for an arbitrary, unregistered type is declined
// outright rather than attempted unsafely.
var ErrNoMaterializer = errors.New("no generated or manual mapper is registered for this type; row materialization declined")
