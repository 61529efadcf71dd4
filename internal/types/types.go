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

// Package types contains the data model and interfaces shared across
// every component of the core data-access engine. Placing them in one
// package, rather than letting each component define its own view of a
// schema or a parameter, is what lets the binding engine, the mapper
// factory, and the execution strategy compose without importing each
// other.
package types

import (
	"context"
	"database/sql"
	"time"

	"github.com/sqlxcore/sqlxcore/internal/ident"
)

// InstanceId is an opaque identifier for a logical database endpoint.
// Values are compared by exact byte identity.
type InstanceId string

// VersionToken is an opaque, monotonically increasing revision marker
// for a schema object. Zero means "object does not exist".
type VersionToken int64

// Direction describes how a stored-procedure parameter flows.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionInputOutput
	DirectionReturnValue
)

func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "Input"
	case DirectionOutput:
		return "Output"
	case DirectionInputOutput:
		return "InputOutput"
	case DirectionReturnValue:
		return "ReturnValue"
	default:
		return "Unknown"
	}
}

// SchemaResolutionMode controls how an ExecutionRequest consults the
// schema service before binding parameters.
type SchemaResolutionMode int

const (
	// SnapshotOnly consults the schema service like ServiceOnly, so a
	// missing or stale entry is refreshed with a round trip; a failed
	// lookup is returned to the caller rather than logged. There is no
	// cache-only lookup.
	SnapshotOnly SchemaResolutionMode = iota
	// ServiceOnly always consults the schema service, which may itself
	// perform a round trip if the cache is stale.
	ServiceOnly
	// SnapshotThenServiceFallback is handled exactly like ServiceOnly:
	// the schema service is consulted and refreshes a stale entry, not
	// only a missing one.
	SnapshotThenServiceFallback
	// None skips schema resolution entirely; parameters are bound with
	// bind_raw type inference.
	None
)

// ParameterMetadata is an immutable record describing one stored
// procedure parameter.
type ParameterMetadata struct {
	Name         string
	DatabaseType string // e.g. "int", "nvarchar", "decimal", "structured"
	Direction    Direction
	MaxLength    int // -1 means "maximum" (e.g. nvarchar(max))
	Precision    uint8
	Scale        uint8
	IsNullable   bool
	HasDefault   bool
	UDTName      string // schema-qualified user-defined type name, for structured params
	Ordinal      int
}

// IsStructured reports whether this parameter is a table-valued
// parameter.
func (p ParameterMetadata) IsStructured() bool { return p.DatabaseType == "structured" }

// ProcedureSchema is the ordered set of a stored procedure's parameters,
// plus the version token and timestamp the schema repository observed
// them at.
type ProcedureSchema struct {
	Name       ident.Table
	Instance   InstanceId
	Version    VersionToken
	Parameters []ParameterMetadata
	ObservedAt time.Time
}

// Key returns the cache key identifying this schema.
func (s ProcedureSchema) Key() CacheKey {
	return CacheKey{Name: s.Name.Raw(), Instance: s.Instance, Kind: KindProcedure}
}

// ColumnDescriptor describes one column of a table-valued parameter
// type.
type ColumnDescriptor struct {
	Name         string
	DatabaseType string
	Ordinal      int
	MaxLength    int
	Precision    uint8
	Scale        uint8
	IsIdentity   bool
	IsComputed   bool
	IsNullable   bool
}

// TvpSchema is the ordered set of a table type's columns, plus its
// version token.
type TvpSchema struct {
	Name       ident.Table
	Instance   InstanceId
	Version    VersionToken
	Columns    []ColumnDescriptor
	ObservedAt time.Time
}

// Key returns the cache key identifying this schema.
func (s TvpSchema) Key() CacheKey {
	return CacheKey{Name: s.Name.Raw(), Instance: s.Instance, Kind: KindTableType}
}

// SchemaKind distinguishes the two catalog object kinds the schema
// service caches.
type SchemaKind int

const (
	KindProcedure SchemaKind = iota
	KindTableType
)

// CacheKey identifies a cached schema entry (for the schema service) or,
// degenerately, a mapper/TVP-factory cache entry by a type name.
type CacheKey struct {
	Name     string
	Instance InstanceId
	Kind     SchemaKind
}

// ColumnarBuffer is a per-column, append-only vector backing one column
// of a TVP payload under construction. T is closed under both reference
// types (stored as-is) and value types (stored unboxed).
type ColumnarBuffer[T any] struct {
	values []T
	nulls  []bool
}

// NewColumnarBuffer allocates a buffer with the given initial capacity
// hint.
func NewColumnarBuffer[T any](capacityHint int) *ColumnarBuffer[T] {
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &ColumnarBuffer[T]{
		values: make([]T, 0, capacityHint),
		nulls:  make([]bool, 0, capacityHint),
	}
}

// Append adds one value. ok=false marks the appended slot as SQL NULL;
// the zero value of T is stored alongside.
func (b *ColumnarBuffer[T]) Append(v T, ok bool) {
	if ok {
		b.values = append(b.values, v)
	} else {
		var zero T
		b.values = append(b.values, zero)
	}
	b.nulls = append(b.nulls, !ok)
}

// Len returns the number of rows appended so far.
func (b *ColumnarBuffer[T]) Len() int { return len(b.values) }

// At returns the value and whether it is non-null at row i.
func (b *ColumnarBuffer[T]) At(i int) (T, bool) {
	return b.values[i], !b.nulls[i]
}

// Reset clears the buffer for reuse, keeping its backing arrays.
func (b *ColumnarBuffer[T]) Reset() {
	b.values = b.values[:0]
	b.nulls = b.nulls[:0]
}

// AnyColumnarBuffer is the type-erased view of a ColumnarBuffer used by
// the TvpPayloadReader, which must hold buffers of heterogeneous T.
type AnyColumnarBuffer interface {
	Len() int
	AnyAt(i int) (any, bool)
}

// AnyAt implements AnyColumnarBuffer.
func (b *ColumnarBuffer[T]) AnyAt(i int) (any, bool) {
	v, ok := b.At(i)
	return v, ok
}

var _ AnyColumnarBuffer = (*ColumnarBuffer[int])(nil)

// TvpPayloadReader is a streaming, forward-only record reader backed by
// a set of ColumnarBuffers and an ordinal-to-field map. It implements
// the shape the SQL Server driver's bulk-copy/TVP-streaming path
// expects: Next to advance, then positional Get by ordinal.
type TvpPayloadReader struct {
	schema  TvpSchema
	columns []AnyColumnarBuffer
	rowIdx  int
	rows    int
}

// NewTvpPayloadReader assembles a reader over already-populated column
// buffers. All buffers must report the same Len().
func NewTvpPayloadReader(schema TvpSchema, columns []AnyColumnarBuffer) *TvpPayloadReader {
	rows := 0
	if len(columns) > 0 {
		rows = columns[0].Len()
	}
	return &TvpPayloadReader{schema: schema, columns: columns, rowIdx: -1, rows: rows}
}

// Schema returns the TVP's column schema.
func (r *TvpPayloadReader) Schema() TvpSchema { return r.schema }

// FieldCount returns the number of columns in the payload.
func (r *TvpPayloadReader) FieldCount() int { return len(r.columns) }

// RowCount returns the total number of rows that will be produced.
func (r *TvpPayloadReader) RowCount() int { return r.rows }

// Next advances to the next row. It returns false once every row has
// been consumed.
func (r *TvpPayloadReader) Next() bool {
	if r.rowIdx+1 >= r.rows {
		return false
	}
	r.rowIdx++
	return true
}

// Get returns the value at the given column ordinal for the current
// row.
func (r *TvpPayloadReader) Get(ordinal int) (any, bool) {
	return r.columns[ordinal].AnyAt(r.rowIdx)
}

// ColumnName returns the declared name for a column ordinal, in
// schema-declaration order.
func (r *TvpPayloadReader) ColumnName(ordinal int) string {
	return r.schema.Columns[ordinal].Name
}

// MapperEntry is a compiled function pair for a single target type: a
// row materializer and, independently, a parameter binder. Either may be
// nil if that direction isn't supported for the type. Hits is used by
// the generational cache (internal/mapper) to decide promotion.
type MapperEntry struct {
	RowSignature string
	Materialize  func(Row) (any, error)
	Bind         func(cmd Command, value any, schema *ProcedureSchema) error
	Hits         int64
}

// Row is the minimal row-reading surface the mapper factory needs. The
// concrete driver reader satisfies this.
type Row interface {
	FieldCount() int
	FieldName(i int) string
	FieldType(i int) string
	IsNull(i int) bool
	Value(i int) (any, error)
}

// Command is the minimal surface of a driver command the binder writes
// parameters onto.
type Command interface {
	SetParameter(name string, value any) error
	SetParameterTypeName(name string, udtName string) error
}

// ExecutionRequest is the immutable descriptor the executor receives
// for every call.
type ExecutionRequest struct {
	Instance        InstanceId
	CommandText     string
	CommandKind     CommandKind
	Parameters      any // a struct, map[string]any, or nil
	Cancel          context.Context
	Transactional   bool
	TimeoutOverride time.Duration         // zero means "use the strategy default"
	ResolutionMode  *SchemaResolutionMode // nil means "use the strategy default"
	CorrelationID   string
}

// CommandKind distinguishes ad-hoc text commands from stored-procedure
// invocations.
type CommandKind int

const (
	CommandText CommandKind = iota
	CommandStoredProcedure
)

// Product enumerates the SQL-Server-family products this engine
// targets. Every member here speaks the same wire protocol; Product
// only affects version-query dialect and feature flags (e.g. Always
// Encrypted).
type Product int

const (
	ProductUnknown Product = iota
	ProductSQLServer
	ProductAzureSQL
	ProductAzureSynapse
)

// PoolInfo describes a database connection pool and what it is
// connected to.
type PoolInfo struct {
	ConnectionString string
	Product          Product
	Version          string
	Instance         InstanceId
}

// Info returns the PoolInfo when embedded.
func (i *PoolInfo) Info() *PoolInfo { return i }

// Connection is an injection point for a single logical connection,
// wrapping the standard library's pooled *sql.DB alongside the pool
// metadata callers need without a second round trip.
type Connection struct {
	*sql.DB
	PoolInfo
	noCopy
}

// AnyPool is a generic type constraint satisfied by Connection.
type AnyPool interface {
	*Connection
	Info() *PoolInfo
}

// TargetQuerier is implemented by *sql.DB, *sql.Conn, and *sql.Tx.
type TargetQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ TargetQuerier = (*sql.DB)(nil)
	_ TargetQuerier = (*sql.Tx)(nil)
	_ TargetQuerier = (*sql.Conn)(nil)
)

// TargetTx additionally allows committing or rolling back.
type TargetTx interface {
	TargetQuerier
	Commit() error
	Rollback() error
}

var _ TargetTx = (*sql.Tx)(nil)

type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
