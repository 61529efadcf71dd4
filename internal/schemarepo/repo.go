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

// Package schemarepo reads the database catalog to build stored
// procedure and table-type metadata records. It issues read-uncommitted
// queries to minimize lock contention against the objects it describes.
package schemarepo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/ident"
	"github.com/sqlxcore/sqlxcore/internal/types"
)

// objectVersionTemplate returns the catalog's modify_date-derived version
// token for a procedure-like object, or no row if absent.
const objectVersionTemplate = `
SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED;
SELECT CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', o.modify_date) AS BIGINT)
FROM %[1]s.sys.objects AS o
WHERE o.object_id = OBJECT_ID(@p1) AND o.type IN ('P', 'PC')`

// tvpVersionTemplate is the table-type analog, keyed off sys.table_types.
const tvpVersionTemplate = `
SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED;
SELECT CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', tt.create_date) AS BIGINT)
FROM %[1]s.sys.table_types AS tt
WHERE tt.user_type_id = TYPE_ID(@p1)`

// procedureMetadataTemplate returns two result sets under a single round
// trip: the object's version token, then its ordered parameter list.
const procedureMetadataTemplate = `
SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED;
SELECT CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', o.modify_date) AS BIGINT)
FROM %[1]s.sys.objects AS o
WHERE o.object_id = OBJECT_ID(@p1) AND o.type IN ('P', 'PC');

SELECT
  p.name,
  TYPE_NAME(p.user_type_id) AS database_type,
  p.is_output,
  p.max_length,
  p.precision,
  p.scale,
  p.has_default_value,
  tt.name AS structured_type_name,
  p.parameter_id
FROM %[1]s.sys.parameters AS p
LEFT JOIN %[1]s.sys.table_types AS tt ON tt.user_type_id = p.user_type_id
WHERE p.object_id = OBJECT_ID(@p1)
ORDER BY p.parameter_id`

// tvpMetadataTemplate is the table-type analog: version, then columns.
const tvpMetadataTemplate = `
SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED;
SELECT CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', tt.create_date) AS BIGINT)
FROM %[1]s.sys.table_types AS tt
WHERE tt.user_type_id = TYPE_ID(@p1);

SELECT
  c.name,
  TYPE_NAME(c.user_type_id) AS database_type,
  c.column_id,
  c.max_length,
  c.precision,
  c.scale,
  c.is_identity,
  c.is_computed,
  c.is_nullable
FROM %[1]s.sys.table_types AS tt
JOIN %[1]s.sys.columns AS c ON c.object_id = tt.type_table_object_id
WHERE tt.user_type_id = TYPE_ID(@p1)
ORDER BY c.column_id`

// bulkProceduresTemplate warms both versions and parameters for every
// procedure whose qualified name passes the include/exclude filters.
// Patterns are translated to T-SQL LIKE wildcards (`*`->`%`, `?`->`_`)
// and bound as parameters, never interpolated, to prevent injection.
const bulkProceduresTemplate = `
SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED;
SELECT
  SCHEMA_NAME(o.schema_id) + '.' + o.name AS qualified_name,
  CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', o.modify_date) AS BIGINT) AS version,
  p.name,
  TYPE_NAME(p.user_type_id) AS database_type,
  p.is_output,
  p.max_length,
  p.precision,
  p.scale,
  p.has_default_value,
  tt.name AS structured_type_name,
  p.parameter_id
FROM %[1]s.sys.objects AS o
JOIN %[1]s.sys.parameters AS p ON p.object_id = o.object_id
LEFT JOIN %[1]s.sys.table_types AS tt ON tt.user_type_id = p.user_type_id
WHERE o.type IN ('P', 'PC')
  AND EXISTS (SELECT 1 FROM %[2]s AS inc(pattern) WHERE (SCHEMA_NAME(o.schema_id) + '.' + o.name) LIKE inc.pattern ESCAPE '\')
  AND NOT EXISTS (SELECT 1 FROM %[3]s AS exc(pattern) WHERE (SCHEMA_NAME(o.schema_id) + '.' + o.name) LIKE exc.pattern ESCAPE '\')
ORDER BY qualified_name, p.parameter_id`

// bulkTableTypesTemplate is the table-type analog of bulkProceduresTemplate.
const bulkTableTypesTemplate = `
SET TRANSACTION ISOLATION LEVEL READ UNCOMMITTED;
SELECT
  SCHEMA_NAME(tt.schema_id) + '.' + tt.name AS qualified_name,
  CAST(DATEDIFF_BIG(MILLISECOND, '1970-01-01', tt.create_date) AS BIGINT) AS version,
  c.name,
  TYPE_NAME(c.user_type_id) AS database_type,
  c.column_id,
  c.max_length,
  c.precision,
  c.scale,
  c.is_identity,
  c.is_computed,
  c.is_nullable
FROM %[1]s.sys.table_types AS tt
JOIN %[1]s.sys.columns AS c ON c.object_id = tt.type_table_object_id
WHERE EXISTS (SELECT 1 FROM %[2]s AS inc(pattern) WHERE (SCHEMA_NAME(tt.schema_id) + '.' + tt.name) LIKE inc.pattern ESCAPE '\')
  AND NOT EXISTS (SELECT 1 FROM %[3]s AS exc(pattern) WHERE (SCHEMA_NAME(tt.schema_id) + '.' + tt.name) LIKE exc.pattern ESCAPE '\')
ORDER BY qualified_name, c.column_id`

// BulkResult is the aggregate warm-up payload for one database schema.
type BulkResult struct {
	ProcedureVersions map[string]types.VersionToken
	TvpVersions       map[string]types.VersionToken
	Procedures        map[string]*types.ProcedureSchema
	TableTypes        map[string]*types.TvpSchema
}

// Repository reads SQL Server catalog views to build schema metadata.
// It holds no cache of its own; that is the schema service's job.
type Repository struct {
	querier types.TargetQuerier
}

// New constructs a Repository over a connection-scoped querier.
func New(querier types.TargetQuerier) *Repository {
	return &Repository{querier: querier}
}

// ObjectVersion returns the modify-date-derived version token of a
// procedure-like catalog object, or 0 if it does not exist.
func (r *Repository) ObjectVersion(ctx context.Context, name ident.Table, instance types.InstanceId) (types.VersionToken, error) {
	q := fmt.Sprintf(objectVersionTemplate, currentDatabaseCatalog)
	var v int64
	err := r.querier.QueryRowContext(ctx, q, name.Raw()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
	}
	return types.VersionToken(v), nil
}

// TvpVersion returns the create-date-derived version token of a table
// type, or 0 if it does not exist.
func (r *Repository) TvpVersion(ctx context.Context, name ident.Table, instance types.InstanceId) (types.VersionToken, error) {
	q := fmt.Sprintf(tvpVersionTemplate, currentDatabaseCatalog)
	var v int64
	err := r.querier.QueryRowContext(ctx, q, name.Raw()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
	}
	return types.VersionToken(v), nil
}

// ProcedureMetadata fetches a procedure's version and ordered parameter
// list in one round trip (two result sets under a single batch).
func (r *Repository) ProcedureMetadata(ctx context.Context, name ident.Table, instance types.InstanceId) (*types.ProcedureSchema, error) {
	q := fmt.Sprintf(procedureMetadataTemplate, currentDatabaseCatalog)
	rows, err := r.querier.QueryContext(ctx, q, name.Raw())
	if err != nil {
		return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
	}
	defer rows.Close()

	var version int64
	if rows.Next() {
		if err := rows.Scan(&version); err != nil {
			return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
		}
	}
	if version == 0 {
		return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: sql.ErrNoRows}
	}
	if !rows.NextResultSet() {
		if err := rows.Err(); err != nil {
			return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
		}
	}

	params, err := scanParameters(rows)
	if err != nil {
		return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
	}

	return &types.ProcedureSchema{
		Name:       name,
		Instance:   instance,
		Version:    types.VersionToken(version),
		Parameters: params,
		ObservedAt: time.Now(),
	}, nil
}

// TvpMetadata fetches a table type's version and ordered column list.
func (r *Repository) TvpMetadata(ctx context.Context, name ident.Table, instance types.InstanceId) (*types.TvpSchema, error) {
	q := fmt.Sprintf(tvpMetadataTemplate, currentDatabaseCatalog)
	rows, err := r.querier.QueryContext(ctx, q, name.Raw())
	if err != nil {
		return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
	}
	defer rows.Close()

	var version int64
	if rows.Next() {
		if err := rows.Scan(&version); err != nil {
			return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
		}
	}
	if version == 0 {
		return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: sql.ErrNoRows}
	}
	if !rows.NextResultSet() {
		if err := rows.Err(); err != nil {
			return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
		}
	}

	cols, err := scanColumns(rows)
	if err != nil {
		return nil, &types.SchemaLookupError{Object: name.Raw(), Instance: instance, Cause: err}
	}

	return &types.TvpSchema{
		Name:       name,
		Instance:   instance,
		Version:    types.VersionToken(version),
		Columns:    cols,
		ObservedAt: time.Now(),
	}, nil
}

// Bulk warms both object kinds in two round trips, procedures first and
// then table types, filtering schema-qualified catalog names against
// glob-style include/exclude patterns. schema only labels errors: names
// from every schema of the current database are matched against the
// patterns. Patterns are bound as parameters via a VALUES-derived table,
// never interpolated into the statement text.
func (r *Repository) Bulk(ctx context.Context, schema ident.Schema, instance types.InstanceId, include, exclude []string) (*BulkResult, error) {
	includeLike := toLikePatterns(include)
	excludeLike := toLikePatterns(exclude)
	if len(includeLike) == 0 {
		includeLike = []string{"%"}
	}
	if len(excludeLike) == 0 {
		excludeLike = []string{"\x00no-match\x00"}
	}

	result := &BulkResult{
		ProcedureVersions: map[string]types.VersionToken{},
		TvpVersions:       map[string]types.VersionToken{},
		Procedures:        map[string]*types.ProcedureSchema{},
		TableTypes:        map[string]*types.TvpSchema{},
	}

	if err := r.bulkProcedures(ctx, schema, instance, includeLike, excludeLike, result); err != nil {
		return nil, err
	}
	if err := r.bulkTableTypes(ctx, schema, instance, includeLike, excludeLike, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *Repository) bulkProcedures(ctx context.Context, schema ident.Schema, instance types.InstanceId, include, exclude []string, out *BulkResult) error {
	incValues, incArgs := valuesClause(include, 1)
	excValues, excArgs := valuesClause(exclude, 1+len(incArgs))
	q := fmt.Sprintf(bulkProceduresTemplate, currentDatabaseCatalog, incValues, excValues)

	args := append(incArgs, excArgs...)
	rows, err := r.querier.QueryContext(ctx, q, args...)
	if err != nil {
		return &types.SchemaLookupError{Object: schema.Raw(), Instance: instance, Cause: err}
	}
	defer rows.Close()

	byName := map[string]*types.ProcedureSchema{}
	for rows.Next() {
		var (
			qualifiedName string
			version       int64
			p             paramRow
		)
		if err := rows.Scan(
			&qualifiedName, &version,
			&p.name, &p.databaseType, &p.isOutput, &p.maxLength, &p.precision, &p.scale,
			&p.hasDefault, &p.structuredTypeName, &p.ordinal,
		); err != nil {
			return &types.SchemaLookupError{Object: schema.Raw(), Instance: instance, Cause: err}
		}

		ps, ok := byName[qualifiedName]
		if !ok {
			ps = &types.ProcedureSchema{
				Name:       ident.NewQualifiedTable(qualifiedName),
				Instance:   instance,
				Version:    types.VersionToken(version),
				ObservedAt: time.Now(),
			}
			byName[qualifiedName] = ps
			out.ProcedureVersions[qualifiedName] = types.VersionToken(version)
		}
		ps.Parameters = append(ps.Parameters, p.toParameterMetadata())
	}
	if err := rows.Err(); err != nil {
		return &types.SchemaLookupError{Object: schema.Raw(), Instance: instance, Cause: err}
	}
	for name, ps := range byName {
		out.Procedures[name] = ps
	}
	return nil
}

func (r *Repository) bulkTableTypes(ctx context.Context, schema ident.Schema, instance types.InstanceId, include, exclude []string, out *BulkResult) error {
	incValues, incArgs := valuesClause(include, 1)
	excValues, excArgs := valuesClause(exclude, 1+len(incArgs))
	q := fmt.Sprintf(bulkTableTypesTemplate, currentDatabaseCatalog, incValues, excValues)

	args := append(incArgs, excArgs...)
	rows, err := r.querier.QueryContext(ctx, q, args...)
	if err != nil {
		return &types.SchemaLookupError{Object: schema.Raw(), Instance: instance, Cause: err}
	}
	defer rows.Close()

	byName := map[string]*types.TvpSchema{}
	for rows.Next() {
		var (
			qualifiedName string
			version       int64
			c             colRow
		)
		if err := rows.Scan(
			&qualifiedName, &version,
			&c.name, &c.databaseType, &c.ordinal, &c.maxLength, &c.precision, &c.scale,
			&c.isIdentity, &c.isComputed, &c.isNullable,
		); err != nil {
			return &types.SchemaLookupError{Object: schema.Raw(), Instance: instance, Cause: err}
		}

		ts, ok := byName[qualifiedName]
		if !ok {
			ts = &types.TvpSchema{
				Name:       ident.NewQualifiedTable(qualifiedName),
				Instance:   instance,
				Version:    types.VersionToken(version),
				ObservedAt: time.Now(),
			}
			byName[qualifiedName] = ts
			out.TvpVersions[qualifiedName] = types.VersionToken(version)
		}
		ts.Columns = append(ts.Columns, c.toColumnDescriptor())
	}
	if err := rows.Err(); err != nil {
		return &types.SchemaLookupError{Object: schema.Raw(), Instance: instance, Cause: err}
	}
	for name, ts := range byName {
		out.TableTypes[name] = ts
	}
	return nil
}

type paramRow struct {
	name               string
	databaseType       string
	isOutput           bool
	maxLength          int
	precision          uint8
	scale              uint8
	hasDefault         bool
	structuredTypeName sql.NullString
	ordinal            int
}

func (p paramRow) toParameterMetadata() types.ParameterMetadata {
	dbType := p.databaseType
	dir := types.DirectionInput
	if p.isOutput {
		dir = types.DirectionInputOutput
	}
	udt := ""
	if p.structuredTypeName.Valid {
		dbType = "structured"
		udt = p.structuredTypeName.String
	}
	return types.ParameterMetadata{
		Name:         strings.TrimPrefix(p.name, "@"),
		DatabaseType: dbType,
		Direction:    dir,
		MaxLength:    p.maxLength,
		Precision:    p.precision,
		Scale:        p.scale,
		IsNullable:   true,
		HasDefault:   p.hasDefault,
		UDTName:      udt,
		Ordinal:      p.ordinal,
	}
}

type colRow struct {
	name         string
	databaseType string
	ordinal      int
	maxLength    int
	precision    uint8
	scale        uint8
	isIdentity   bool
	isComputed   bool
	isNullable   bool
}

func (c colRow) toColumnDescriptor() types.ColumnDescriptor {
	return types.ColumnDescriptor{
		Name:         c.name,
		DatabaseType: c.databaseType,
		Ordinal:      c.ordinal,
		MaxLength:    c.maxLength,
		Precision:    c.precision,
		Scale:        c.scale,
		IsIdentity:   c.isIdentity,
		IsComputed:   c.isComputed,
		IsNullable:   c.isNullable,
	}
}

func scanParameters(rows *sql.Rows) ([]types.ParameterMetadata, error) {
	var out []types.ParameterMetadata
	for rows.Next() {
		var p paramRow
		if err := rows.Scan(
			&p.name, &p.databaseType, &p.isOutput, &p.maxLength, &p.precision, &p.scale,
			&p.hasDefault, &p.structuredTypeName, &p.ordinal,
		); err != nil {
			return nil, err
		}
		out = append(out, p.toParameterMetadata())
	}
	return out, rows.Err()
}

func scanColumns(rows *sql.Rows) ([]types.ColumnDescriptor, error) {
	var out []types.ColumnDescriptor
	for rows.Next() {
		var c colRow
		if err := rows.Scan(
			&c.name, &c.databaseType, &c.ordinal, &c.maxLength, &c.precision, &c.scale,
			&c.isIdentity, &c.isComputed, &c.isNullable,
		); err != nil {
			return nil, err
		}
		out = append(out, c.toColumnDescriptor())
	}
	return out, rows.Err()
}

// currentDatabaseCatalog is the %[1]s prefix of every sys.* view query.
// Every lookup here runs against the caller's current database; a
// pool scoped to a different catalog is obtained through
// internal/connprovider, not by cross-database qualification here.
const currentDatabaseCatalog = "sys"

// toLikePatterns translates glob syntax (`*` any, `?` one) into T-SQL
// LIKE patterns, escaping any existing LIKE metacharacter in the source
// pattern first so user-supplied `%`/`_`/`[` cannot smuggle in
// unintended wildcards.
func toLikePatterns(globs []string) []string {
	out := make([]string, 0, len(globs))
	for _, g := range globs {
		escaped := strings.NewReplacer(
			"\\", "\\\\",
			"%", "\\%",
			"_", "\\_",
			"[", "\\[",
		).Replace(g)
		escaped = strings.ReplaceAll(escaped, "*", "%")
		escaped = strings.ReplaceAll(escaped, "?", "_")
		out = append(out, escaped)
	}
	return out
}

// valuesClause builds a `(VALUES (@pN), (@pN+1), ...)` derived table and
// its argument list for a set of patterns, numbered starting at
// startOrdinal so two clauses in the same statement never collide on a
// named parameter. Patterns are bound as parameters, never interpolated
// into the query text.
func valuesClause(patterns []string, startOrdinal int) (string, []any) {
	placeholders := make([]string, len(patterns))
	args := make([]any, len(patterns))
	for i, p := range patterns {
		placeholders[i] = fmt.Sprintf("(@p%d)", startOrdinal+i)
		args[i] = p
	}
	return "(VALUES " + strings.Join(placeholders, ", ") + ")", args
}
