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

// Package ident provides case-preserving, quote-safe identifiers for
// SQL Server schemas, tables, and qualified names.
package ident

import "strings"

// An Ident is a single, unqualified database identifier (a schema name,
// a table name, a parameter name). The raw value is preserved exactly as
// supplied; quoting only happens when the identifier is rendered into a
// statement.
type Ident struct {
	raw string
}

// New constructs an Ident from a raw, unquoted name.
func New(raw string) Ident { return Ident{raw: raw} }

// Raw returns the unquoted, case-preserving name.
func (i Ident) Raw() string { return i.raw }

// Empty returns true if the identifier has no name.
func (i Ident) Empty() bool { return i.raw == "" }

func (i Ident) String() string { return i.raw }

// Quoted returns the identifier wrapped in SQL Server bracket-quoting,
// with any closing bracket in the name doubled to prevent an attacker
// from closing the identifier early.
func (i Ident) Quoted() string {
	return "[" + strings.ReplaceAll(i.raw, "]", "]]") + "]"
}

// A Schema is a (possibly multi-part) qualified schema path, e.g.
// "dbo" or "some_catalog.dbo".
type Schema struct {
	parts []Ident
}

// NewSchema splits a dotted schema-qualified string into its parts.
func NewSchema(dotted string) Schema {
	if dotted == "" {
		return Schema{}
	}
	raw := strings.Split(dotted, ".")
	parts := make([]Ident, len(raw))
	for i, p := range raw {
		parts[i] = New(p)
	}
	return Schema{parts: parts}
}

// Parts returns the schema's constituent identifiers, outermost first.
func (s Schema) Parts() []Ident { return s.parts }

// Raw renders the schema as a dotted, unquoted string.
func (s Schema) Raw() string {
	raw := make([]string, len(s.parts))
	for i, p := range s.parts {
		raw[i] = p.Raw()
	}
	return strings.Join(raw, ".")
}

// Quoted renders the schema with every part bracket-quoted and
// separated by dots, safe for interpolation into a statement.
func (s Schema) Quoted() string {
	quoted := make([]string, len(s.parts))
	for i, p := range s.parts {
		quoted[i] = p.Quoted()
	}
	return strings.Join(quoted, ".")
}

func (s Schema) String() string { return s.Raw() }

// A Table is a schema-qualified table (or procedure, or user-defined
// type) name.
type Table struct {
	schema Schema
	name   Ident
}

// NewTable joins a schema and a bare name into a qualified Table.
func NewTable(schema Schema, name Ident) Table {
	return Table{schema: schema, name: name}
}

// NewQualifiedTable splits a fully-dotted string ("dbo.Orders") into a
// Table, treating the last component as the name and everything before
// it as the schema.
func NewQualifiedTable(dotted string) Table {
	idx := strings.LastIndex(dotted, ".")
	if idx < 0 {
		return Table{name: New(dotted)}
	}
	return Table{schema: NewSchema(dotted[:idx]), name: New(dotted[idx+1:])}
}

// Schema returns the table's schema portion.
func (t Table) Schema() Schema { return t.schema }

// Name returns the table's bare, unqualified name.
func (t Table) Name() Ident { return t.name }

// Raw renders the fully dotted, unquoted name.
func (t Table) Raw() string {
	if s := t.schema.Raw(); s != "" {
		return s + "." + t.name.Raw()
	}
	return t.name.Raw()
}

// Quoted renders the fully dotted name with every part bracket-quoted,
// closing brackets doubled part-by-part so injection via an embedded
// "]." sequence cannot escape a single identifier boundary.
func (t Table) Quoted() string {
	if s := t.schema.Quoted(); s != "" {
		return s + "." + t.name.Quoted()
	}
	return t.name.Quoted()
}

func (t Table) String() string { return t.Raw() }

// Equal compares two tables by their raw, case-sensitive name. SQL
// Server's own collation may treat names as case-insensitive, but this
// library treats table identity by exact byte identity.
func (t Table) Equal(o Table) bool { return t.Raw() == o.Raw() }
