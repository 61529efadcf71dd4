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
	"database/sql"
	"reflect"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/pkg/errors"

	"github.com/sqlxcore/sqlxcore/internal/types"
)

// commandBuilder implements types.Command, the surface the binder
// writes parameters onto, translating them into database/sql's named,
// typed, and output-parameter argument shapes. Structured (TVP)
// parameters are wrapped in mssql.TVP so the driver recognizes the
// table-valued payload; everything else passes through as a plain named
// argument.
type commandBuilder struct {
	order     []string
	values    map[string]any
	typeNames map[string]string
	outputs   map[string]*any
}

var _ types.Command = (*commandBuilder)(nil)

func newCommandBuilder() *commandBuilder {
	return &commandBuilder{
		values:    make(map[string]any),
		typeNames: make(map[string]string),
		outputs:   make(map[string]*any),
	}
}

// SetParameterTypeName implements types.Command. It is always called
// before the matching SetParameter for a structured parameter.
func (c *commandBuilder) SetParameterTypeName(name string, udtName string) error {
	c.typeNames[name] = udtName
	return nil
}

// SetParameter implements types.Command.
func (c *commandBuilder) SetParameter(name string, value any) error {
	if udt, ok := c.typeNames[name]; ok {
		value = mssql.TVP{TypeName: udt, Value: value}
		delete(c.typeNames, name)
	}
	c.remember(name)
	c.values[name] = value
	return nil
}

// declareOutput marks name as an output (inout=false) or input/output
// (inout=true) parameter, overriding whatever SetParameter already
// recorded for it with a driver-level output destination the caller
// reads back after the command executes.
func (c *commandBuilder) declareOutput(name string, inout bool) *any {
	dest := new(any)
	if inout {
		if v, ok := c.values[name]; ok {
			*dest = v
		}
	}
	c.remember(name)
	c.outputs[name] = dest
	c.values[name] = sql.Out{Dest: dest, In: inout}
	return dest
}

func (c *commandBuilder) remember(name string) {
	if _, exists := c.values[name]; !exists {
		c.order = append(c.order, name)
	}
}

// Args renders the accumulated parameters as database/sql named
// arguments, in first-set order.
func (c *commandBuilder) Args() []any {
	args := make([]any, len(c.order))
	for i, name := range c.order {
		args[i] = sql.Named(name, c.values[name])
	}
	return args
}

// readback applies every declared output value back onto parameters,
// which must be a map[string]any or a pointer to a struct; any other
// shape is a silent no-op, since there is nowhere to write the value.
func (c *commandBuilder) readback(parameters any) error {
	if len(c.outputs) == 0 {
		return nil
	}

	if m, ok := parameters.(map[string]any); ok {
		for name, dest := range c.outputs {
			m[name] = *dest
		}
		return nil
	}

	rv := reflect.ValueOf(parameters)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return nil
	}
	rv = rv.Elem()
	rt := rv.Type()

	byName := make(map[string]reflect.Value, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" {
			continue
		}
		byName[strings.ToLower(f.Name)] = rv.Field(i)
	}

	for name, dest := range c.outputs {
		field, ok := byName[strings.ToLower(name)]
		if !ok || !field.CanSet() {
			continue
		}
		value := reflect.ValueOf(*dest)
		if !value.IsValid() {
			field.Set(reflect.Zero(field.Type()))
			continue
		}
		if value.Type().AssignableTo(field.Type()) {
			field.Set(value)
		} else if value.Type().ConvertibleTo(field.Type()) {
			field.Set(value.Convert(field.Type()))
		} else {
			return errors.Errorf("executor: cannot assign output parameter %q (%s) back onto field of type %s", name, value.Type(), field.Type())
		}
	}
	return nil
}
