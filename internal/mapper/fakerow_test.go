package mapper

import "github.com/sqlxcore/sqlxcore/internal/types"

// fakeRow is a minimal types.Row double over a fixed set of named
// columns, used across this package's tests.
type fakeRow struct {
	names  []string
	values []any
	nulls  []bool
}

// fakeColumn is one ordered (name, value) pair used to build a fakeRow;
// a map would scramble column order, which several binding rules
// (constructor selection, positional scalar reads) depend on.
type fakeColumn struct {
	Name  string
	Value any
}

func newFakeRow(cols ...fakeColumn) *fakeRow {
	r := &fakeRow{}
	for _, c := range cols {
		r.names = append(r.names, c.Name)
		r.values = append(r.values, c.Value)
		r.nulls = append(r.nulls, c.Value == nil)
	}
	return r
}

func (r *fakeRow) FieldCount() int          { return len(r.names) }
func (r *fakeRow) FieldName(i int) string   { return r.names[i] }
func (r *fakeRow) FieldType(i int) string   { return "" }
func (r *fakeRow) IsNull(i int) bool        { return r.nulls[i] }
func (r *fakeRow) Value(i int) (any, error) { return r.values[i], nil }

var _ types.Row = (*fakeRow)(nil)
