package table

import (
	"fmt"
	"strings"
)

type Field struct {
	Name string
	Type DType
}

// Schema is an order-significant name -> type mapping
type Schema []Field

func (self Schema) Field(name string) (Field, bool) {
	for _, f := range self {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (self Schema) Names() []string {
	out := make([]string, len(self))
	for i, f := range self {
		out[i] = f.Name
	}
	return out
}

func (self Schema) Equal(o Schema) bool {
	if len(self) != len(o) {
		return false
	}
	for i, f := range self {
		if f != o[i] {
			return false
		}
	}
	return true
}

func (self Schema) String() string {
	parts := make([]string, len(self))
	for i, f := range self {
		parts[i] = fmt.Sprintf("%s: %s", f.Name, f.Type.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Table is a micropartition: an immutable, in-memory, columnar table
// fragment. Every column has the same length and column names are
// unique. All transforms produce a new Table.
type Table struct {
	cols  []*Series
	nrows int
}

func NewTable(cols ...*Series) (*Table, error) {
	nrows := 0
	seen := make(map[string]bool)
	for i, c := range cols {
		if seen[c.Name()] {
			return nil, fmt.Errorf("table: duplicate column name %q", c.Name())
		}
		seen[c.Name()] = true
		if i == 0 {
			nrows = c.Len()
		} else if c.Len() != nrows {
			return nil, fmt.Errorf(
				"table: column %q has %d rows, want %d",
				c.Name(), c.Len(), nrows,
			)
		}
	}
	return &Table{cols: cols, nrows: nrows}, nil
}

// Empty builds a zero-row table carrying the given schema
func Empty(schema Schema) *Table {
	cols := make([]*Series, len(schema))
	for i, f := range schema {
		cols[i] = &Series{name: f.Name, dtype: f.Type}
	}
	return &Table{cols: cols}
}

func (self *Table) NumRows() int    { return self.nrows }
func (self *Table) NumColumns() int { return len(self.cols) }

func (self *Table) Schema() Schema {
	out := make(Schema, len(self.cols))
	for i, c := range self.cols {
		out[i] = Field{Name: c.Name(), Type: c.Type()}
	}
	return out
}

func (self *Table) ColumnNames() []string {
	out := make([]string, len(self.cols))
	for i, c := range self.cols {
		out[i] = c.Name()
	}
	return out
}

func (self *Table) Column(name string) (*Series, bool) {
	for _, c := range self.cols {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

func (self *Table) ColumnAt(i int) *Series { return self.cols[i] }

func (self *Table) SizeBytes() int64 {
	sz := int64(0)
	for _, c := range self.cols {
		sz += c.sizeBytes()
	}
	return sz
}

// Take gathers rows by index across every column, -1 meaning null
func (self *Table) Take(idx []int) *Table {
	cols := make([]*Series, len(self.cols))
	for i, c := range self.cols {
		cols[i] = c.Take(idx)
	}
	return &Table{cols: cols, nrows: len(idx)}
}

// Head keeps the first n rows
func (self *Table) Head(n int) *Table {
	if n >= self.nrows {
		return self
	}
	cols := make([]*Series, len(self.cols))
	for i, c := range self.cols {
		cols[i] = c.Head(n)
	}
	return &Table{cols: cols, nrows: n}
}

// ToMap dumps the table columns as a name -> boxed values mapping,
// mostly for tests and debugging
func (self *Table) ToMap() map[string][]interface{} {
	out := make(map[string][]interface{}, len(self.cols))
	for _, c := range self.cols {
		out[c.Name()] = c.Values()
	}
	return out
}

// Concat unions tables vertically. All inputs must carry the same
// schema, otherwise the union is rejected.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: concat of zero tables", ErrSchemaMismatch)
	}
	first := tables[0].Schema()
	nrows := 0
	for _, t := range tables {
		if s := t.Schema(); !s.Equal(first) {
			return nil, fmt.Errorf(
				"%w: concat of %s against %s",
				ErrSchemaMismatch, s.String(), first.String(),
			)
		}
		nrows += t.NumRows()
	}
	cols := make([]*Series, len(first))
	for i, f := range first {
		vals := make([]interface{}, 0, nrows)
		for _, t := range tables {
			vals = append(vals, t.cols[i].vals...)
		}
		cols[i] = &Series{name: f.Name, dtype: f.Type, vals: vals}
	}
	return &Table{cols: cols, nrows: nrows}, nil
}
