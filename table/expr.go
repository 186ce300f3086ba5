package table

import (
	"fmt"
)

// Expr is the contract between the kernels and the expression
// evaluation layer: given a table, produce one typed column of
// matching length, deterministic for a given table snapshot. The
// kernels never look inside an expression.
type Expr interface {
	// output column name
	Name() string

	// resolve the output field against a schema without touching data,
	// used for build-time validation
	Resolve(schema Schema) (Field, error)

	// evaluate into a column of the table's row count
	Eval(t *Table) (*Series, error)

	String() string
}

type colExpr struct {
	name string
}

// Col references a column by name
func Col(name string) Expr { return &colExpr{name: name} }

func (self *colExpr) Name() string { return self.name }

func (self *colExpr) Resolve(schema Schema) (Field, error) {
	if f, ok := schema.Field(self.name); ok {
		return f, nil
	}
	return Field{}, fmt.Errorf("column %q not found in schema %s", self.name, schema.String())
}

func (self *colExpr) Eval(t *Table) (*Series, error) {
	if c, ok := t.Column(self.name); ok {
		return c, nil
	}
	return nil, fmt.Errorf("column %q not found in table", self.name)
}

func (self *colExpr) String() string { return fmt.Sprintf("col(%s)", self.name) }

type aliasExpr struct {
	inner Expr
	as    string
}

// Alias renames the output column of an expression
func Alias(inner Expr, as string) Expr { return &aliasExpr{inner: inner, as: as} }

func (self *aliasExpr) Name() string { return self.as }

func (self *aliasExpr) Resolve(schema Schema) (Field, error) {
	f, err := self.inner.Resolve(schema)
	if err != nil {
		return Field{}, err
	}
	f.Name = self.as
	return f, nil
}

func (self *aliasExpr) Eval(t *Table) (*Series, error) {
	s, err := self.inner.Eval(t)
	if err != nil {
		return nil, err
	}
	return s.Rename(self.as), nil
}

func (self *aliasExpr) String() string {
	return fmt.Sprintf("%s as %s", self.inner.String(), self.as)
}

// Cmp is the closed comparator set of the Where stage
const (
	CmpEq = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

type Cmp int

func (self Cmp) String() string {
	switch self {
	case CmpEq:
		return "=="
	case CmpNe:
		return "!="
	case CmpLt:
		return "<"
	case CmpLe:
		return "<="
	case CmpGt:
		return ">"
	case CmpGe:
		return ">="
	default:
		return "unknown"
	}
}

// compareValues orders two non-null canonical values of compatible
// types. Int and float mix by promotion, bool orders false < true.
func compareValues(a interface{}, b interface{}) (int, error) {
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		if !ok {
			break
		}
		if x == y {
			return 0, nil
		}
		if !x {
			return -1, nil
		}
		return 1, nil
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpInt(x, y), nil
		case float64:
			return cmpFloat(float64(x), y), nil
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpFloat(x, float64(y)), nil
		case float64:
			return cmpFloat(x, y), nil
		}
	case string:
		if y, ok := b.(string); ok {
			if x == y {
				return 0, nil
			}
			if x < y {
				return -1, nil
			}
			return 1, nil
		}
	}
	return 0, fmt.Errorf("%w: cannot compare %T against %T", ErrTypeError, a, b)
}

func cmpInt(x int64, y int64) int {
	if x == y {
		return 0
	}
	if x < y {
		return -1
	}
	return 1
}

func cmpFloat(x float64, y float64) int {
	if x == y {
		return 0
	}
	if x < y {
		return -1
	}
	return 1
}

// FilterRows keeps the rows where the column compares true against the
// value. Null rows never pass, regardless of comparator.
func (self *Table) FilterRows(
	col Expr,
	cmp Cmp,
	value interface{},
) (*Table, error) {
	s, err := col.Eval(self)
	if err != nil {
		return nil, err
	}
	want, _ := normalize(value)
	keep := []int{}
	for i := 0; i < s.Len(); i++ {
		if s.IsNull(i) {
			continue
		}
		c, err := compareValues(s.Value(i), want)
		if err != nil {
			return nil, err
		}
		pass := false
		switch cmp {
		case CmpEq:
			pass = c == 0
		case CmpNe:
			pass = c != 0
		case CmpLt:
			pass = c < 0
		case CmpLe:
			pass = c <= 0
		case CmpGt:
			pass = c > 0
		case CmpGe:
			pass = c >= 0
		default:
			return nil, fmt.Errorf("comparator not implemented: %d", cmp)
		}
		if pass {
			keep = append(keep, i)
		}
	}
	return self.Take(keep), nil
}
