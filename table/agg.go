package table

import (
	"bytes"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// The closed set of reduction operators. Dispatch over these is
// exhaustive with an explicit not-implemented arm, never a runtime
// fallthrough.
const (
	AggSum = iota
	AggMean
	AggMin
	AggMax
	AggCount    // count of non-null values of a column
	AggCountAll // count of rows, no column
	AggAnyValue
	AggList
	AggSet
	AggConcat
	AggStddev
	AggSkew
)

type AggOp int

func (self AggOp) String() string {
	switch self {
	case AggSum:
		return "sum"
	case AggMean:
		return "mean"
	case AggMin:
		return "min"
	case AggMax:
		return "max"
	case AggCount:
		return "count"
	case AggCountAll:
		return "count(*)"
	case AggAnyValue:
		return "any_value"
	case AggList:
		return "list"
	case AggSet:
		return "set"
	case AggConcat:
		return "concat"
	case AggStddev:
		return "stddev"
	case AggSkew:
		return "skew"
	default:
		return "unknown"
	}
}

// AggExpr pairs a reduction operator with the column expression it
// reduces. AggCountAll takes no expression.
type AggExpr struct {
	Op   AggOp
	Expr Expr   // nil for AggCountAll
	As   string // output name, defaults to the expression name
}

func (self *AggExpr) outName() string {
	if self.As != "" {
		return self.As
	}
	if self.Expr != nil {
		return self.Expr.Name()
	}
	return "count"
}

// ResultField resolves the output field of the aggregate against an
// input schema, validating the operator/type combination without
// touching data. The planner calls this at build time.
func (self *AggExpr) ResultField(schema Schema) (Field, error) {
	name := self.outName()
	if self.Op == AggCountAll {
		if self.Expr != nil {
			return Field{}, fmt.Errorf(
				"%w: count(*) takes no column expression", ErrTypeError,
			)
		}
		return Field{Name: name, Type: TypeInt}, nil
	}
	if self.Expr == nil {
		return Field{}, fmt.Errorf(
			"%w: aggregation %s requires a column expression",
			ErrTypeError, self.Op.String(),
		)
	}
	in, err := self.Expr.Resolve(schema)
	if err != nil {
		return Field{}, err
	}

	switch self.Op {
	case AggSum:
		if in.Type != TypeNull && !in.Type.IsNumeric() {
			return Field{}, aggTypeErr(self.Op, in)
		}
		return Field{Name: name, Type: in.Type}, nil
	case AggMean, AggStddev, AggSkew:
		if in.Type != TypeNull && !in.Type.IsNumeric() {
			return Field{}, aggTypeErr(self.Op, in)
		}
		return Field{Name: name, Type: TypeFloat}, nil
	case AggMin, AggMax, AggAnyValue:
		return Field{Name: name, Type: in.Type}, nil
	case AggCount:
		return Field{Name: name, Type: TypeInt}, nil
	case AggList:
		return Field{Name: name, Type: TypeList}, nil
	case AggSet:
		if !in.Type.IsHashable() {
			return Field{}, fmt.Errorf(
				"%w: set aggregation over %s elements",
				ErrUnhashableType, in.Type.String(),
			)
		}
		return Field{Name: name, Type: TypeList}, nil
	case AggConcat:
		if in.Type != TypeList {
			return Field{}, aggTypeErr(self.Op, in)
		}
		return Field{Name: name, Type: TypeList}, nil
	default:
		return Field{}, fmt.Errorf(
			"aggregation operator not implemented: %d", int(self.Op),
		)
	}
}

func aggTypeErr(op AggOp, in Field) error {
	return fmt.Errorf(
		"%w: cannot apply %s over column %q of type %s",
		ErrTypeError, op.String(), in.Name, in.Type.String(),
	)
}

// ----------------------------------------------------------------------------
// GroupBy / aggregation kernel
//
// Grouping reuses the join kernel's composite key encoding with every
// null-safe flag on, so null keys group together. Group output order
// is unspecified; callers wanting determinism sort afterwards.
// ----------------------------------------------------------------------------

// Agg reduces the table into one row per group, or a single row when no
// group-by expressions are given. Null handling per operator follows
// SQL semantics: sum/mean/min/max/stddev/skew skip nulls, count(col)
// counts non-nulls, count(*) counts rows.
func (self *Table) Agg(
	aggs []AggExpr,
	groupBy []Expr,
) (*Table, error) {
	schema := self.Schema()

	outFields := make([]Field, len(aggs))
	for i := range aggs {
		f, err := aggs[i].ResultField(schema)
		if err != nil {
			return nil, err
		}
		outFields[i] = f
	}

	// group keys fail fast, before any data is scanned
	keyFields := make([]Field, len(groupBy))
	for i, e := range groupBy {
		f, err := e.Resolve(schema)
		if err != nil {
			return nil, err
		}
		if f.Type == TypeNull {
			return nil, fmt.Errorf(
				"%w: group by key %q resolves to null type", ErrTypeError, f.Name,
			)
		}
		if !f.Type.IsHashable() {
			return nil, fmt.Errorf(
				"%w: group by key %q of type %s", ErrTypeError, f.Name, f.Type.String(),
			)
		}
		keyFields[i] = f
	}

	groups, err := self.groupRows(groupBy, keyFields)
	if err != nil {
		return nil, err
	}

	aggIn := make([]*Series, len(aggs))
	for i := range aggs {
		if aggs[i].Expr == nil {
			continue
		}
		s, err := aggs[i].Expr.Eval(self)
		if err != nil {
			return nil, err
		}
		aggIn[i] = s
	}

	cols := []*Series{}
	for ki, e := range groupBy {
		s, err := e.Eval(self)
		if err != nil {
			return nil, err
		}
		vals := make([]interface{}, len(groups))
		for gi, g := range groups {
			vals[gi] = s.Value(g[0])
		}
		col, err := NewSeries(keyFields[ki].Name, keyFields[ki].Type, vals)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	for ai := range aggs {
		vals := make([]interface{}, len(groups))
		for gi, g := range groups {
			v, err := reduce(aggs[ai].Op, aggIn[ai], g)
			if err != nil {
				return nil, err
			}
			vals[gi] = v
		}
		col, err := NewSeries(outFields[ai].Name, outFields[ai].Type, vals)
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
	}
	return NewTable(cols...)
}

// groupRows buckets row indices by composite group key. With no keys
// there is exactly one group holding every row.
func (self *Table) groupRows(
	groupBy []Expr,
	keyFields []Field,
) ([][]int, error) {
	if len(groupBy) == 0 {
		all := make([]int, self.nrows)
		for i := range all {
			all[i] = i
		}
		return [][]int{all}, nil
	}

	keys := make([]*Series, len(groupBy))
	kinds := make([]DType, len(groupBy))
	nullEq := make([]bool, len(groupBy))
	for i, e := range groupBy {
		s, err := e.Eval(self)
		if err != nil {
			return nil, err
		}
		keys[i] = s
		kinds[i] = keyFields[i].Type
		nullEq[i] = true // nulls group together
	}

	type bucket struct {
		key  []byte
		rows []int
	}
	buckets := []*bucket{}
	ht := make(map[uint64][]int)
	for r := 0; r < self.nrows; r++ {
		key, ok := encodeKeyRow(nil, keys, kinds, nullEq, r)
		if !ok {
			return nil, fmt.Errorf(
				"%w: group key at row %d is not encodable", ErrTypeError, r,
			)
		}
		h := xxhash.Sum64(key)
		found := false
		for _, bi := range ht[h] {
			if bytes.Equal(buckets[bi].key, key) {
				buckets[bi].rows = append(buckets[bi].rows, r)
				found = true
				break
			}
		}
		if !found {
			ht[h] = append(ht[h], len(buckets))
			buckets = append(buckets, &bucket{key: key, rows: []int{r}})
		}
	}

	out := make([][]int, len(buckets))
	for i, b := range buckets {
		out[i] = b.rows
	}
	return out, nil
}

// reduce applies one operator over the rows of one group
func reduce(op AggOp, s *Series, rows []int) (interface{}, error) {
	switch op {
	case AggCountAll:
		return int64(len(rows)), nil
	case AggCount:
		n := int64(0)
		for _, r := range rows {
			if !s.IsNull(r) {
				n++
			}
		}
		return n, nil
	case AggSum:
		return reduceSum(s, rows), nil
	case AggMean:
		n, mean, _, _ := moments(s, rows)
		if n == 0 {
			return nil, nil
		}
		return mean, nil
	case AggMin, AggMax:
		return reduceMinMax(op, s, rows)
	case AggAnyValue:
		for _, r := range rows {
			if !s.IsNull(r) {
				return s.Value(r), nil
			}
		}
		return nil, nil
	case AggList:
		out := make([]interface{}, len(rows))
		for i, r := range rows {
			out[i] = s.Value(r)
		}
		return out, nil
	case AggSet:
		seen := make(map[interface{}]bool)
		out := []interface{}{}
		for _, r := range rows {
			v := s.Value(r)
			if v == nil || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
		return out, nil
	case AggConcat:
		out := []interface{}{}
		for _, r := range rows {
			if s.IsNull(r) {
				continue
			}
			out = append(out, s.Value(r).([]interface{})...)
		}
		return out, nil
	case AggStddev:
		// population standard deviation
		n, _, m2, _ := moments(s, rows)
		if n == 0 {
			return nil, nil
		}
		return math.Sqrt(m2), nil
	case AggSkew:
		// population skewness m3 / m2^(3/2), null for a
		// zero-variance group
		n, _, m2, m3 := moments(s, rows)
		if n == 0 || m2 == 0 {
			return nil, nil
		}
		return m3 / math.Pow(m2, 1.5), nil
	default:
		return nil, fmt.Errorf("aggregation operator not implemented: %d", int(op))
	}
}

func reduceSum(s *Series, rows []int) interface{} {
	if s.Type() == TypeInt {
		sum := int64(0)
		seen := false
		for _, r := range rows {
			if s.IsNull(r) {
				continue
			}
			sum += s.Value(r).(int64)
			seen = true
		}
		if !seen {
			return nil
		}
		return sum
	}
	sum := float64(0)
	seen := false
	for _, r := range rows {
		if s.IsNull(r) {
			continue
		}
		sum += asFloat(s.Value(r))
		seen = true
	}
	if !seen {
		return nil
	}
	return sum
}

func reduceMinMax(op AggOp, s *Series, rows []int) (interface{}, error) {
	var best interface{}
	for _, r := range rows {
		if s.IsNull(r) {
			continue
		}
		v := s.Value(r)
		if best == nil {
			best = v
			continue
		}
		c, err := compareValues(v, best)
		if err != nil {
			return nil, err
		}
		if (op == AggMin && c < 0) || (op == AggMax && c > 0) {
			best = v
		}
	}
	return best, nil
}

func asFloat(v interface{}) float64 {
	switch x := v.(type) {
	case int64:
		return float64(x)
	case float64:
		return x
	default:
		return math.NaN()
	}
}

// moments computes count, mean and the second/third population central
// moments over the non-null rows
func moments(s *Series, rows []int) (int, float64, float64, float64) {
	n := 0
	sum := 0.0
	for _, r := range rows {
		if s.IsNull(r) {
			continue
		}
		sum += asFloat(s.Value(r))
		n++
	}
	if n == 0 {
		return 0, 0, 0, 0
	}
	mean := sum / float64(n)
	m2, m3 := 0.0, 0.0
	for _, r := range rows {
		if s.IsNull(r) {
			continue
		}
		d := asFloat(s.Value(r)) - mean
		m2 += d * d
		m3 += d * d * d
	}
	return n, mean, m2 / float64(n), m3 / float64(n)
}
