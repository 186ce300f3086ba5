package table

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlobalAggregation(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t, col(t, "x", 1, 2, 2, nil, 4))

	one := func(op AggOp, as string, check func(v interface{})) {
		out, err := in.Agg([]AggExpr{{Op: op, Expr: Col("x"), As: as}}, nil)
		assert.NoError(err)
		assert.Equal(1, out.NumRows())
		s, ok := out.Column(as)
		assert.True(ok)
		check(s.Value(0))
	}

	one(AggSum, "sum", func(v interface{}) {
		assert.Equal(int64(9), v)
	})
	one(AggMean, "mean", func(v interface{}) {
		assert.Equal(2.25, v)
	})
	one(AggMin, "min", func(v interface{}) {
		assert.Equal(int64(1), v)
	})
	one(AggMax, "max", func(v interface{}) {
		assert.Equal(int64(4), v)
	})
	one(AggCount, "count", func(v interface{}) {
		assert.Equal(int64(4), v)
	})
	one(AggAnyValue, "any", func(v interface{}) {
		assert.Contains([]interface{}{int64(1), int64(2), int64(4)}, v)
	})
	one(AggList, "list", func(v interface{}) {
		assert.Equal([]interface{}{int64(1), int64(2), int64(2), nil, int64(4)}, v)
	})
	one(AggSet, "set", func(v interface{}) {
		got := v.([]interface{})
		sort.Slice(got, func(i, j int) bool { return got[i].(int64) < got[j].(int64) })
		assert.Equal([]interface{}{int64(1), int64(2), int64(4)}, got)
	})
	one(AggStddev, "stddev", func(v interface{}) {
		assert.InDelta(1.0897247358851685, v.(float64), 1e-12)
	})
}

func TestCountAll(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t, col(t, "x", 1, nil, nil))
	out, err := in.Agg([]AggExpr{
		{Op: AggCountAll},
		{Op: AggCount, Expr: Col("x"), As: "count_x"},
	}, nil)
	assert.NoError(err)

	// count(*) counts rows, count(col) counts non-null values
	c, ok := out.Column("count")
	assert.True(ok)
	assert.Equal(int64(3), c.Value(0))
	cx, _ := out.Column("count_x")
	assert.Equal(int64(1), cx.Value(0))
}

func TestStddevPopulation(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t, col(t, "x", 0, 1, 2))
	out, err := in.Agg([]AggExpr{{Op: AggStddev, Expr: Col("x"), As: "sd"}}, nil)
	assert.NoError(err)
	sd, _ := out.Column("sd")
	assert.InDelta(0.816496580927726, sd.Value(0).(float64), 1e-12)
}

func TestSkew(t *testing.T) {
	assert := assert.New(t)

	one := func(vals []interface{}, check func(v interface{})) {
		in := tbl(t, col(t, "x", vals...))
		out, err := in.Agg([]AggExpr{{Op: AggSkew, Expr: Col("x"), As: "sk"}}, nil)
		assert.NoError(err)
		sk, _ := out.Column("sk")
		check(sk.Value(0))
	}

	// symmetric distribution has zero skewness
	one([]interface{}{1, 2, 3}, func(v interface{}) {
		assert.InDelta(0.0, v.(float64), 1e-12)
	})
	// right tail pulls skewness positive
	one([]interface{}{1, 1, 1, 10}, func(v interface{}) {
		assert.Greater(v.(float64), 0.0)
	})
	// zero variance and all-null groups have no skewness
	one([]interface{}{5, 5, 5}, func(v interface{}) {
		assert.Nil(v)
	})
	one([]interface{}{nil, nil}, func(v interface{}) {
		assert.Nil(v)
	})
}

func TestConcatAggregation(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t, col(t, "x",
		[]interface{}{int64(1), int64(2)},
		nil,
		[]interface{}{int64(3)},
	))
	out, err := in.Agg([]AggExpr{{Op: AggConcat, Expr: Col("x"), As: "c"}}, nil)
	assert.NoError(err)
	c, _ := out.Column("c")
	assert.Equal([]interface{}{int64(1), int64(2), int64(3)}, c.Value(0))
}

func TestAggregationOverEmptyTable(t *testing.T) {
	assert := assert.New(t)

	in := Empty(Schema{{Name: "x", Type: TypeInt}})
	out, err := in.Agg([]AggExpr{
		{Op: AggSum, Expr: Col("x"), As: "s"},
		{Op: AggCountAll, As: "n"},
	}, nil)
	assert.NoError(err)
	assert.Equal(1, out.NumRows())
	s, _ := out.Column("s")
	assert.Nil(s.Value(0))
	n, _ := out.Column("n")
	assert.Equal(int64(0), n.Value(0))
}

func TestGroupedAggregation(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t,
		col(t, "k", "a", "a", "b", nil, nil, "b"),
		col(t, "v", 1, 2, 3, 4, nil, 5),
	)
	out, err := in.Agg([]AggExpr{
		{Op: AggSum, Expr: Col("v"), As: "sum"},
		{Op: AggCount, Expr: Col("v"), As: "cnt"},
		{Op: AggCountAll, As: "rows"},
	}, []Expr{Col("k")})
	assert.NoError(err)
	assert.Equal([]string{"k", "sum", "cnt", "rows"}, out.ColumnNames())

	// null keys form a group of their own
	assert.ElementsMatch([]map[string]interface{}{
		{"k": "a", "sum": int64(3), "cnt": int64(2), "rows": int64(2)},
		{"k": "b", "sum": int64(8), "cnt": int64(2), "rows": int64(2)},
		{"k": nil, "sum": int64(4), "cnt": int64(1), "rows": int64(2)},
	}, rowsOf(out))
}

func TestGroupedAggregationTwoKeys(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t,
		col(t, "k1", "x", "x", "y", "y"),
		col(t, "k2", 1, 2, 1, 1),
		col(t, "v", 10, 20, 30, 40),
	)
	out, err := in.Agg(
		[]AggExpr{{Op: AggSum, Expr: Col("v"), As: "sum"}},
		[]Expr{Col("k1"), Col("k2")},
	)
	assert.NoError(err)
	assert.ElementsMatch([]map[string]interface{}{
		{"k1": "x", "k2": int64(1), "sum": int64(10)},
		{"k1": "x", "k2": int64(2), "sum": int64(20)},
		{"k1": "y", "k2": int64(1), "sum": int64(70)},
	}, rowsOf(out))
}

func TestGroupedMeanFloats(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t,
		col(t, "k", "a", "a", "b"),
		col(t, "v", 1.0, 2.0, 7.5),
	)
	out, err := in.Agg(
		[]AggExpr{{Op: AggMean, Expr: Col("v"), As: "mean"}},
		[]Expr{Col("k")},
	)
	assert.NoError(err)
	assert.ElementsMatch([]map[string]interface{}{
		{"k": "a", "mean": 1.5},
		{"k": "b", "mean": 7.5},
	}, rowsOf(out))
}

func TestAggregationValidation(t *testing.T) {
	assert := assert.New(t)

	in := tbl(t,
		col(t, "s", "p", "q"),
		col(t, "l", []interface{}{int64(1)}, []interface{}{int64(2)}),
		col(t, "n", nil, nil),
		col(t, "x", 1, 2),
	)

	// sum over strings
	_, err := in.Agg([]AggExpr{{Op: AggSum, Expr: Col("s")}}, nil)
	assert.ErrorIs(err, ErrTypeError)

	// set of unhashable list elements
	_, err = in.Agg([]AggExpr{{Op: AggSet, Expr: Col("l")}}, nil)
	assert.ErrorIs(err, ErrUnhashableType)

	// concat needs a list column
	_, err = in.Agg([]AggExpr{{Op: AggConcat, Expr: Col("x")}}, nil)
	assert.ErrorIs(err, ErrTypeError)

	// null-typed group key fails before any data is scanned
	_, err = in.Agg([]AggExpr{{Op: AggCountAll}}, []Expr{Col("n")})
	assert.ErrorIs(err, ErrTypeError)

	// list-typed group key is not hashable
	_, err = in.Agg([]AggExpr{{Op: AggCountAll}}, []Expr{Col("l")})
	assert.ErrorIs(err, ErrTypeError)

	// count(*) takes no column
	_, err = in.Agg([]AggExpr{{Op: AggCountAll, Expr: Col("x")}}, nil)
	assert.ErrorIs(err, ErrTypeError)

	// unknown column
	_, err = in.Agg([]AggExpr{{Op: AggSum, Expr: Col("nope")}}, nil)
	assert.Error(err)
}

func TestAggResultField(t *testing.T) {
	assert := assert.New(t)

	schema := Schema{
		{Name: "i", Type: TypeInt},
		{Name: "f", Type: TypeFloat},
		{Name: "s", Type: TypeString},
	}

	one := func(e AggExpr, want Field) {
		f, err := e.ResultField(schema)
		assert.NoError(err)
		assert.Equal(want, f)
	}

	// sum keeps the input numeric type, mean always widens to float
	one(AggExpr{Op: AggSum, Expr: Col("i")}, Field{Name: "i", Type: TypeInt})
	one(AggExpr{Op: AggSum, Expr: Col("f")}, Field{Name: "f", Type: TypeFloat})
	one(AggExpr{Op: AggMean, Expr: Col("i")}, Field{Name: "i", Type: TypeFloat})
	one(AggExpr{Op: AggMin, Expr: Col("s")}, Field{Name: "s", Type: TypeString})
	one(AggExpr{Op: AggCount, Expr: Col("s")}, Field{Name: "s", Type: TypeInt})
	one(AggExpr{Op: AggList, Expr: Col("s")}, Field{Name: "s", Type: TypeList})
	one(AggExpr{Op: AggCountAll}, Field{Name: "count", Type: TypeInt})
	one(AggExpr{Op: AggSum, Expr: Col("i"), As: "total"}, Field{Name: "total", Type: TypeInt})
}
