package plan

import (
	"fmt"

	"github.com/quarrylab/quarry/table"
)

// Builder is a persistent (tree, root) pair. Every operation returns a
// NEW builder whose tree is the old tree plus one new root node; the
// receiver is never mutated, so a dataframe handle can branch freely
// off any intermediate plan.
type Builder struct {
	tree *Tree
	root NodeID
}

func (self *Builder) Tree() *Tree  { return self.tree }
func (self *Builder) Root() NodeID { return self.root }

// Schema of the plan's output
func (self *Builder) Schema() table.Schema {
	return self.tree.Stage(self.root).Out
}

// Scan starts a plan at an in-memory source. The source's schema and
// metadata must be supplied up front (taken from the cache entry that
// owns the partitions).
func Scan(src SourceInfo) (*Builder, error) {
	if len(src.Schema) == 0 {
		return nil, fmt.Errorf("scan: source schema must be supplied up front")
	}
	if src.ReadLimit == 0 {
		src.ReadLimit = -1
	}
	stage := Stage{
		Type:   StageInMemorySource,
		Source: &src,
		Out:    src.Schema,
	}
	tree, root, err := NewTree().AddRoot(stage, nil)
	if err != nil {
		return nil, err
	}
	return &Builder{tree: tree, root: root}, nil
}

func (self *Builder) push(
	stage Stage,
	children map[string]NodeID,
) (*Builder, error) {
	tree, root, err := self.tree.AddRoot(stage, children)
	if err != nil {
		return nil, err
	}
	return &Builder{tree: tree, root: root}, nil
}

// Where filters rows with a simple column/comparator/value predicate
func (self *Builder) Where(
	column table.Expr,
	cmp table.Cmp,
	value interface{},
) (*Builder, error) {
	if _, err := column.Resolve(self.Schema()); err != nil {
		return nil, fmt.Errorf("where: %w", err)
	}
	stage := Stage{
		Type:  StageWhere,
		Where: &WhereInfo{Column: column, Cmp: cmp, Value: value},
		Out:   self.Schema(),
	}
	return self.push(stage, map[string]NodeID{SlotInput: self.root})
}

// Apply transforms each partition with an arbitrary function declaring
// its output schema
func (self *Builder) Apply(
	fn func(t *table.Table) (*table.Table, error),
	out table.Schema,
) (*Builder, error) {
	if fn == nil {
		return nil, fmt.Errorf("apply: nil function")
	}
	stage := Stage{
		Type:  StageApply,
		Apply: &ApplyInfo{Fn: fn, Out: out},
		Out:   out,
	}
	return self.push(stage, map[string]NodeID{SlotInput: self.root})
}

// Limit caps the number of output rows
func (self *Builder) Limit(n int64) (*Builder, error) {
	if n < 0 {
		return nil, fmt.Errorf("limit: negative row cap %d", n)
	}
	stage := Stage{
		Type:  StageLimit,
		Limit: &LimitInfo{N: n},
		Out:   self.Schema(),
	}
	return self.push(stage, map[string]NodeID{SlotInput: self.root})
}

// Join merges this plan with another plan's tree under a join stage.
// Key count, key types, the cross-join zero-key rule and the
// sort-merge restrictions are all validated here, before anything is
// scheduled.
func (self *Builder) Join(
	other *Builder,
	leftOn []table.Expr,
	rightOn []table.Expr,
	how table.JoinType,
	strategy JoinStrategy,
	opts ...JoinOpt,
) (*Builder, error) {
	jo := joinOpts{prefix: table.DefaultRenamePrefix}
	for _, f := range opts {
		f(&jo)
	}

	out, err := table.JoinSchema(
		self.Schema(), other.Schema(), leftOn, rightOn, how, jo.prefix,
	)
	if err != nil {
		return nil, err
	}
	if strategy == StrategySortMerge {
		if how != table.JoinInner {
			return nil, fmt.Errorf(
				"%w: sort-merge join only supports inner joins, got %s",
				table.ErrUnsupportedStrategy, how.String(),
			)
		}
		for i, f := range jo.nullEq {
			if f {
				return nil, fmt.Errorf(
					"%w: sort-merge join does not support null-safe equality (key pair %d)",
					table.ErrUnsupportedStrategy, i,
				)
			}
		}
	}
	if jo.nullEq != nil && len(jo.nullEq) != len(leftOn) {
		return nil, fmt.Errorf(
			"%w: null_equals_nulls has %d flags for %d key pairs",
			table.ErrInvalidJoinSpec, len(jo.nullEq), len(leftOn),
		)
	}

	tree, offset := self.tree.Merge(other.tree)
	stage := Stage{
		Type: StageJoin,
		Join: &JoinInfo{
			LeftOn:          leftOn,
			RightOn:         rightOn,
			How:             how,
			Strategy:        strategy,
			NullEqualsNulls: jo.nullEq,
			RenamePrefix:    jo.prefix,
		},
		Out: out,
	}
	tree, root, err := tree.AddRoot(stage, map[string]NodeID{
		SlotLeft:  self.root,
		SlotRight: other.root + offset,
	})
	if err != nil {
		return nil, err
	}
	return &Builder{tree: tree, root: root}, nil
}

type joinOpts struct {
	nullEq []bool
	prefix string
}

type JoinOpt func(*joinOpts)

func WithNullEqualsNulls(flags []bool) JoinOpt {
	return func(o *joinOpts) { o.nullEq = flags }
}

func WithRenamePrefix(prefix string) JoinOpt {
	return func(o *joinOpts) { o.prefix = prefix }
}

// Aggregate reduces the plan's output, optionally grouped. A group key
// resolving to the null type is rejected here, before execution.
func (self *Builder) Aggregate(
	aggs []table.AggExpr,
	groupBy []table.Expr,
) (*Builder, error) {
	in := self.Schema()
	out := table.Schema{}
	for _, e := range groupBy {
		f, err := e.Resolve(in)
		if err != nil {
			return nil, err
		}
		if f.Type == table.TypeNull {
			return nil, fmt.Errorf(
				"%w: group by key %q resolves to null type", table.ErrTypeError, f.Name,
			)
		}
		out = append(out, f)
	}
	for i := range aggs {
		f, err := aggs[i].ResultField(in)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	stage := Stage{
		Type: StageAggregate,
		Agg:  &AggInfo{Aggs: aggs, GroupBy: groupBy},
		Out:  out,
	}
	return self.push(stage, map[string]NodeID{SlotInput: self.root})
}
