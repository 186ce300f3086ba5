package exec

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quarrylab/quarry/plan"
	"github.com/quarrylab/quarry/table"
)

// Runner resolves a query tree into its output partitions. Resolution
// is a recursive depth-first evaluation: a node's inputs are resolved
// first (siblings concurrently, they share no mutable state), then the
// node's own stage runs. Map-like stages stream partition by
// partition; join and aggregate drain their inputs before emitting.
// Execution is pull-driven, so a consumer that stops early never pays
// for partitions it does not take.
type Runner struct {
	cache *Cache
	log   zerolog.Logger
}

func NewRunner(cache *Cache, log zerolog.Logger) *Runner {
	return &Runner{cache: cache, log: log}
}

// partIter is the pull contract between stages: repeated Next calls
// yield partitions until io.EOF
type partIter interface {
	Next(ctx context.Context) (*table.Table, error)
}

// ----------------------------------------------------------------------------
// one run of one (tree, root)
// ----------------------------------------------------------------------------

type memoEntry struct {
	once  sync.Once
	parts []*table.Table
	err   error
}

type run struct {
	r    *Runner
	tree *plan.Tree

	// nodes reachable via more than one path materialize exactly once;
	// re-running them would duplicate work (and side effects)
	memo map[plan.NodeID]*memoEntry
}

func (self *Runner) newRun(tree *plan.Tree, root plan.NodeID) *run {
	rn := &run{r: self, tree: tree, memo: make(map[plan.NodeID]*memoEntry)}

	inDegree := make(map[plan.NodeID]int)
	for _, id := range plan.DFS(tree, root, func(*plan.Stage) bool { return true }) {
		for _, e := range tree.Children(id) {
			inDegree[e.Child]++
		}
	}
	for id, n := range inDegree {
		if n > 1 {
			rn.memo[id] = &memoEntry{}
		}
	}
	return rn
}

func (self *run) resolve(id plan.NodeID) partIter {
	if me, ok := self.memo[id]; ok {
		return &memoIter{rn: self, id: id, me: me}
	}
	return self.stageIter(id)
}

func (self *run) childID(id plan.NodeID, slot string) (plan.NodeID, bool) {
	for _, e := range self.tree.Children(id) {
		if e.Slot == slot {
			return e.Child, true
		}
	}
	return 0, false
}

// stageIter builds the pull iterator of one stage. Leaf sources run
// with no inputs; everything else pulls from its resolved children.
func (self *run) stageIter(id plan.NodeID) partIter {
	stage := self.tree.Stage(id)

	switch stage.Type {
	case plan.StageInMemorySource:
		src := stage.Source
		return &lazyIter{make: func(ctx context.Context) (partIter, error) {
			e, ok := self.r.cache.lookup(src.CacheID)
			if !ok {
				return nil, fmt.Errorf("source references unknown cache entry %s", src.CacheID)
			}
			var it partIter = &sliceIter{parts: e.Set().Tables()}
			if src.ReadLimit >= 0 {
				it = &limitIter{child: it, remaining: src.ReadLimit}
			}
			return it, nil
		}}

	case plan.StageWhere:
		child, _ := self.childID(id, plan.SlotInput)
		w := stage.Where
		return &mapIter{
			child: self.resolve(child),
			fn: func(t *table.Table) (*table.Table, error) {
				return t.FilterRows(w.Column, w.Cmp, w.Value)
			},
		}

	case plan.StageApply:
		child, _ := self.childID(id, plan.SlotInput)
		a := stage.Apply
		return &mapIter{
			child: self.resolve(child),
			fn: func(t *table.Table) (*table.Table, error) {
				out, err := a.Fn(t)
				if err != nil {
					return nil, err
				}
				if !out.Schema().Equal(a.Out) {
					return nil, fmt.Errorf(
						"%w: apply produced %s, declared %s",
						table.ErrSchemaMismatch, out.Schema().String(), a.Out.String(),
					)
				}
				return out, nil
			},
		}

	case plan.StageLimit:
		child, _ := self.childID(id, plan.SlotInput)
		return &limitIter{child: self.resolve(child), remaining: stage.Limit.N}

	case plan.StageAggregate:
		child, _ := self.childID(id, plan.SlotInput)
		agg := stage.Agg
		childOut := self.tree.Stage(child).Out
		return &lazyIter{make: func(ctx context.Context) (partIter, error) {
			in, err := self.drainOne(ctx, child, childOut)
			if err != nil {
				return nil, err
			}
			out, err := in.Agg(agg.Aggs, agg.GroupBy)
			if err != nil {
				return nil, err
			}
			return &sliceIter{parts: []*table.Table{out}}, nil
		}}

	case plan.StageJoin:
		leftID, _ := self.childID(id, plan.SlotLeft)
		rightID, _ := self.childID(id, plan.SlotRight)
		j := stage.Join
		lOut := self.tree.Stage(leftID).Out
		rOut := self.tree.Stage(rightID).Out
		return &lazyIter{make: func(ctx context.Context) (partIter, error) {
			var left, right *table.Table
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				t, err := self.drainOne(gctx, leftID, lOut)
				left = t
				return err
			})
			g.Go(func() error {
				t, err := self.drainOne(gctx, rightID, rOut)
				right = t
				return err
			})
			if err := g.Wait(); err != nil {
				return nil, err
			}

			opts := []table.JoinOption{}
			if j.NullEqualsNulls != nil {
				opts = append(opts, table.WithNullEqualsNulls(j.NullEqualsNulls))
			}
			if j.RenamePrefix != "" {
				opts = append(opts, table.WithRenamePrefix(j.RenamePrefix))
			}
			var out *table.Table
			var err error
			switch j.Strategy {
			case plan.StrategySortMerge:
				out, err = left.SortMergeJoin(right, j.LeftOn, j.RightOn, j.How, opts...)
			default:
				out, err = left.HashJoin(right, j.LeftOn, j.RightOn, j.How, opts...)
			}
			if err != nil {
				return nil, err
			}
			return &sliceIter{parts: []*table.Table{out}}, nil
		}}

	default:
		return &errIter{err: fmt.Errorf("stage not implemented: %s", stage.Type.String())}
	}
}

// drainOne materializes a child into a single table, falling back to
// an empty table of the child's schema when it emits no partitions
func (self *run) drainOne(
	ctx context.Context,
	id plan.NodeID,
	schema table.Schema,
) (*table.Table, error) {
	parts, err := drainAll(ctx, self.resolve(id))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return table.Empty(schema), nil
	}
	return table.Concat(parts...)
}

func drainAll(ctx context.Context, it partIter) ([]*table.Table, error) {
	out := []*table.Table{}
	for {
		t, err := it.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
}

// ----------------------------------------------------------------------------
// iterators
// ----------------------------------------------------------------------------

type sliceIter struct {
	parts []*table.Table
	i     int
}

func (self *sliceIter) Next(ctx context.Context) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if self.i >= len(self.parts) {
		return nil, io.EOF
	}
	t := self.parts[self.i]
	self.i++
	return t, nil
}

type mapIter struct {
	child partIter
	fn    func(t *table.Table) (*table.Table, error)
}

func (self *mapIter) Next(ctx context.Context) (*table.Table, error) {
	t, err := self.child.Next(ctx)
	if err != nil {
		return nil, err
	}
	return self.fn(t)
}

// limitIter caps total rows, truncating the partition that crosses the
// cap and never pulling past it
type limitIter struct {
	child     partIter
	remaining int64
}

func (self *limitIter) Next(ctx context.Context) (*table.Table, error) {
	if self.remaining <= 0 {
		return nil, io.EOF
	}
	t, err := self.child.Next(ctx)
	if err != nil {
		return nil, err
	}
	if int64(t.NumRows()) > self.remaining {
		t = t.Head(int(self.remaining))
	}
	self.remaining -= int64(t.NumRows())
	return t, nil
}

// lazyIter defers building its inner iterator until the first pull
type lazyIter struct {
	make  func(ctx context.Context) (partIter, error)
	inner partIter
}

func (self *lazyIter) Next(ctx context.Context) (*table.Table, error) {
	if self.inner == nil {
		it, err := self.make(ctx)
		if err != nil {
			return nil, err
		}
		self.inner = it
	}
	return self.inner.Next(ctx)
}

// memoIter materializes a diamond-shared node exactly once and replays
// the result to every parent
type memoIter struct {
	rn *run
	id plan.NodeID
	me *memoEntry
	i  int
}

func (self *memoIter) Next(ctx context.Context) (*table.Table, error) {
	self.me.once.Do(func() {
		self.me.parts, self.me.err = drainAll(ctx, self.rn.stageIter(self.id))
	})
	if self.me.err != nil {
		return nil, self.me.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if self.i >= len(self.me.parts) {
		return nil, io.EOF
	}
	t := self.me.parts[self.i]
	self.i++
	return t, nil
}

type errIter struct {
	err error
}

func (self *errIter) Next(context.Context) (*table.Table, error) { return nil, self.err }

// ----------------------------------------------------------------------------
// public entry points
// ----------------------------------------------------------------------------

type streamItem struct {
	t   *table.Table
	err error
}

// Stream is the streaming materialization contract: a bounded channel
// of output partitions. The buffer depth caps how many partitions may
// be in flight before the producer blocks (backpressure), and Close
// cancels the producer so early termination does not execute the rest
// of the plan.
type Stream struct {
	items  chan streamItem
	cancel context.CancelFunc
	once   sync.Once
}

// Next yields the next output partition, io.EOF after the last one
func (self *Stream) Next() (*table.Table, error) {
	item, ok := <-self.items
	if !ok {
		return nil, io.EOF
	}
	return item.t, item.err
}

// Close stops the producer. Safe to call more than once, and after EOF.
func (self *Stream) Close() {
	self.once.Do(self.cancel)
}

// Stream starts pull-driven execution of (tree, root) and returns the
// output partition stream
func (self *Runner) Stream(
	ctx context.Context,
	tree *plan.Tree,
	root plan.NodeID,
	bufferDepth int,
) *Stream {
	if bufferDepth < 0 {
		bufferDepth = 0
	}
	ctx, cancel := context.WithCancel(ctx)
	out := &Stream{
		items:  make(chan streamItem, bufferDepth),
		cancel: cancel,
	}

	rn := self.newRun(tree, root)
	it := rn.resolve(root)
	self.log.Debug().
		Int("nodes", tree.NumNodes()).
		Int("buffer_depth", bufferDepth).
		Msg("plan execution started")

	go func() {
		defer close(out.items)
		for {
			t, err := it.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				select {
				case out.items <- streamItem{err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case out.items <- streamItem{t: t}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Collect runs the plan to completion and commits the output into the
// partition cache, returning the owning entry. There is no partial
// result: the plan either fully succeeds or Collect fails.
func (self *Runner) Collect(
	ctx context.Context,
	tree *plan.Tree,
	root plan.NodeID,
) (*CacheEntry, error) {
	rn := self.newRun(tree, root)
	parts, err := drainAll(ctx, rn.resolve(root))
	if err != nil {
		return nil, err
	}
	entry := self.cache.Put(NewPartitionSet(parts...))
	self.log.Debug().
		Str("entry", entry.ID().String()).
		Int64("rows", entry.Meta().NumRows).
		Msg("plan results materialized")
	return entry, nil
}
