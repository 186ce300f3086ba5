package table

import (
	"fmt"
	"sort"
)

// ----------------------------------------------------------------------------
// Sort-merge join
//
// Both sides are sorted by composite key, then merge-scanned, emitting
// the cross product of each equal run. The strategy is defined only for
// inner joins and rejects null-safe-equal key pairs; those requests
// fail with ErrUnsupportedStrategy instead of silently rerouting to
// the hash strategy, so the limitation is always visible to callers.
// On everything it supports it must agree with the hash strategy on
// the produced row-pair set (output order may differ).
// ----------------------------------------------------------------------------

// SortMergeJoin joins two tables by sorting both sides on the composite
// key and merging. Inner joins only.
func (self *Table) SortMergeJoin(
	right *Table,
	leftOn []Expr,
	rightOn []Expr,
	how JoinType,
	opts ...JoinOption,
) (*Table, error) {
	if how != JoinInner {
		return nil, fmt.Errorf(
			"%w: sort-merge join only supports inner joins, got %s",
			ErrUnsupportedStrategy, how.String(),
		)
	}
	p, err := prepareJoin(self, right, leftOn, rightOn, how, opts)
	if err != nil {
		return nil, err
	}
	for i, f := range p.nullEq {
		if f {
			return nil, fmt.Errorf(
				"%w: sort-merge join does not support null-safe equality (key pair %d)",
				ErrUnsupportedStrategy, i,
			)
		}
	}
	pairs, err := p.sortMergePairs()
	if err != nil {
		return nil, err
	}
	return p.assemble(pairs)
}

// compareKeyRows orders left row li against right row ri under the
// composite key. Null keys never reach here, they are dropped before
// sorting.
func (self *joinPrep) compareKeyRows(li int, ri int) (int, error) {
	for i := range self.kinds {
		c, err := compareValues(self.lKeys[i].Value(li), self.rKeys[i].Value(ri))
		if err != nil {
			return 0, err
		}
		if c != 0 {
			return c, nil
		}
	}
	return 0, nil
}

func sortSideRows(keys []*Series, nrows int) ([]int, error) {
	rows := []int{}
	for r := 0; r < nrows; r++ {
		hasNull := false
		for _, s := range keys {
			if s.IsNull(r) {
				hasNull = true
				break
			}
		}
		if !hasNull {
			rows = append(rows, r)
		}
	}
	var sortErr error
	sort.SliceStable(rows, func(a, b int) bool {
		for _, s := range keys {
			c, err := compareValues(s.Value(rows[a]), s.Value(rows[b]))
			if err != nil {
				sortErr = err
				return false
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return rows, sortErr
}

func (self *joinPrep) sortMergePairs() ([][2]int, error) {
	lRows, err := sortSideRows(self.lKeys, self.left.NumRows())
	if err != nil {
		return nil, err
	}
	rRows, err := sortSideRows(self.rKeys, self.right.NumRows())
	if err != nil {
		return nil, err
	}

	pairs := [][2]int{}
	li, ri := 0, 0
	for li < len(lRows) && ri < len(rRows) {
		c, err := self.compareKeyRows(lRows[li], rRows[ri])
		if err != nil {
			return nil, err
		}
		if c < 0 {
			li++
			continue
		}
		if c > 0 {
			ri++
			continue
		}
		// equal run on both sides, emit the cross product
		le := li
		for le < len(lRows) {
			if eq, err := self.compareKeyRows(lRows[le], rRows[ri]); err != nil {
				return nil, err
			} else if eq != 0 {
				break
			}
			le++
		}
		re := ri
		for re < len(rRows) {
			if eq, err := self.compareKeyRows(lRows[li], rRows[re]); err != nil {
				return nil, err
			} else if eq != 0 {
				break
			}
			re++
		}
		for a := li; a < le; a++ {
			for b := ri; b < re; b++ {
				pairs = append(pairs, [2]int{lRows[a], rRows[b]})
			}
		}
		li, ri = le, re
	}
	return pairs, nil
}
