package table

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	JoinInner = iota
	JoinLeft
	JoinRight
	JoinOuter
	JoinAnti
	JoinSemi
	JoinCross
)

type JoinType int

func (self JoinType) String() string {
	switch self {
	case JoinInner:
		return "inner"
	case JoinLeft:
		return "left"
	case JoinRight:
		return "right"
	case JoinOuter:
		return "outer"
	case JoinAnti:
		return "anti"
	case JoinSemi:
		return "semi"
	case JoinCross:
		return "cross"
	default:
		return "unknown"
	}
}

// DefaultRenamePrefix disambiguates right-side columns whose names
// collide with a left-side column
const DefaultRenamePrefix = "right."

type joinOptions struct {
	nullEq []bool
	prefix string
}

type JoinOption func(*joinOptions)

// WithNullEqualsNulls sets the per-key-pair null-safe-equal flags. When
// flag i is true a null left key matches a null right key (and only a
// null) at position i. Default is all false, the SQL null semantics.
func WithNullEqualsNulls(flags []bool) JoinOption {
	return func(o *joinOptions) { o.nullEq = flags }
}

func WithRenamePrefix(prefix string) JoinOption {
	return func(o *joinOptions) { o.prefix = prefix }
}

// ----------------------------------------------------------------------------
// Join kernel
//
// Both strategies share the same composite key model: a row's key is
// the tuple of its values under left_on/right_on, compared pairwise
// under a per-pair type kind. A row matches iff ALL pairs compare
// equal, so a partial key match can never leak into the output.
// ----------------------------------------------------------------------------

type joinPrep struct {
	left   *Table
	right  *Table
	how    JoinType
	lOn    []Expr
	rOn    []Expr
	lKeys  []*Series
	rKeys  []*Series
	kinds  []DType
	nullEq []bool
	prefix string
}

func prepareJoin(
	left *Table,
	right *Table,
	leftOn []Expr,
	rightOn []Expr,
	how JoinType,
	opts []JoinOption,
) (*joinPrep, error) {
	o := joinOptions{prefix: DefaultRenamePrefix}
	for _, f := range opts {
		f(&o)
	}

	if how == JoinCross {
		// a cross join takes zero key pairs by construction
		if len(leftOn) != 0 || len(rightOn) != 0 {
			return nil, fmt.Errorf(
				"%w: cross join takes no join keys", ErrInvalidJoinSpec,
			)
		}
	} else {
		if len(leftOn) != len(rightOn) {
			return nil, fmt.Errorf(
				"%w: left_on has %d, right_on has %d",
				ErrKeyCountMismatch, len(leftOn), len(rightOn),
			)
		}
		if len(leftOn) == 0 {
			return nil, fmt.Errorf(
				"%w: No columns were passed in to join on", ErrInvalidJoinSpec,
			)
		}
	}

	k := len(leftOn)
	if o.nullEq == nil {
		o.nullEq = make([]bool, k)
	} else if len(o.nullEq) != k {
		return nil, fmt.Errorf(
			"%w: null_equals_nulls has %d flags for %d key pairs",
			ErrInvalidJoinSpec, len(o.nullEq), k,
		)
	}

	p := &joinPrep{
		left:   left,
		right:  right,
		how:    how,
		lOn:    leftOn,
		rOn:    rightOn,
		kinds:  make([]DType, k),
		nullEq: o.nullEq,
		prefix: o.prefix,
	}
	for i := 0; i < k; i++ {
		ls, err := leftOn[i].Eval(left)
		if err != nil {
			return nil, err
		}
		rs, err := rightOn[i].Eval(right)
		if err != nil {
			return nil, err
		}
		kind, err := keyKind(ls.Type(), rs.Type())
		if err != nil {
			return nil, fmt.Errorf(
				"join key pair %d (%s, %s): %w",
				i, ls.Name(), rs.Name(), err,
			)
		}
		p.lKeys = append(p.lKeys, ls)
		p.rKeys = append(p.rKeys, rs)
		p.kinds[i] = kind
	}
	return p, nil
}

// keyKind picks the comparison kind of one key pair. Numeric pairs mix
// by promotion to float, a null-typed side adopts the other side's
// type, anything else must match exactly.
func keyKind(lt DType, rt DType) (DType, error) {
	switch {
	case lt == rt:
		return lt, nil
	case lt == TypeNull:
		return rt, nil
	case rt == TypeNull:
		return lt, nil
	case lt.IsNumeric() && rt.IsNumeric():
		return TypeFloat, nil
	default:
		return 0, fmt.Errorf(
			"%w: cannot join %s against %s", ErrTypeError, lt.String(), rt.String(),
		)
	}
}

// encodeKeyRow appends the tagged byte encoding of one row's composite
// key. It reports false when the row can never match: a null under a
// key pair whose null-safe flag is off.
func encodeKeyRow(
	dst []byte,
	keys []*Series,
	kinds []DType,
	nullEq []bool,
	row int,
) ([]byte, bool) {
	for i, s := range keys {
		v := s.Value(row)
		if v == nil {
			if !nullEq[i] {
				return nil, false
			}
			dst = append(dst, 0)
			continue
		}
		dst = append(dst, 1)
		switch kinds[i] {
		case TypeBool:
			if v.(bool) {
				dst = append(dst, 1)
			} else {
				dst = append(dst, 0)
			}
		case TypeInt:
			dst = binary.BigEndian.AppendUint64(dst, uint64(v.(int64)))
		case TypeFloat:
			f, ok := v.(float64)
			if !ok {
				f = float64(v.(int64))
			}
			dst = binary.BigEndian.AppendUint64(dst, math.Float64bits(f))
		case TypeString:
			x := v.(string)
			dst = binary.AppendUvarint(dst, uint64(len(x)))
			dst = append(dst, x...)
		default:
			// TypeList keys are rejected by keyKind resolution
			return nil, false
		}
	}
	return dst, true
}

// hashJoinPairs builds a hash table on the smaller side keyed by the
// composite key and probes with the other side. Probe candidates are
// verified against the encoded key bytes, so a 64-bit hash collision
// can never fabricate a match.
func (self *joinPrep) hashJoinPairs() [][2]int {
	buildKeys, probeKeys := self.lKeys, self.rKeys
	buildRows, probeRows := self.left.NumRows(), self.right.NumRows()
	buildIsLeft := true
	if probeRows < buildRows {
		buildKeys, probeKeys = probeKeys, buildKeys
		buildRows, probeRows = probeRows, buildRows
		buildIsLeft = false
	}

	enc := make([][]byte, buildRows)
	ht := make(map[uint64][]int, buildRows)
	for r := 0; r < buildRows; r++ {
		key, ok := encodeKeyRow(nil, buildKeys, self.kinds, self.nullEq, r)
		if !ok {
			continue
		}
		enc[r] = key
		h := xxhash.Sum64(key)
		ht[h] = append(ht[h], r)
	}

	pairs := [][2]int{}
	var scratch []byte
	for r := 0; r < probeRows; r++ {
		key, ok := encodeKeyRow(scratch[:0], probeKeys, self.kinds, self.nullEq, r)
		if !ok {
			continue
		}
		scratch = key
		for _, cand := range ht[xxhash.Sum64(key)] {
			if !bytes.Equal(enc[cand], key) {
				continue
			}
			if buildIsLeft {
				pairs = append(pairs, [2]int{cand, r})
			} else {
				pairs = append(pairs, [2]int{r, cand})
			}
		}
	}
	return pairs
}

// HashJoin joins two tables with a hash build/probe strategy. All join
// types are supported.
func (self *Table) HashJoin(
	right *Table,
	leftOn []Expr,
	rightOn []Expr,
	how JoinType,
	opts ...JoinOption,
) (*Table, error) {
	p, err := prepareJoin(self, right, leftOn, rightOn, how, opts)
	if err != nil {
		return nil, err
	}
	if how == JoinCross {
		return p.assembleCross()
	}
	pairs := p.hashJoinPairs()
	return p.assemble(pairs)
}

// assemble turns matched row pairs into the output table of the
// requested join type. Row order of the output is unspecified.
func (self *joinPrep) assemble(pairs [][2]int) (*Table, error) {
	matchedL := make([]bool, self.left.NumRows())
	matchedR := make([]bool, self.right.NumRows())
	for _, pr := range pairs {
		matchedL[pr[0]] = true
		matchedR[pr[1]] = true
	}

	switch self.how {
	case JoinSemi:
		idx := []int{}
		for i, m := range matchedL {
			if m {
				idx = append(idx, i)
			}
		}
		return self.left.Take(idx), nil

	case JoinAnti:
		idx := []int{}
		for i, m := range matchedL {
			if !m {
				idx = append(idx, i)
			}
		}
		return self.left.Take(idx), nil

	case JoinLeft:
		for i, m := range matchedL {
			if !m {
				pairs = append(pairs, [2]int{i, -1})
			}
		}
	case JoinRight:
		for i, m := range matchedR {
			if !m {
				pairs = append(pairs, [2]int{-1, i})
			}
		}
	case JoinOuter:
		for i, m := range matchedL {
			if !m {
				pairs = append(pairs, [2]int{i, -1})
			}
		}
		for i, m := range matchedR {
			if !m {
				pairs = append(pairs, [2]int{-1, i})
			}
		}
	case JoinInner:
		// matched pairs only
	default:
		return nil, fmt.Errorf("join type not implemented: %d", int(self.how))
	}

	return self.assemblePairs(pairs)
}

// elidedRightKeys reports, per key pair, whether the right key column
// folds into the paired left column (simple join on equal names)
func (self *joinPrep) elidedRightKeys() map[string]int {
	out := make(map[string]int)
	for i := range self.lOn {
		if self.lOn[i].Name() == self.rOn[i].Name() {
			out[self.rOn[i].Name()] = i
		}
	}
	return out
}

func (self *joinPrep) assemblePairs(pairs [][2]int) (*Table, error) {
	lIdx := make([]int, len(pairs))
	rIdx := make([]int, len(pairs))
	for i, pr := range pairs {
		lIdx[i] = pr[0]
		rIdx[i] = pr[1]
	}
	elided := self.elidedRightKeys()

	cols := []*Series{}
	for ci := 0; ci < self.left.NumColumns(); ci++ {
		c := self.left.ColumnAt(ci)
		taken := c.Take(lIdx)
		// a merged key column backfills unmatched right rows from the
		// right key values
		if ki, ok := elided[c.Name()]; ok && self.lOn[ki].Name() == c.Name() {
			for i, pr := range pairs {
				if pr[0] < 0 && pr[1] >= 0 {
					taken.vals[i] = self.rKeys[ki].Value(pr[1])
				}
			}
		}
		cols = append(cols, taken)
	}

	lNames := make(map[string]bool)
	for _, c := range cols {
		lNames[c.Name()] = true
	}
	for ci := 0; ci < self.right.NumColumns(); ci++ {
		c := self.right.ColumnAt(ci)
		if _, ok := elided[c.Name()]; ok {
			continue
		}
		name := c.Name()
		if lNames[name] {
			name = self.prefix + name
		}
		cols = append(cols, c.Take(rIdx).Rename(name))
	}
	return NewTable(cols...)
}

func (self *joinPrep) assembleCross() (*Table, error) {
	ln, rn := self.left.NumRows(), self.right.NumRows()
	pairs := make([][2]int, 0, ln*rn)
	for i := 0; i < ln; i++ {
		for j := 0; j < rn; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	return self.assemblePairs(pairs)
}

// JoinSchema computes the output schema of a join without touching any
// data, applying the same validation the kernel applies. The planner
// uses it to reject bad joins at build time.
func JoinSchema(
	left Schema,
	right Schema,
	leftOn []Expr,
	rightOn []Expr,
	how JoinType,
	prefix string,
) (Schema, error) {
	if how == JoinCross {
		if len(leftOn) != 0 || len(rightOn) != 0 {
			return nil, fmt.Errorf(
				"%w: cross join takes no join keys", ErrInvalidJoinSpec,
			)
		}
	} else {
		if len(leftOn) != len(rightOn) {
			return nil, fmt.Errorf(
				"%w: left_on has %d, right_on has %d",
				ErrKeyCountMismatch, len(leftOn), len(rightOn),
			)
		}
		if len(leftOn) == 0 {
			return nil, fmt.Errorf(
				"%w: No columns were passed in to join on", ErrInvalidJoinSpec,
			)
		}
	}
	if prefix == "" {
		prefix = DefaultRenamePrefix
	}

	elided := make(map[string]bool)
	for i := range leftOn {
		lf, err := leftOn[i].Resolve(left)
		if err != nil {
			return nil, err
		}
		rf, err := rightOn[i].Resolve(right)
		if err != nil {
			return nil, err
		}
		if _, err := keyKind(lf.Type, rf.Type); err != nil {
			return nil, fmt.Errorf(
				"join key pair %d (%s, %s): %w", i, lf.Name, rf.Name, err,
			)
		}
		if lf.Name == rf.Name {
			elided[rf.Name] = true
		}
	}

	if how == JoinSemi || how == JoinAnti {
		out := make(Schema, len(left))
		copy(out, left)
		return out, nil
	}

	out := make(Schema, 0, len(left)+len(right))
	out = append(out, left...)
	lNames := make(map[string]bool)
	for _, f := range left {
		lNames[f.Name] = true
	}
	for _, f := range right {
		if elided[f.Name] {
			continue
		}
		if lNames[f.Name] {
			f.Name = prefix + f.Name
		}
		out = append(out, f)
	}
	return out, nil
}
