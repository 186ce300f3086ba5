package plan

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/quarrylab/quarry/table"
)

// rewrite pass hit a tree shape it cannot handle
var ErrUnsupportedPlanShape = errors.New("unsupported plan shape")

// StageType is the closed set of stage variants
const (
	StageInMemorySource = iota
	StageWhere
	StageApply
	StageLimit
	StageJoin
	StageAggregate
)

type StageType int

func (self StageType) String() string {
	switch self {
	case StageInMemorySource:
		return "in-memory-source"
	case StageWhere:
		return "where"
	case StageApply:
		return "apply"
	case StageLimit:
		return "limit"
	case StageJoin:
		return "join"
	case StageAggregate:
		return "aggregate"
	default:
		return "unknown"
	}
}

// input slot labels carried on edges
const (
	SlotInput = "input"
	SlotLeft  = "left"
	SlotRight = "right"
)

// JoinStrategy selects the join algorithm
const (
	StrategyHash = iota
	StrategySortMerge
)

type JoinStrategy int

func (self JoinStrategy) String() string {
	switch self {
	case StrategyHash:
		return "hash"
	case StrategySortMerge:
		return "sort-merge"
	default:
		return "unknown"
	}
}

// SourceInfo describes an in-memory source: a partition set already
// registered in the cache, referenced by handle. Schema and metadata
// are supplied up front and never re-derived lazily.
type SourceInfo struct {
	CacheID       uuid.UUID
	Schema        table.Schema
	NumRows       int64
	SizeBytes     int64
	NumPartitions int

	// row-read cap, < 0 means unbounded; set by limit pushdown
	ReadLimit int64
}

type WhereInfo struct {
	Column table.Expr
	Cmp    table.Cmp
	Value  interface{}
}

// ApplyInfo runs an arbitrary transform over each partition. The
// function must be pure per partition and declare its output schema.
type ApplyInfo struct {
	Fn  func(t *table.Table) (*table.Table, error)
	Out table.Schema
}

type LimitInfo struct {
	N int64
}

type JoinInfo struct {
	LeftOn          []table.Expr
	RightOn         []table.Expr
	How             table.JoinType
	Strategy        JoinStrategy
	NullEqualsNulls []bool
	RenamePrefix    string
}

type AggInfo struct {
	Aggs    []table.AggExpr
	GroupBy []table.Expr
}

// Stage is a tagged variant: exactly the field matching Type is set.
// Out carries the stage's output schema, propagated at build time.
type Stage struct {
	Type   StageType
	Source *SourceInfo
	Where  *WhereInfo
	Apply  *ApplyInfo
	Limit  *LimitInfo
	Join   *JoinInfo
	Agg    *AggInfo
	Out    table.Schema
}

// NumInputs reports how many named inputs the stage variant consumes
func (self *Stage) NumInputs() int {
	switch self.Type {
	case StageInMemorySource:
		return 0
	case StageJoin:
		return 2
	default:
		return 1
	}
}

func (self *Stage) Describe() string {
	switch self.Type {
	case StageInMemorySource:
		s := self.Source
		cap := "none"
		if s.ReadLimit >= 0 {
			cap = fmt.Sprintf("%d", s.ReadLimit)
		}
		return fmt.Sprintf(
			"cache=%s rows=%d partitions=%d read_limit=%s",
			s.CacheID, s.NumRows, s.NumPartitions, cap,
		)
	case StageWhere:
		return fmt.Sprintf(
			"%s %s %v", self.Where.Column.String(), self.Where.Cmp.String(), self.Where.Value,
		)
	case StageApply:
		return fmt.Sprintf("out=%s", self.Apply.Out.String())
	case StageLimit:
		return fmt.Sprintf("n=%d", self.Limit.N)
	case StageJoin:
		return fmt.Sprintf(
			"how=%s strategy=%s keys=%d",
			self.Join.How.String(), self.Join.Strategy.String(), len(self.Join.LeftOn),
		)
	case StageAggregate:
		return fmt.Sprintf(
			"aggs=%d group_by=%d", len(self.Agg.Aggs), len(self.Agg.GroupBy),
		)
	default:
		return ""
	}
}
