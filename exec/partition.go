package exec

import (
	"github.com/quarrylab/quarry/table"
)

// PartitionSet is an ordered collection of micropartitions with
// metadata derived eagerly at construction, so handle holders get
// row/size counts in O(1) without re-scanning the set.
type PartitionSet struct {
	parts     []*table.Table
	numRows   int64
	sizeBytes int64
}

func NewPartitionSet(parts ...*table.Table) *PartitionSet {
	out := &PartitionSet{parts: parts}
	for _, p := range parts {
		out.numRows += int64(p.NumRows())
		out.sizeBytes += p.SizeBytes()
	}
	return out
}

func (self *PartitionSet) NumPartitions() int { return len(self.parts) }
func (self *PartitionSet) NumRows() int64     { return self.numRows }
func (self *PartitionSet) SizeBytes() int64   { return self.sizeBytes }

// Partition returns the i-th micropartition, indices are contiguous
// from 0
func (self *PartitionSet) Partition(i int) *table.Table { return self.parts[i] }

// Tables returns the partitions in order
func (self *PartitionSet) Tables() []*table.Table {
	out := make([]*table.Table, len(self.parts))
	copy(out, self.parts)
	return out
}

// Schema of the set's partitions, empty for an empty set
func (self *PartitionSet) Schema() table.Schema {
	if len(self.parts) == 0 {
		return nil
	}
	return self.parts[0].Schema()
}
