package exec

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/quarrylab/quarry/table"
)

func newTestCache() *Cache {
	return NewCache(prometheus.NewRegistry(), zerolog.Nop())
}

func intTable(t *testing.T, name string, vals ...interface{}) *table.Table {
	s, err := table.NewSeriesAny(name, vals)
	if err != nil {
		t.Fatal(err)
	}
	out, err := table.NewTable(s)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCachePutGet(t *testing.T) {
	assert := assert.New(t)

	c := newTestCache()
	set := NewPartitionSet(
		intTable(t, "x", 1, 2, 3),
		intTable(t, "x", 4, 5),
	)
	e := c.Put(set)

	assert.Equal(int64(5), e.Meta().NumRows)
	assert.Equal(2, e.Meta().NumPartitions)
	assert.Equal(1, c.Len())

	got, ok := c.Get(e.ID())
	assert.True(ok)
	assert.Same(e.Set(), got.Set())

	_, ok = c.Get(uuid.New())
	assert.False(ok)

	got.Release()
	e.Release()
	assert.Equal(0, c.Len())
}

// the entry survives exactly as long as someone holds a reference
func TestCacheRefcountEviction(t *testing.T) {
	assert := assert.New(t)

	c := newTestCache()
	e := c.Put(NewPartitionSet(intTable(t, "x", 1)))

	extra := e.Retain()
	e.Release()
	assert.Equal(1, c.Len())

	_, ok := c.Get(e.ID())
	assert.True(ok)

	extra.Release() // the Get reference
	extra.Release() // the Retain reference
	assert.Equal(0, c.Len())

	_, ok = c.Get(e.ID())
	assert.False(ok)
}

func TestCacheMetrics(t *testing.T) {
	assert := assert.New(t)

	c := newTestCache()
	e := c.Put(NewPartitionSet(intTable(t, "x", 1, 2)))

	assert.Equal(1.0, testutil.ToFloat64(c.metrics.entries))
	assert.Equal(float64(e.Meta().SizeBytes), testutil.ToFloat64(c.metrics.cachedBytes))

	c.Get(e.ID())
	c.Get(uuid.New())
	assert.Equal(1.0, testutil.ToFloat64(c.metrics.hits))
	assert.Equal(1.0, testutil.ToFloat64(c.metrics.misses))

	e.Release() // Put reference
	e.Release() // Get reference
	assert.Equal(0.0, testutil.ToFloat64(c.metrics.entries))
	assert.Equal(0.0, testutil.ToFloat64(c.metrics.cachedBytes))
}

func TestPartitionSetMetadata(t *testing.T) {
	assert := assert.New(t)

	set := NewPartitionSet(
		intTable(t, "x", 1, 2, 3),
		intTable(t, "x", 4),
	)
	assert.Equal(2, set.NumPartitions())
	assert.Equal(int64(4), set.NumRows())
	assert.Greater(set.SizeBytes(), int64(0))
	assert.Equal(3, set.Partition(0).NumRows())
	assert.Equal(table.Schema{{Name: "x", Type: table.TypeInt}}, set.Schema())

	empty := NewPartitionSet()
	assert.Equal(0, empty.NumPartitions())
	assert.Nil(empty.Schema())
}
