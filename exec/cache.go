package exec

import (
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Meta is the derived metadata committed alongside a cache entry. It
// is always fully populated before the entry becomes visible; an entry
// is never observable half-initialized.
type Meta struct {
	NumRows       int64
	SizeBytes     int64
	NumPartitions int
}

// CacheEntry is a reference-counted handle to a materialized partition
// set. The set is written exactly once at creation and read-only
// afterwards; an update must create a new entry. The last Release
// drops the set from the cache.
type CacheEntry struct {
	id    uuid.UUID
	set   *PartitionSet
	meta  Meta
	refs  *atomic.Int64
	cache *Cache
}

func (self *CacheEntry) ID() uuid.UUID      { return self.id }
func (self *CacheEntry) Set() *PartitionSet { return self.set }
func (self *CacheEntry) Meta() Meta         { return self.meta }

// Retain takes an additional reference on the entry
func (self *CacheEntry) Retain() *CacheEntry {
	self.refs.Inc()
	return self
}

// Release drops one reference. When the count reaches zero the entry
// is evicted and the partition set becomes collectable.
func (self *CacheEntry) Release() {
	if self.refs.Dec() == 0 {
		self.cache.evict(self)
	}
}

type cacheMetrics struct {
	entries     prometheus.Gauge
	cachedBytes prometheus.Gauge
	hits        prometheus.Counter
	misses      prometheus.Counter
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	f := promauto.With(reg)
	return &cacheMetrics{
		entries: f.NewGauge(prometheus.GaugeOpts{
			Name: "quarry_partition_cache_entries",
			Help: "Live partition set entries in the cache.",
		}),
		cachedBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "quarry_partition_cache_bytes",
			Help: "Total bytes held by cached partition sets.",
		}),
		hits: f.NewCounter(prometheus.CounterOpts{
			Name: "quarry_partition_cache_hits_total",
			Help: "Cache lookups that found a live entry.",
		}),
		misses: f.NewCounter(prometheus.CounterOpts{
			Name: "quarry_partition_cache_misses_total",
			Help: "Cache lookups that missed.",
		}),
	}
}

// Cache is the partition set cache: the one structure mutated by
// multiple logical callers. Entries are inserted once and only ever
// read afterwards, so a single mutex over the insert/evict/lookup
// paths is all the locking the design needs. The cache is an explicit
// context object handed to scheduler entry points, never ambient
// global state.
type Cache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*CacheEntry
	log     zerolog.Logger
	metrics *cacheMetrics
}

func NewCache(reg prometheus.Registerer, log zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[uuid.UUID]*CacheEntry),
		log:     log,
		metrics: newCacheMetrics(reg),
	}
}

// Put commits a partition set under a fresh handle with one reference
// owned by the caller. Metadata is derived here, exactly once.
func (self *Cache) Put(set *PartitionSet) *CacheEntry {
	e := &CacheEntry{
		id:  uuid.New(),
		set: set,
		meta: Meta{
			NumRows:       set.NumRows(),
			SizeBytes:     set.SizeBytes(),
			NumPartitions: set.NumPartitions(),
		},
		refs:  atomic.NewInt64(1),
		cache: self,
	}

	self.mu.Lock()
	self.entries[e.id] = e
	self.mu.Unlock()

	self.metrics.entries.Inc()
	self.metrics.cachedBytes.Add(float64(e.meta.SizeBytes))
	self.log.Debug().
		Str("entry", e.id.String()).
		Int64("rows", e.meta.NumRows).
		Int("partitions", e.meta.NumPartitions).
		Msg("partition set cached")
	return e
}

// Get looks an entry up and retains it for the caller. Callers must
// Release what they Get.
func (self *Cache) Get(id uuid.UUID) (*CacheEntry, bool) {
	self.mu.Lock()
	e, ok := self.entries[id]
	self.mu.Unlock()
	if !ok {
		self.metrics.misses.Inc()
		return nil, false
	}
	self.metrics.hits.Inc()
	return e.Retain(), true
}

// lookup reads an entry without retaining it: used by a running plan,
// whose source entry is kept alive by the submitting caller's own
// reference for the duration of the run
func (self *Cache) lookup(id uuid.UUID) (*CacheEntry, bool) {
	self.mu.Lock()
	e, ok := self.entries[id]
	self.mu.Unlock()
	if !ok {
		self.metrics.misses.Inc()
		return nil, false
	}
	self.metrics.hits.Inc()
	return e, true
}

func (self *Cache) Len() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return len(self.entries)
}

func (self *Cache) evict(e *CacheEntry) {
	self.mu.Lock()
	delete(self.entries, e.id)
	self.mu.Unlock()

	self.metrics.entries.Dec()
	self.metrics.cachedBytes.Sub(float64(e.meta.SizeBytes))
	self.log.Debug().Str("entry", e.id.String()).Msg("partition set evicted")
}
