package segment

import (
	"container/list"
	"sync"

	"github.com/waldb/waldb/internal/common"
)

const blockCacheShardCount = 16

// blockCacheKey identifies one decoded (decompressed) data block.
type blockCacheKey struct {
	segmentID uint64
	offset    uint64
}

// BlockCache is a bounded LRU of decoded segment blocks keyed by
// (segment_id, block_offset). It is sharded to avoid a single global
// mutex under concurrent point-get/range-scan load; this is independent
// of the whole-file MmapCache, which caches raw mmapped bytes rather than
// decompressed block contents.
type BlockCache struct {
	shards      [blockCacheShardCount]blockCacheShard
	capPerShard int64
}

type blockCacheShard struct {
	mu    sync.Mutex
	lru   *list.List
	items map[blockCacheKey]*list.Element
	bytes int64
	cap   int64

	hits   int64
	misses int64
}

type blockCacheEntry struct {
	key  blockCacheKey
	data []byte
}

// NewBlockCache creates a block cache with the given total capacity in
// bytes, split evenly across shards.
func NewBlockCache(capacityBytes int64) *BlockCache {
	if capacityBytes <= 0 {
		capacityBytes = common.DefaultBlockCacheBytes
	}
	bc := &BlockCache{capPerShard: capacityBytes / blockCacheShardCount}
	for i := range bc.shards {
		bc.shards[i] = blockCacheShard{
			lru:   list.New(),
			items: make(map[blockCacheKey]*list.Element),
			cap:   bc.capPerShard,
		}
	}
	return bc
}

func (bc *BlockCache) shardFor(key blockCacheKey) *blockCacheShard {
	h := key.segmentID*1099511628211 ^ key.offset
	return &bc.shards[h%blockCacheShardCount]
}

// Get returns the cached decoded block for (segmentID, offset), if present.
func (bc *BlockCache) Get(segmentID, offset uint64) ([]byte, bool) {
	key := blockCacheKey{segmentID: segmentID, offset: offset}
	s := bc.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}
	s.lru.MoveToFront(elem)
	s.hits++
	return elem.Value.(*blockCacheEntry).data, true
}

// Put inserts a decoded block, evicting LRU entries as needed to stay
// within the shard's capacity.
func (bc *BlockCache) Put(segmentID, offset uint64, data []byte) {
	key := blockCacheKey{segmentID: segmentID, offset: offset}
	s := bc.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[key]; ok {
		return
	}

	entry := &blockCacheEntry{key: key, data: data}
	elem := s.lru.PushFront(entry)
	s.items[key] = elem
	s.bytes += int64(len(data))

	for s.bytes > s.cap && s.lru.Len() > 0 {
		back := s.lru.Back()
		if back == nil {
			break
		}
		evicted := back.Value.(*blockCacheEntry)
		s.lru.Remove(back)
		delete(s.items, evicted.key)
		s.bytes -= int64(len(evicted.data))
	}
}

// InvalidateSegment drops every cached block belonging to segmentID, for
// use when that segment is deleted (e.g. after compaction).
func (bc *BlockCache) InvalidateSegment(segmentID uint64) {
	for i := range bc.shards {
		s := &bc.shards[i]
		s.mu.Lock()
		for key, elem := range s.items {
			if key.segmentID == segmentID {
				entry := elem.Value.(*blockCacheEntry)
				s.lru.Remove(elem)
				delete(s.items, key)
				s.bytes -= int64(len(entry.data))
			}
		}
		s.mu.Unlock()
	}
}

// Stats returns aggregate hit/miss counters across all shards.
func (bc *BlockCache) Stats() (hits, misses int64) {
	for i := range bc.shards {
		s := &bc.shards[i]
		s.mu.Lock()
		hits += s.hits
		misses += s.misses
		s.mu.Unlock()
	}
	return hits, misses
}
