package waldb

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time snapshot of store statistics.
type Stats struct {
	LevelSizes         map[int]int64
	SegmentCounts      map[int]int
	TombstoneFractions map[int]float64
	TotalBytes         int64

	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration

	SetsPerSecond    float64
	GetsPerSecond    float64
	DeletesPerSecond float64

	TotalSets     uint64
	TotalGets     uint64
	TotalDeletes  uint64
	OverallSetsPerSecond float64
	OverallGetsPerSecond float64

	BlockCacheHitRate float64
	BloomFPR          float64

	ManifestGeneration uint64
	MemtableBytes      int64
	WALBytesWritten    uint64
}

// StatsCollector collects and maintains statistics for the store.
type StatsCollector struct {
	mu sync.RWMutex

	sets    uint64
	gets    uint64
	deletes uint64
	flushes uint64
	compactions uint64

	latencies    []time.Duration
	maxLatencies int

	lastRateCalc time.Time
	lastSets     uint64
	lastGets     uint64
	lastDeletes  uint64
	setRate      float64
	getRate      float64
	deleteRate   float64

	blockCacheHits   uint64
	blockCacheMisses uint64

	bloomChecks uint64
	bloomHits   uint64

	levelSizes    map[int]int64
	segmentCounts map[int]int
	tombstones    map[int]int64

	manifestGen     uint64
	memtableBytes   int64
	walBytesWritten uint64

	startTime time.Time
}

// NewStatsCollector creates a new statistics collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		maxLatencies:  10000,
		latencies:     make([]time.Duration, 0, 10000),
		lastRateCalc:  time.Now(),
		startTime:     time.Now(),
		levelSizes:    make(map[int]int64),
		segmentCounts: make(map[int]int),
		tombstones:    make(map[int]int64),
	}
}

// RecordSet records one Set or one BulkSet call.
func (sc *StatsCollector) RecordSet() { atomic.AddUint64(&sc.sets, 1) }

// RecordGet records a Get/Exists/Range operation.
func (sc *StatsCollector) RecordGet() { atomic.AddUint64(&sc.gets, 1) }

// RecordDelete records a Delete operation.
func (sc *StatsCollector) RecordDelete() { atomic.AddUint64(&sc.deletes, 1) }

// RecordFlush records a memtable flush, along with its duration.
func (sc *StatsCollector) RecordFlush(duration time.Duration) {
	atomic.AddUint64(&sc.flushes, 1)
	sc.recordLatency(duration)
}

// RecordCompaction records a compaction run, along with its duration.
func (sc *StatsCollector) RecordCompaction(duration time.Duration) {
	atomic.AddUint64(&sc.compactions, 1)
	sc.recordLatency(duration)
}

func (sc *StatsCollector) recordLatency(d time.Duration) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.latencies = append(sc.latencies, d)

	if len(sc.latencies) > sc.maxLatencies {
		copy(sc.latencies, sc.latencies[len(sc.latencies)-sc.maxLatencies:])
		sc.latencies = sc.latencies[:sc.maxLatencies]
	}
}

// RecordBlockCacheHit records a block cache hit.
func (sc *StatsCollector) RecordBlockCacheHit() { atomic.AddUint64(&sc.blockCacheHits, 1) }

// RecordBlockCacheMiss records a block cache miss.
func (sc *StatsCollector) RecordBlockCacheMiss() { atomic.AddUint64(&sc.blockCacheMisses, 1) }

// RecordBloomCheck records a bloom filter probe; hit indicates the filter
// reported the key might be present (a negative skips the segment entirely).
func (sc *StatsCollector) RecordBloomCheck(hit bool) {
	atomic.AddUint64(&sc.bloomChecks, 1)
	if hit {
		atomic.AddUint64(&sc.bloomHits, 1)
	}
}

// AddWALBytes accounts for bytes appended to the WAL.
func (sc *StatsCollector) AddWALBytes(n uint64) { atomic.AddUint64(&sc.walBytesWritten, n) }

// SetMemtableBytes records the current memtable's approximate size.
func (sc *StatsCollector) SetMemtableBytes(n int64) { atomic.StoreInt64(&sc.memtableBytes, n) }

// UpdateLevelStats updates level statistics.
func (sc *StatsCollector) UpdateLevelStats(level int, size int64, segments int, tombstones int64) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.levelSizes[level] = size
	sc.segmentCounts[level] = segments
	sc.tombstones[level] = tombstones
}

// SetManifestGeneration sets the current manifest generation.
func (sc *StatsCollector) SetManifestGeneration(gen uint64) { atomic.StoreUint64(&sc.manifestGen, gen) }

// GetStats returns the current statistics.
func (sc *StatsCollector) GetStats() Stats {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	sc.calculateRates()

	p50, p95, p99 := sc.calculatePercentiles()

	cacheHitRate := sc.calculateHitRate(sc.blockCacheHits, sc.blockCacheMisses)
	bloomFPR := sc.calculateFPR(sc.bloomHits, sc.bloomChecks)

	var totalBytes int64
	for _, size := range sc.levelSizes {
		totalBytes += size
	}

	tombstoneFractions := make(map[int]float64)
	for level, tombstones := range sc.tombstones {
		if size := sc.levelSizes[level]; size > 0 {
			tombstoneFractions[level] = float64(tombstones) / float64(size)
		}
	}

	elapsedTotal := time.Since(sc.startTime).Seconds()
	if elapsedTotal < 1.0 {
		elapsedTotal = 1.0
	}
	totalSets := atomic.LoadUint64(&sc.sets)
	totalGets := atomic.LoadUint64(&sc.gets)
	totalDeletes := atomic.LoadUint64(&sc.deletes)

	return Stats{
		LevelSizes:              copyIntInt64Map(sc.levelSizes),
		SegmentCounts:           copyIntIntMap(sc.segmentCounts),
		TombstoneFractions:      tombstoneFractions,
		TotalBytes:              totalBytes,
		LatencyP50:              p50,
		LatencyP95:              p95,
		LatencyP99:              p99,
		SetsPerSecond:           sc.setRate,
		GetsPerSecond:           sc.getRate,
		DeletesPerSecond:        sc.deleteRate,
		TotalSets:               totalSets,
		TotalGets:               totalGets,
		TotalDeletes:            totalDeletes,
		OverallSetsPerSecond:    float64(totalSets) / elapsedTotal,
		OverallGetsPerSecond:    float64(totalGets) / elapsedTotal,
		BlockCacheHitRate:       cacheHitRate,
		BloomFPR:                bloomFPR,
		ManifestGeneration:      atomic.LoadUint64(&sc.manifestGen),
		MemtableBytes:           atomic.LoadInt64(&sc.memtableBytes),
		WALBytesWritten:         atomic.LoadUint64(&sc.walBytesWritten),
	}
}

// Refresh forces a refresh of rate calculations.
func (sc *StatsCollector) Refresh() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.calculateRates()
}

func (sc *StatsCollector) calculateRates() {
	now := time.Now()
	elapsed := now.Sub(sc.lastRateCalc).Seconds()
	if elapsed < 1.0 {
		elapsed = 1.0
	}

	currentSets := atomic.LoadUint64(&sc.sets)
	currentGets := atomic.LoadUint64(&sc.gets)
	currentDeletes := atomic.LoadUint64(&sc.deletes)

	sc.setRate = float64(currentSets-sc.lastSets) / elapsed
	sc.getRate = float64(currentGets-sc.lastGets) / elapsed
	sc.deleteRate = float64(currentDeletes-sc.lastDeletes) / elapsed

	sc.lastSets = currentSets
	sc.lastGets = currentGets
	sc.lastDeletes = currentDeletes
	sc.lastRateCalc = now
}

func (sc *StatsCollector) calculatePercentiles() (p50, p95, p99 time.Duration) {
	if len(sc.latencies) == 0 {
		return
	}
	sorted := make([]time.Duration, len(sc.latencies))
	copy(sorted, sc.latencies)
	for i := 0; i < len(sorted)-1; i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	n := len(sorted)
	p50 = sorted[n*50/100]
	p95 = sorted[n*95/100]
	if n > 0 {
		p99 = sorted[n*99/100]
		if n*99/100 >= n {
			p99 = sorted[n-1]
		}
	}
	return
}

func (sc *StatsCollector) calculateHitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

func (sc *StatsCollector) calculateFPR(hits, checks uint64) float64 {
	if checks == 0 {
		return 0
	}
	return float64(hits) / float64(checks)
}

func copyIntInt64Map(m map[int]int64) map[int]int64 {
	result := make(map[int]int64, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

func copyIntIntMap(m map[int]int) map[int]int {
	result := make(map[int]int, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}
