// Package compaction runs the background L0->L1 and L1->L2 merge
// passes that keep the on-disk segment set small and non-overlapping.
package compaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	blake3 "lukechampine.com/blake3"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/pkg/waldb/manifest"
	"github.com/waldb/waldb/pkg/waldb/segment"
	"github.com/waldb/waldb/pkg/waldb/utils"
)

// Compactor drives background L0->L1 and L1->L2 merges.
type Compactor struct {
	mu       sync.Mutex
	dir      string
	manifest *manifest.Manifest
	mmapC    *segment.MmapCache
	blockC   *segment.BlockCache

	alloc func() uint64

	levelRatio     int
	maxL0Files     int
	maxSegmentSize int64

	ctx    context.Context
	cancel context.CancelFunc

	running            bool
	pendingCompactions []Job

	logger common.Logger
}

// Job describes one scheduled compaction.
type Job struct {
	ID       uint64
	Level    int
	Inputs   []uint64
	Priority int
	Reason   string
}

// NewCompactor creates a compactor operating on the segments directory
// under dir, reading the live segment set from m and allocating new
// segment IDs via alloc.
func NewCompactor(dir string, m *manifest.Manifest, mmapCache *segment.MmapCache, blockCache *segment.BlockCache, logger common.Logger, alloc func() uint64) *Compactor {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	if alloc == nil {
		alloc = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	return &Compactor{
		dir:            dir,
		manifest:       m,
		mmapC:          mmapCache,
		blockC:         blockCache,
		levelRatio:     10,
		maxL0Files:     common.DefaultL0CompactionTrigger,
		maxSegmentSize: 512 * 1024 * 1024,
		logger:         logger,
		alloc:          alloc,
	}
}

// Start launches the background compaction loop.
func (c *Compactor) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	go c.runLoop(c.ctx)
}

// Stop cancels the background loop.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.running = false
	c.mu.Unlock()
}

func (c *Compactor) runLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAndSchedule()
			c.runPending(ctx)
		}
	}
}

// TriggerCompaction manually evaluates scheduling policy, for tests and
// explicit callers that don't want to wait for the ticker.
func (c *Compactor) TriggerCompaction() {
	c.checkAndSchedule()
}

// RunPending runs the single highest-priority scheduled job, if any.
func (c *Compactor) RunPending(ctx context.Context) error {
	return c.runPendingJob(ctx)
}

func (c *Compactor) checkAndSchedule() {
	segments := c.manifest.Snapshot().Segments

	l0 := filterByLevel(segments, common.LevelL0)
	if len(l0) >= c.maxL0Files {
		c.scheduleL0(l0)
		return
	}

	for level := common.LevelL1; level < common.MaxLevel; level++ {
		levelSegs := filterByLevel(segments, level)
		nextSegs := filterByLevel(segments, level+1)

		levelSize := totalSize(levelSegs)
		nextSize := totalSize(nextSegs)

		if levelSize > 0 && levelSize > nextSize/int64(c.levelRatio) {
			c.scheduleLeveled(level, levelSegs)
			return
		}
	}
}

func (c *Compactor) scheduleL0(segs []manifest.SegmentInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(segs, func(i, j int) bool { return segs[i].ID < segs[j].ID })

	batch := segs
	if len(batch) > c.maxL0Files*2 {
		batch = segs[:c.maxL0Files*2]
	}

	ids := segmentIDs(batch)
	job := Job{
		ID:       c.alloc(),
		Level:    common.LevelL0,
		Inputs:   ids,
		Priority: 100,
		Reason:   fmt.Sprintf("L0 has %d segments (trigger %d)", len(segs), c.maxL0Files),
	}
	c.pendingCompactions = append(c.pendingCompactions, job)
	c.logger.Info("scheduled L0 compaction", "segments", len(ids), "reason", job.Reason)
}

func (c *Compactor) scheduleLeveled(level int, segs []manifest.SegmentInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(segs, func(i, j int) bool { return segs[i].SizeBytes < segs[j].SizeBytes })

	maxBatch := c.maxL0Files * 3
	if maxBatch < 4 {
		maxBatch = 4
	}
	if len(segs) > maxBatch {
		segs = segs[:maxBatch]
	}

	ids := segmentIDs(segs)
	job := Job{
		ID:       c.alloc(),
		Level:    level,
		Inputs:   ids,
		Priority: 50 - level,
		Reason:   fmt.Sprintf("level %d size imbalance", level),
	}
	c.pendingCompactions = append(c.pendingCompactions, job)
	c.logger.Info("scheduled leveled compaction", "level", level, "segments", len(ids), "reason", job.Reason)
}

func (c *Compactor) runPending(ctx context.Context) {
	if err := c.runPendingJob(ctx); err != nil {
		c.logger.Error("compaction failed", "error", err)
	}
}

func (c *Compactor) runPendingJob(ctx context.Context) error {
	c.mu.Lock()
	if len(c.pendingCompactions) == 0 {
		c.mu.Unlock()
		return nil
	}
	sort.Slice(c.pendingCompactions, func(i, j int) bool {
		return c.pendingCompactions[i].Priority > c.pendingCompactions[j].Priority
	})
	job := c.pendingCompactions[0]
	c.pendingCompactions = c.pendingCompactions[1:]
	c.mu.Unlock()

	return c.run(ctx, job)
}

// run executes one compaction job end to end: open inputs, merge,
// build outputs, and atomically install the result in the manifest.
// Any failure aborts the job, leaving the manifest untouched; the
// caller (the ticker loop) will reschedule on its next pass.
func (c *Compactor) run(ctx context.Context, job Job) error {
	start := time.Now()
	c.logger.Info("starting compaction", "job", job.ID, "level", job.Level, "inputs", len(job.Inputs))

	snapshot := c.manifest.Snapshot()
	segmentsDir := filepath.Join(c.dir, common.DirSegments)

	inputByID := make(map[uint64]manifest.SegmentInfo, len(job.Inputs))
	for _, seg := range snapshot.Segments {
		inputByID[seg.ID] = seg
	}

	if c.mmapC != nil {
		for _, id := range job.Inputs {
			if info, ok := inputByID[id]; ok {
				path := filepath.Join(segmentsDir, segment.FileName(info.Level, id))
				c.mmapC.PreloadHint(id, path, info.SizeBytes)
			}
		}
	}

	readers := make([]*segment.Reader, len(job.Inputs))
	g, _ := errgroup.WithContext(ctx)
	for i, id := range job.Inputs {
		i, id := i, id
		g.Go(func() error {
			info, ok := inputByID[id]
			if !ok {
				return nil // already compacted away by a concurrent job
			}
			path := filepath.Join(segmentsDir, segment.FileName(info.Level, id))
			if info.ContentHash != "" {
				if hash, err := utils.ComputeBLAKE3File(path); err != nil {
					c.logger.Warn("failed to hash input segment before compaction", "id", id, "error", err)
				} else if hash != info.ContentHash {
					return fmt.Errorf("input segment %d: %w: content hash mismatch", id, common.ErrCorrupt)
				}
			}
			r, err := segment.OpenReader(id, path, c.mmapC, c.blockC)
			if err != nil {
				return fmt.Errorf("open input segment %d: %w", id, err)
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
		return fmt.Errorf("open input segments: %w", err)
	}

	var liveReaders []*segment.Reader
	for _, r := range readers {
		if r != nil {
			liveReaders = append(liveReaders, r)
		}
	}
	defer func() {
		for _, r := range liveReaders {
			r.Close()
		}
	}()
	if len(liveReaders) == 0 {
		return fmt.Errorf("no input segments available for job %d", job.ID)
	}

	targetLevel := job.Level + 1
	if targetLevel > common.MaxLevel {
		targetLevel = common.MaxLevel
	}
	bottommost := targetLevel == common.MaxLevel

	merged, tombstones, err := mergeInputs(liveReaders, bottommost)
	if err != nil {
		return fmt.Errorf("merge inputs: %w", err)
	}

	outputs, err := c.writeOutputs(ctx, merged, tombstones, segmentsDir, targetLevel)
	if err != nil {
		for _, out := range outputs {
			_ = removeSegmentFile(segmentsDir, targetLevel, out.ID)
		}
		return fmt.Errorf("write compaction outputs: %w", err)
	}

	if len(outputs) == 0 {
		c.logger.Info("compaction produced no output segments", "job", job.ID)
		return nil
	}

	edits := make([]manifest.Edit, 0, len(outputs)+len(job.Inputs))
	for _, out := range outputs {
		edits = append(edits, manifest.Edit{Type: manifest.EditAddSegment, Segment: out})
	}
	for _, id := range job.Inputs {
		edits = append(edits, manifest.Edit{Type: manifest.EditRemoveSegment, SegmentID: id})
	}
	if err := c.manifest.ApplyEdits(edits); err != nil {
		return fmt.Errorf("install compaction result: %w", err)
	}

	if c.blockC != nil {
		for _, id := range job.Inputs {
			c.blockC.InvalidateSegment(id)
		}
	}
	// Close input readers (and release their mmap refs) before removing
	// their segment files and evicting them from the mmap cache, since
	// MmapCache.Remove blocks until an entry's refcount reaches zero.
	for _, r := range liveReaders {
		r.Close()
	}
	liveReaders = nil
	if c.mmapC != nil {
		for _, id := range job.Inputs {
			c.mmapC.Remove(id)
		}
	}
	for _, id := range job.Inputs {
		if info, ok := inputByID[id]; ok {
			_ = removeSegmentFile(segmentsDir, info.Level, id)
		}
	}

	c.logger.Info("compaction completed", "job", job.ID, "inputs", len(job.Inputs),
		"outputs", len(outputs), "elapsed", time.Since(start))
	return nil
}

// mergedEntry is one deduplicated, highest-sequence-wins key produced by
// the merge pass.
type mergedEntry struct {
	key   []byte
	value []byte
	seq   uint64
	kind  uint8
}

// mergeInputs performs the multiway merge described by the compactor's
// merge algorithm: every distinct key across all inputs is resolved to
// its highest-sequence record, range tombstones are applied so any
// covered point entry with a smaller sequence is dropped, and (when
// bottommost is true, i.e. compacting into the last level) point
// tombstones and all range tombstones are themselves dropped
// since no lower level remains that could need them.
func mergeInputs(readers []*segment.Reader, bottommost bool) ([]mergedEntry, []segment.RangeTombstone, error) {
	// Every generation's segment carries a strictly higher MaxSeq than
	// the generation before it, and a later write for a given key always
	// lands in a later generation. So visiting readers newest-first and
	// keeping only the first occurrence of each key is equivalent to
	// (and cheaper than) comparing sequence numbers across duplicates.
	ordered := make([]*segment.Reader, len(readers))
	copy(ordered, readers)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Metadata().MaxSeq > ordered[j].Metadata().MaxSeq
	})

	best := make(map[string]mergedEntry)
	seen := make(map[[32]byte]struct{})

	var allTombstones []segment.RangeTombstone
	for _, r := range ordered {
		allTombstones = append(allTombstones, r.RangeTombstones()...)
	}

	for _, r := range ordered {
		entries, err := r.RangeScan(nil, nil)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range entries {
			h := blake3.Sum256(e.Key)
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			best[string(e.Key)] = mergedEntry{key: e.Key, value: e.Value, seq: e.Seq, kind: e.Kind}
		}
	}

	sortedTombstones := make([]segment.RangeTombstone, len(allTombstones))
	copy(sortedTombstones, allTombstones)
	sort.Slice(sortedTombstones, func(i, j int) bool {
		return string(sortedTombstones[i].Start) < string(sortedTombstones[j].Start)
	})

	out := make([]mergedEntry, 0, len(best))
	for _, e := range best {
		if coveringSeq, covered := coveredByTombstone(sortedTombstones, e.key); covered && coveringSeq > e.seq {
			continue // subsumed by a newer range tombstone
		}
		if bottommost && e.kind == common.KindDelete {
			continue // no lower level left to mask
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].key) < string(out[j].key) })

	outTombstones := sortedTombstones
	if bottommost {
		outTombstones = nil // nothing below the bottommost level to mask
	}

	return out, outTombstones, nil
}

func coveredByTombstone(tombstones []segment.RangeTombstone, key []byte) (uint64, bool) {
	var best uint64
	var found bool
	for _, t := range tombstones {
		if string(t.Start) > string(key) {
			break
		}
		if string(key) < string(t.End) {
			if !found || t.Seq > best {
				best = t.Seq
				found = true
			}
		}
	}
	return best, found
}

// writeOutputs streams the merged entries into one or more output
// segments, rolling over to a new segment once maxSegmentSize is
// reached.
func (c *Compactor) writeOutputs(ctx context.Context, merged []mergedEntry, tombstones []segment.RangeTombstone, segmentsDir string, targetLevel int) ([]manifest.SegmentInfo, error) {
	var outputs []manifest.SegmentInfo
	var builder *segment.Builder
	var curID uint64
	var approxBytes int64
	var count uint64

	finalize := func() error {
		if builder == nil {
			return nil
		}
		if err := builder.Finish(); err != nil {
			return err
		}
		outputs = append(outputs, manifest.SegmentInfo{
			ID:         curID,
			Level:      targetLevel,
			EntryCount: count,
		})
		builder = nil
		count = 0
		approxBytes = 0
		return nil
	}
	// partial lists every output file started so far, so that a failed
	// job's caller can delete them.
	partial := func() []manifest.SegmentInfo {
		if builder != nil {
			return append(outputs, manifest.SegmentInfo{ID: curID, Level: targetLevel})
		}
		return outputs
	}

	for _, e := range merged {
		select {
		case <-ctx.Done():
			return partial(), ctx.Err()
		default:
		}

		if builder == nil {
			curID = c.alloc()
			path := filepath.Join(segmentsDir, segment.FileName(targetLevel, curID))
			builder = segment.NewBuilder(path, targetLevel, common.DefaultBlockSizeBytes, uint64(len(merged)))
			for _, t := range tombstones {
				builder.AddRangeTombstone(segment.BuilderRangeTombstone{Start: t.Start, End: t.End, Seq: t.Seq})
			}
		}

		if err := builder.Add(segment.BuilderEntry{Key: e.key, Value: e.value, Seq: e.seq, Kind: e.kind}); err != nil {
			return partial(), err
		}
		approxBytes += int64(len(e.key) + len(e.value))
		count++

		if approxBytes >= c.maxSegmentSize {
			if err := finalize(); err != nil {
				return partial(), err
			}
		}
	}
	if err := finalize(); err != nil {
		return partial(), err
	}

	// fill in min/max key and seq range from the opened readers' output
	// by re-reading the finished segment metadata
	for i := range outputs {
		path := filepath.Join(segmentsDir, segment.FileName(targetLevel, outputs[i].ID))
		r, err := segment.OpenReader(outputs[i].ID, path, nil, nil)
		if err != nil {
			continue
		}
		md := r.Metadata()
		outputs[i].MinKey = md.MinKey
		outputs[i].MaxKey = md.MaxKey
		outputs[i].MinSeq = md.MinSeq
		outputs[i].MaxSeq = md.MaxSeq
		r.Close()

		if fi, err := os.Stat(path); err == nil {
			outputs[i].SizeBytes = fi.Size()
		}
		if hash, err := utils.ComputeBLAKE3File(path); err == nil {
			outputs[i].ContentHash = hash
		} else {
			c.logger.Warn("failed to hash compaction output segment", "id", outputs[i].ID, "error", err)
		}
	}

	return outputs, nil
}

func removeSegmentFile(segmentsDir string, level int, id uint64) error {
	path := filepath.Join(segmentsDir, segment.FileName(level, id))
	return os.Remove(path)
}

func filterByLevel(segs []manifest.SegmentInfo, level int) []manifest.SegmentInfo {
	var out []manifest.SegmentInfo
	for _, s := range segs {
		if s.Level == level {
			out = append(out, s)
		}
	}
	return out
}

func totalSize(segs []manifest.SegmentInfo) int64 {
	var total int64
	for _, s := range segs {
		total += s.SizeBytes
	}
	return total
}

func segmentIDs(segs []manifest.SegmentInfo) []uint64 {
	ids := make([]uint64, len(segs))
	for i, s := range segs {
		ids[i] = s.ID
	}
	return ids
}
