// Package waldb implements an embedded, single-process key-value storage
// engine over a hierarchical (slash-delimited path) namespace: a
// write-ahead log, an in-memory memtable, immutable sorted segment files
// organized into levels, a manifest and a background compactor.
package waldb

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/pkg/waldb/compaction"
	"github.com/waldb/waldb/pkg/waldb/manifest"
	"github.com/waldb/waldb/pkg/waldb/memtable"
	"github.com/waldb/waldb/pkg/waldb/monitoring"
	"github.com/waldb/waldb/pkg/waldb/pathkey"
	"github.com/waldb/waldb/pkg/waldb/segment"
	"github.com/waldb/waldb/pkg/waldb/utils"
	"github.com/waldb/waldb/pkg/waldb/wal"
)

// Store is the public facade over the storage engine: it routes
// operations, coordinates the WAL, memtable, manifest, segments and
// compactor, and owns the locks that keep them consistent.
type Store struct {
	dir    string
	opts   *Options
	logger common.Logger

	// mu guards structural transitions: memtable swap, frozen-memtable
	// bookkeeping and manifest reads that must be consistent with them.
	// Steady-state Set/Delete/Get take it only briefly; they otherwise
	// serialize at the WAL commit queue, not here.
	mu sync.RWMutex

	walInst     *wal.WAL
	memtablePtr atomic.Pointer[memtable.Memtable]
	frozen      []*memtable.Memtable // immutable memtables awaiting flush

	closed   int32 // atomic
	readonly bool

	manifest      *manifest.Manifest
	mmapCache     *segment.MmapCache
	blockCache    *segment.BlockCache
	compactor     *compaction.Compactor
	nextSegmentID uint64 // atomic

	readersMu sync.Mutex
	readers   map[uint64]*segment.Reader

	lock *utils.FileLock

	pprofSrv *http.Server

	stats *StatsCollector

	flushStop   chan struct{}
	flushTicker *time.Ticker
	bgWg        sync.WaitGroup
	flushWg     sync.WaitGroup
}

// Open creates or opens a store at dir. A nil opts uses DefaultOptions.
func Open(dir string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = NewDefaultLogger()
	}

	if !opts.ReadOnly {
		for _, sub := range []string{"", common.DirWAL, common.DirSegments, common.DirManifest} {
			if err := utils.CreateDirIfNotExists(filepath.Join(dir, sub)); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
	}

	var lock *utils.FileLock
	if !opts.ReadOnly {
		l, err := utils.AcquireFileLock(filepath.Join(dir, common.FileLock))
		if err != nil {
			return nil, fmt.Errorf("acquire store lock: %w", err)
		}
		lock = l
	}

	s := &Store{
		dir:      dir,
		opts:     opts,
		logger:   opts.Logger,
		readonly: opts.ReadOnly,
		stats:    NewStatsCollector(),
		readers:  make(map[uint64]*segment.Reader),
		lock:     lock,
	}
	s.memtablePtr.Store(memtable.New())

	m, err := manifest.Open(dir, s.logger)
	if err != nil {
		s.releaseLock()
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	s.manifest = m
	state := m.Snapshot()

	if !opts.ReadOnly {
		wcfg := wal.Config{
			Durability:          opts.Durability,
			GroupCommitInterval: time.Duration(opts.GroupCommitIntervalMs) * time.Millisecond,
		}
		if opts.WALRotateSize > 0 {
			wcfg.RotateSize = opts.WALRotateSize
		}
		w, err := wal.Open(filepath.Join(dir, common.DirWAL), s.logger, wcfg)
		if err != nil {
			s.releaseLock()
			return nil, fmt.Errorf("open WAL: %w", err)
		}
		s.walInst = w
	}

	maxSeq, err := wal.Replay(filepath.Join(dir, common.DirWAL), s.logger, func(rr wal.ReplayedRecord) error {
		mt := s.memtablePtr.Load()
		switch rr.Kind {
		case common.KindPut:
			return mt.Put(rr.Key, rr.Value, rr.SeqNum)
		case common.KindDelete:
			return mt.Delete(rr.Key, rr.SeqNum)
		case common.KindRangeTombstone:
			return mt.DeleteRange(rr.Key, rr.Value, rr.SeqNum)
		}
		s.logger.Warn("unknown WAL record kind during replay", "kind", rr.Kind)
		return nil
	})
	if err != nil {
		s.releaseLock()
		return nil, fmt.Errorf("replay WAL: %w", err)
	}

	nextSeq := maxSeq + 1
	if state.NextSeq > nextSeq {
		nextSeq = state.NextSeq
	}
	if s.walInst != nil {
		s.walInst.SetNextSeq(nextSeq)
	}

	if opts.BlockCacheBytes > 0 {
		s.blockCache = segment.NewBlockCache(opts.BlockCacheBytes)
	}
	if opts.MaxMmapCacheSize >= 0 {
		cacheSize := opts.MaxMmapCacheSize
		if cacheSize == 0 {
			cacheSize = segment.DefaultMaxMmapCacheSize
		}
		s.mmapCache = segment.NewMmapCache(cacheSize, s.logger)
	}

	var maxSegID uint64
	for _, seg := range state.Segments {
		if seg.ID > maxSegID {
			maxSegID = seg.ID
		}
	}
	atomic.StoreUint64(&s.nextSegmentID, maxSegID)

	if !opts.ReadOnly {
		alloc := func() uint64 { return atomic.AddUint64(&s.nextSegmentID, 1) }
		s.compactor = compaction.NewCompactor(dir, s.manifest, s.mmapCache, s.blockCache, s.logger, alloc)
		s.startBackgroundTasks()
	}

	if opts.PprofAddr != "" {
		srv, err := monitoring.StartPprofServer(opts.PprofAddr)
		if err != nil {
			s.logger.Warn("failed to start pprof server", "addr", opts.PprofAddr, "error", err)
		} else {
			s.pprofSrv = srv
			s.logger.Info("pprof server listening", "addr", opts.PprofAddr)
		}
	}

	s.logger.Info("store opened", "dir", dir, "readonly", s.readonly, "segments", len(state.Segments))
	return s, nil
}

func (s *Store) releaseLock() {
	if s.lock != nil {
		s.lock.Release()
	}
}

// Close flushes any unflushed writes, stops background tasks and releases
// all resources. Safe to call more than once.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	s.logger.Info("closing store", "dir", s.dir)

	if !s.readonly {
		s.stopBackgroundTasks()

		if mt := s.memtablePtr.Load(); mt != nil && !mt.IsEmpty() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := s.Flush(ctx); err != nil {
				s.logger.Error("failed to flush memtable during close", "error", err)
			}
			cancel()
		}
		s.flushWg.Wait()
	}

	if s.walInst != nil {
		if err := s.walInst.Close(); err != nil {
			s.logger.Error("failed to close WAL", "error", err)
		}
	}
	if s.compactor != nil {
		s.compactor.Stop()
	}

	s.readersMu.Lock()
	for _, r := range s.readers {
		r.Close()
	}
	s.readers = nil
	s.readersMu.Unlock()

	if s.mmapCache != nil {
		if err := s.mmapCache.Close(); err != nil {
			s.logger.Error("failed to close mmap cache", "error", err)
		}
	}
	if s.pprofSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := monitoring.StopPprofServer(ctx, s.pprofSrv); err != nil {
			s.logger.Warn("failed to stop pprof server", "error", err)
		}
		cancel()
	}
	s.releaseLock()

	s.logger.Info("store closed", "dir", s.dir)
	return nil
}

// Set writes key=value. Without force, the write fails with
// TreeConflictError if key currently has live descendants or any strict
// ancestor of key holds a live scalar value. With force, any live subtree
// rooted at key is atomically replaced by value in the same commit.
func (s *Store) Set(key, value []byte, force bool) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return common.ErrClosed
	}
	if s.readonly {
		return common.ErrReadOnly
	}
	if err := pathkey.Validate(key, false); err != nil {
		return err
	}

	var entries []wal.Entry
	if force {
		start, end := pathkey.SubtreeRange(key)
		entries = []wal.Entry{
			{Kind: common.KindRangeTombstone, Key: start, Value: end},
			{Kind: common.KindPut, Key: key, Value: value},
		}
	} else {
		if err := s.checkNoLiveAncestor(key); err != nil {
			return err
		}
		if err := s.checkNoLiveDescendants(key); err != nil {
			return err
		}
		entries = []wal.Entry{{Kind: common.KindPut, Key: key, Value: value}}
	}

	startSeq, err := s.walInst.Append(entries)
	if err != nil {
		return fmt.Errorf("append to WAL: %w", err)
	}

	mt := s.memtablePtr.Load()
	if force {
		start, end := pathkey.SubtreeRange(key)
		mt.DeleteRange(start, end, startSeq)
		mt.Put(key, value, startSeq+1)
	} else {
		mt.Put(key, value, startSeq)
	}

	s.stats.RecordSet()
	s.maybeTriggerFlush()
	return nil
}

// Delete removes key and its entire subtree unconditionally. Deleting an
// absent key succeeds silently.
func (s *Store) Delete(key []byte) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return common.ErrClosed
	}
	if s.readonly {
		return common.ErrReadOnly
	}
	if err := pathkey.Validate(key, false); err != nil {
		return err
	}

	start, end := pathkey.SubtreeRange(key)
	entries := []wal.Entry{
		{Kind: common.KindDelete, Key: key},
		{Kind: common.KindRangeTombstone, Key: start, Value: end},
	}
	startSeq, err := s.walInst.Append(entries)
	if err != nil {
		return fmt.Errorf("append to WAL: %w", err)
	}

	mt := s.memtablePtr.Load()
	mt.Delete(key, startSeq)
	mt.DeleteRange(start, end, startSeq+1)

	s.stats.RecordDelete()
	s.maybeTriggerFlush()
	return nil
}

// BulkSet writes every entry in a single commit. If replace is set, a
// range tombstone over the subtree rooted at replaceAt (the whole store,
// if replaceAt is empty) is written in the same batch ahead of the puts,
// so the replacement is visible atomically.
func (s *Store) BulkSet(entries []KVPair, replaceAt []byte, replace bool) error {
	if atomic.LoadInt32(&s.closed) == 1 {
		return common.ErrClosed
	}
	if s.readonly {
		return common.ErrReadOnly
	}
	for _, e := range entries {
		if err := pathkey.Validate(e.Key, false); err != nil {
			return err
		}
	}

	var tombStart, tombEnd []byte
	if replace {
		if len(replaceAt) == 0 {
			tombStart, tombEnd = nil, []byte{0xFF}
		} else {
			if err := pathkey.Validate(replaceAt, false); err != nil {
				return err
			}
			tombStart, tombEnd = pathkey.SubtreeRange(replaceAt)
		}
	}

	// Tree-invariant checks apply the same way they do for Set, except an
	// entry that falls under the batch's own replace_at subtree (or equals
	// replace_at itself) is about to be cleared by the tombstone in this
	// same commit, so checking its pre-batch state would reject writes the
	// replace is specifically meant to allow.
	for _, e := range entries {
		if replace && (bytes.Equal(e.Key, replaceAt) || keyInBounds(tombStart, tombEnd, e.Key)) {
			continue
		}
		if err := s.checkNoLiveAncestor(e.Key); err != nil {
			return err
		}
		if err := s.checkNoLiveDescendants(e.Key); err != nil {
			return err
		}
	}

	walEntries := make([]wal.Entry, 0, len(entries)+1)
	if replace {
		walEntries = append(walEntries, wal.Entry{Kind: common.KindRangeTombstone, Key: tombStart, Value: tombEnd})
	}
	for _, e := range entries {
		walEntries = append(walEntries, wal.Entry{Kind: common.KindPut, Key: e.Key, Value: e.Value})
	}
	if len(walEntries) == 0 {
		return nil
	}

	startSeq, err := s.walInst.Append(walEntries)
	if err != nil {
		return fmt.Errorf("append to WAL: %w", err)
	}

	mt := s.memtablePtr.Load()
	seq := startSeq
	if replace {
		mt.DeleteRange(tombStart, tombEnd, seq)
		seq++
	}
	for _, e := range entries {
		mt.Put(e.Key, e.Value, seq)
		seq++
	}

	s.stats.RecordSet()
	s.maybeTriggerFlush()
	return nil
}

// Get returns the current value for key, or found=false if it is absent
// or masked by a tombstone.
func (s *Store) Get(key []byte) ([]byte, bool, error) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil, false, common.ErrClosed
	}
	s.stats.RecordGet()

	s.mu.RLock()
	mt := s.memtablePtr.Load()
	frozen := make([]*memtable.Memtable, len(s.frozen))
	copy(frozen, s.frozen)
	state := s.manifest.Snapshot()
	s.mu.RUnlock()

	if e, ok := mt.Get(key); ok {
		return finishGet(e)
	}
	for i := len(frozen) - 1; i >= 0; i-- {
		if e, ok := frozen[i].Get(key); ok {
			return finishGet(e)
		}
	}

	for level := common.LevelL0; level <= common.MaxLevel; level++ {
		segs := segmentsAtLevel(state.Segments, level)
		for _, seg := range segs {
			if len(seg.MinKey) > 0 && len(seg.MaxKey) > 0 {
				if len(key) > 0 && (bytesLess(key, seg.MinKey) || bytesLess(seg.MaxKey, key)) {
					continue
				}
			}
			r, err := s.getReader(seg)
			if err != nil {
				s.logger.Warn("skipping unreadable segment during get", "segment_id", seg.ID, "error", err)
				continue
			}
			entry, found, err := r.PointGet(key)
			if err != nil {
				return nil, false, fmt.Errorf("%w: point get on segment %d: %v", common.ErrCorrupt, seg.ID, err)
			}
			tombSeq, covered := coveredByTombstone(r.RangeTombstones(), key)
			switch {
			case found && covered && tombSeq > entry.Seq:
				return nil, false, nil
			case found:
				if entry.Kind == common.KindDelete {
					return nil, false, nil
				}
				return entry.Value, true, nil
			case covered:
				return nil, false, nil
			}
		}
	}
	return nil, false, nil
}

func finishGet(e memtable.Entry) ([]byte, bool, error) {
	if e.Kind != common.KindPut {
		return nil, false, nil
	}
	return e.Value, true, nil
}

// Exists reports whether key currently has a live value.
func (s *Store) Exists(key []byte) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

// Range returns every live key in [start, end) in ascending order. A
// range where end <= start yields an empty iterator.
func (s *Store) Range(start, end []byte) (Iterator, error) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil, common.ErrClosed
	}
	s.stats.RecordGet()
	if len(start) > 0 && len(end) > 0 && !bytesLess(start, end) {
		return &sliceIterator{}, nil
	}
	pairs, err := s.collectRange(start, end)
	if err != nil {
		return nil, err
	}
	return &sliceIterator{pairs: pairs}, nil
}

// PrefixScan returns every live key with the given prefix.
func (s *Store) PrefixScan(prefix []byte) (Iterator, error) {
	return s.Range(prefix, prefixUpperBound(prefix))
}

// Pattern returns every live key matching glob, where '*' matches zero or
// more bytes within a single path component (it does not cross '/') and
// '?' matches exactly one byte. The literal prefix before the first
// wildcard seeds a PrefixScan; the glob is then applied as a filter.
func (s *Store) Pattern(glob []byte) (Iterator, error) {
	if atomic.LoadInt32(&s.closed) == 1 {
		return nil, common.ErrClosed
	}
	prefix := literalPrefix(glob)
	it, err := s.PrefixScan(prefix)
	if err != nil {
		return nil, err
	}
	si := it.(*sliceIterator)
	filtered := si.pairs[:0]
	for _, p := range si.pairs {
		if globMatch(glob, p.Key) {
			filtered = append(filtered, p)
		}
	}
	return &sliceIterator{pairs: filtered}, nil
}

// Flush swaps the active memtable out and serializes it into a new L0
// segment, installed atomically via a manifest edit. A no-op if the
// memtable is empty.
func (s *Store) Flush(ctx context.Context) error {
	if s.readonly {
		return common.ErrReadOnly
	}
	s.flushWg.Add(1)
	defer s.flushWg.Done()
	start := time.Now()

	s.mu.Lock()
	old := s.memtablePtr.Swap(memtable.New())
	if old == nil || old.IsEmpty() {
		s.mu.Unlock()
		return nil
	}
	old.MarkImmutable()
	s.frozen = append(s.frozen, old)
	s.mu.Unlock()

	defer s.dropFrozen(old)

	segID := atomic.AddUint64(&s.nextSegmentID, 1)
	path := filepath.Join(s.dir, common.DirSegments, segment.FileName(common.LevelL0, segID))
	b := segment.NewBuilder(path, common.LevelL0, s.opts.BlockSizeBytes, uint64(old.Count()))

	it := old.NewIterator(nil, nil)
	entryCount := 0
	for it.Next() {
		e := it.Entry()
		if err := b.Add(segment.BuilderEntry{Key: e.Key, Value: e.Value, Seq: e.Seq, Kind: e.Kind}); err != nil {
			return fmt.Errorf("add entry to segment builder: %w", err)
		}
		entryCount++
	}
	for _, rt := range old.RangeTombstones() {
		b.AddRangeTombstone(segment.BuilderRangeTombstone{Start: rt.Start, End: rt.End, Seq: rt.Seq})
	}

	if entryCount == 0 {
		s.logger.Info("flush produced no live entries, skipping segment", "segment_id", segID)
		return nil
	}

	if err := b.Finish(); err != nil {
		return fmt.Errorf("finish segment builder: %w", err)
	}

	r, err := segment.OpenReader(segID, path, nil, nil)
	if err != nil {
		return fmt.Errorf("reopen flushed segment: %w", err)
	}
	md := r.Metadata()
	r.Close()

	fi, _ := os.Stat(path)
	var size int64
	if fi != nil {
		size = fi.Size()
	}
	contentHash, err := utils.ComputeBLAKE3File(path)
	if err != nil {
		return fmt.Errorf("hash flushed segment: %w", err)
	}

	edit := manifest.Edit{Type: manifest.EditAddSegment, Segment: manifest.SegmentInfo{
		ID: segID, Level: common.LevelL0, MinKey: md.MinKey, MaxKey: md.MaxKey,
		MinSeq: md.MinSeq, MaxSeq: md.MaxSeq, EntryCount: md.EntryCount, SizeBytes: size,
		ContentHash: contentHash,
	}}
	if err := s.manifest.ApplyEdit(edit); err != nil {
		return fmt.Errorf("install flushed segment in manifest: %w", err)
	}

	if s.walInst != nil {
		if err := s.walInst.Rotate(); err != nil {
			s.logger.Warn("WAL rotation after flush failed", "error", err)
		} else {
			newSeq := s.walInst.CurrentFileSeq()
			if err := s.manifest.ApplyEdit(manifest.Edit{Type: manifest.EditRotateWAL, WALID: newSeq}); err != nil {
				s.logger.Warn("failed to record WAL rotation in manifest", "error", err)
			} else if err := s.walInst.DeleteFilesBefore(newSeq); err != nil {
				s.logger.Warn("failed to delete superseded WAL files", "error", err)
			}
		}
	}

	s.stats.RecordFlush(time.Since(start))
	s.logger.Info("flush completed", "segment_id", segID, "entries", entryCount, "duration", time.Since(start))

	if s.compactor != nil {
		s.compactor.TriggerCompaction()
	}
	return nil
}

func (s *Store) dropFrozen(old *memtable.Memtable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.frozen[:0]
	for _, f := range s.frozen {
		if f != old {
			out = append(out, f)
		}
	}
	s.frozen = out
}

func (s *Store) maybeTriggerFlush() {
	mt := s.memtablePtr.Load()
	if mt.ApproximateSize() >= s.opts.MemtableTargetBytes && !s.opts.DisableAutoFlush {
		go func() {
			if err := s.Flush(context.Background()); err != nil {
				s.logger.Error("async flush failed", "error", err)
			}
		}()
	}
}

func (s *Store) checkNoLiveDescendants(key []byte) error {
	return pathkey.CheckNoLiveDescendants(key, func(start, end []byte) (bool, error) {
		pairs, err := s.collectRange(start, end)
		if err != nil {
			return false, err
		}
		return len(pairs) > 0, nil
	})
}

func (s *Store) checkNoLiveAncestor(key []byte) error {
	return pathkey.CheckNoLiveAncestor(key, func(ancestor []byte) (bool, error) {
		_, ok, err := s.Get(ancestor)
		return ok, err
	})
}

// getReader returns an open reader for seg, opening and caching it on
// first use. Readers for segments no longer present in the manifest are
// closed later by reconcileReaders, which the background flush task runs
// on each tick, or by Close.
func (s *Store) getReader(seg manifest.SegmentInfo) (*segment.Reader, error) {
	s.readersMu.Lock()
	if r, ok := s.readers[seg.ID]; ok {
		s.readersMu.Unlock()
		return r, nil
	}
	s.readersMu.Unlock()

	path := filepath.Join(s.dir, common.DirSegments, segment.FileName(seg.Level, seg.ID))
	r, err := segment.OpenReader(seg.ID, path, s.mmapCache, s.blockCache)
	if err != nil {
		return nil, err
	}

	s.readersMu.Lock()
	if existing, ok := s.readers[seg.ID]; ok {
		s.readersMu.Unlock()
		r.Close()
		return existing, nil
	}
	s.readers[seg.ID] = r
	s.readersMu.Unlock()
	return r, nil
}

// reconcileReaders closes and evicts cached readers for segments no
// longer present in state, matching the manifest's RCU-style bookkeeping
// for superseded versions.
func (s *Store) reconcileReaders(state manifest.State) {
	live := make(map[uint64]bool, len(state.Segments))
	for _, seg := range state.Segments {
		live[seg.ID] = true
	}
	s.readersMu.Lock()
	defer s.readersMu.Unlock()
	for id, r := range s.readers {
		if !live[id] {
			r.Close()
			delete(s.readers, id)
		}
	}
}

func segmentsAtLevel(segs []manifest.SegmentInfo, level int) []manifest.SegmentInfo {
	var out []manifest.SegmentInfo
	for _, seg := range segs {
		if seg.Level == level {
			out = append(out, seg)
		}
	}
	if level == common.LevelL0 {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func bytesLess(a, b []byte) bool {
	return string(a) < string(b)
}

// keyInBounds reports whether key lies in [start, end). A nil/empty start
// is -infinity; a nil/empty end is +infinity.
func keyInBounds(start, end, key []byte) bool {
	if len(start) > 0 && bytes.Compare(key, start) < 0 {
		return false
	}
	if len(end) > 0 && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

// --- background tasks ---

func (s *Store) startBackgroundTasks() {
	s.flushStop = make(chan struct{})
	if !s.opts.DisableAutoFlush {
		s.flushTicker = time.NewTicker(10 * time.Second)
		s.bgWg.Add(1)
		go s.flushTask()
	}
	if s.compactor != nil && !s.opts.DisableBackgroundCompaction {
		s.compactor.Start(context.Background())
	}
}

func (s *Store) stopBackgroundTasks() {
	if s.flushStop != nil {
		close(s.flushStop)
	}
	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}
	s.bgWg.Wait()
}

func (s *Store) flushTask() {
	defer s.bgWg.Done()
	for {
		select {
		case <-s.flushStop:
			return
		case <-s.flushTicker.C:
			mt := s.memtablePtr.Load()
			if mt.ApproximateSize() >= s.opts.MemtableTargetBytes {
				if err := s.Flush(context.Background()); err != nil {
					s.logger.Error("periodic flush failed", "error", err)
				}
			}
			state := s.manifest.Snapshot()
			s.reconcileReaders(state)
		}
	}
}

// Stats returns a point-in-time snapshot of store statistics.
func (s *Store) Stats() Stats {
	return s.stats.GetStats()
}
