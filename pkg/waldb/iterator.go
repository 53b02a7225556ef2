package waldb

import (
	"bytes"
	"sort"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/pkg/waldb/memtable"
	"github.com/waldb/waldb/pkg/waldb/segment"
)

// Iterator yields live (key, value) pairs in ascending key order from a
// snapshot captured at the moment the iterator was created. Segment
// additions made after that point are invisible to it.
type Iterator interface {
	// Next advances to the next pair, returning false once exhausted or on
	// error (check Err to distinguish the two).
	Next() bool
	Key() []byte
	Value() []byte
	Err() error
	Close() error
}

// KVPair is one leaf write accepted by BulkSet.
type KVPair struct {
	Key   []byte
	Value []byte
}

type sliceIterator struct {
	pairs []KVPair
	pos   int
	err   error
}

func (it *sliceIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.pairs) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Key() []byte   { return it.pairs[it.pos-1].Key }
func (it *sliceIterator) Value() []byte { return it.pairs[it.pos-1].Value }
func (it *sliceIterator) Err() error    { return it.err }
func (it *sliceIterator) Close() error  { return nil }

func errIterator(err error) Iterator { return &sliceIterator{err: err} }

// mergedPoint is one candidate winner for a key while resolving a range
// across memtable generations and segment levels.
type mergedPoint struct {
	value []byte
	seq   uint64
	kind  uint8
}

// collectRange materializes the live view of [start, end) (end == nil
// means unbounded) across the active memtable, any frozen memtables
// awaiting flush, and every manifest-registered segment whose key range
// can intersect the query. It resolves conflicts the same way compaction
// does: highest sequence wins per key, and a range tombstone masks any
// point entry it covers with a lower sequence.
func (s *Store) collectRange(start, end []byte) ([]KVPair, error) {
	points := make(map[string]mergedPoint)
	var tombstones []segment.RangeTombstone

	addPoint := func(key, value []byte, seq uint64, kind uint8) {
		k := string(key)
		if cur, ok := points[k]; !ok || seq > cur.seq {
			points[k] = mergedPoint{value: value, seq: seq, kind: kind}
		}
	}

	s.mu.RLock()
	mt := s.memtablePtr.Load()
	frozen := make([]*memtable.Memtable, len(s.frozen))
	copy(frozen, s.frozen)
	state := s.manifest.Snapshot()
	s.mu.RUnlock()

	scanMemtable := func(m *memtable.Memtable) {
		it := m.NewIterator(start, end)
		for it.Next() {
			e := it.Entry()
			addPoint(e.Key, e.Value, e.Seq, e.Kind)
		}
		for _, rt := range m.RangeTombstones() {
			tombstones = append(tombstones, segment.RangeTombstone{Start: rt.Start, End: rt.End, Seq: rt.Seq})
		}
	}

	scanMemtable(mt)
	for i := len(frozen) - 1; i >= 0; i-- {
		scanMemtable(frozen[i])
	}

	for _, seg := range state.Segments {
		if !rangeOverlaps(seg.MinKey, seg.MaxKey, start, end) {
			continue
		}
		r, err := s.getReader(seg)
		if err != nil {
			s.logger.Warn("skipping unreadable segment during scan", "segment_id", seg.ID, "error", err)
			continue
		}
		entries, err := r.RangeScan(start, end)
		if err != nil {
			s.logger.Warn("range scan failed on segment", "segment_id", seg.ID, "error", err)
			continue
		}
		for _, e := range entries {
			addPoint(e.Key, e.Value, e.Seq, e.Kind)
		}
		tombstones = append(tombstones, r.RangeTombstones()...)
	}

	sort.Slice(tombstones, func(i, j int) bool { return bytes.Compare(tombstones[i].Start, tombstones[j].Start) < 0 })

	out := make([]KVPair, 0, len(points))
	for k, p := range points {
		key := []byte(k)
		if p.kind != common.KindPut {
			continue
		}
		if tombSeq, covered := coveredByTombstone(tombstones, key); covered && tombSeq > p.seq {
			continue
		}
		out = append(out, KVPair{Key: key, Value: p.value})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Key, out[j].Key) < 0 })
	return out, nil
}

// coveredByTombstone reports the highest sequence number of any range
// tombstone (sorted by Start) covering key.
func coveredByTombstone(tombstones []segment.RangeTombstone, key []byte) (uint64, bool) {
	var bestSeq uint64
	found := false
	for _, rt := range tombstones {
		if bytes.Compare(rt.Start, key) > 0 {
			break
		}
		if bytes.Compare(key, rt.End) < 0 {
			if !found || rt.Seq > bestSeq {
				bestSeq, found = rt.Seq, true
			}
		}
	}
	return bestSeq, found
}

// rangeOverlaps reports whether [segMin, segMax] can intersect [start, end).
// A nil segMin/segMax or query bound is treated as unbounded.
func rangeOverlaps(segMin, segMax, start, end []byte) bool {
	if len(end) > 0 && len(segMin) > 0 && bytes.Compare(segMin, end) >= 0 {
		return false
	}
	if len(start) > 0 && len(segMax) > 0 && bytes.Compare(segMax, start) < 0 {
		return false
	}
	return true
}

// prefixUpperBound returns the smallest byte string greater than every
// string with the given prefix, for use as an exclusive range end. Returns
// nil (unbounded) if prefix is all 0xFF bytes.
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}
