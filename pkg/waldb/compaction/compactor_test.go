package compaction

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/pkg/waldb/manifest"
	"github.com/waldb/waldb/pkg/waldb/segment"
)

func newTestEnv(t *testing.T) (dir string, m *manifest.Manifest, alloc func() uint64) {
	t.Helper()
	dir = t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, common.DirSegments), 0755); err != nil {
		t.Fatalf("mkdir segments: %v", err)
	}
	var err error
	m, err = manifest.Open(dir, nil)
	if err != nil {
		t.Fatalf("open manifest: %v", err)
	}
	// Start above the segment IDs the tests register by hand, as the store
	// seeds its allocator from the highest existing segment ID.
	next := uint64(100)
	alloc = func() uint64 { return atomic.AddUint64(&next, 1) }
	return dir, m, alloc
}

func buildAndRegisterSegment(t *testing.T, dir string, m *manifest.Manifest, id uint64, level int, entries map[string]uint64) {
	t.Helper()
	path := filepath.Join(dir, common.DirSegments, segment.FileName(level, id))
	b := segment.NewBuilder(path, level, 4096, uint64(len(entries)))

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		if err := b.Add(segment.BuilderEntry{Key: []byte(k), Value: []byte("v-" + k), Seq: entries[k], Kind: common.KindPut}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	r, err := segment.OpenReader(id, path, nil, nil)
	if err != nil {
		t.Fatalf("open reader for metadata: %v", err)
	}
	md := r.Metadata()
	r.Close()

	if err := m.ApplyEdit(manifest.Edit{Type: manifest.EditAddSegment, Segment: manifest.SegmentInfo{
		ID: id, Level: level, MinKey: md.MinKey, MaxKey: md.MaxKey, MinSeq: md.MinSeq, MaxSeq: md.MaxSeq, EntryCount: md.EntryCount,
	}}); err != nil {
		t.Fatalf("apply edit: %v", err)
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestCompactionMergesAndKeepsHighestSequence(t *testing.T) {
	dir, m, alloc := newTestEnv(t)

	buildAndRegisterSegment(t, dir, m, 1, common.LevelL0, map[string]uint64{"k": 1})
	buildAndRegisterSegment(t, dir, m, 2, common.LevelL0, map[string]uint64{"k": 2})

	c := NewCompactor(dir, m, nil, nil, nil, alloc)
	job := Job{ID: alloc(), Level: common.LevelL0, Inputs: []uint64{1, 2}}

	if err := c.run(context.Background(), job); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := m.Snapshot()
	if len(st.Segments) != 1 {
		t.Fatalf("expected exactly one output segment, got %d: %+v", len(st.Segments), st.Segments)
	}
	out := st.Segments[0]
	if out.Level != common.LevelL1 {
		t.Fatalf("expected output at L1, got L%d", out.Level)
	}

	path := filepath.Join(dir, common.DirSegments, segment.FileName(out.Level, out.ID))
	r, err := segment.OpenReader(out.ID, path, nil, nil)
	if err != nil {
		t.Fatalf("open output reader: %v", err)
	}
	defer r.Close()

	e, ok, err := r.PointGet([]byte("k"))
	if err != nil || !ok {
		t.Fatalf("point get: ok=%v err=%v", ok, err)
	}
	if e.Seq != 2 || string(e.Value) != "v-k" {
		t.Fatalf("expected the higher-sequence write to survive, got %+v", e)
	}
}

func TestCompactionDropsTombstonesAtBottommostLevel(t *testing.T) {
	dir, m, alloc := newTestEnv(t)

	path := filepath.Join(dir, common.DirSegments, segment.FileName(common.LevelL1, 1))
	b := segment.NewBuilder(path, common.LevelL1, 4096, 2)
	if err := b.Add(segment.BuilderEntry{Key: []byte("a"), Value: nil, Seq: 1, Kind: common.KindDelete}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.Add(segment.BuilderEntry{Key: []byte("b"), Value: []byte("v"), Seq: 2, Kind: common.KindPut}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := m.ApplyEdit(manifest.Edit{Type: manifest.EditAddSegment, Segment: manifest.SegmentInfo{ID: 1, Level: common.LevelL1}}); err != nil {
		t.Fatalf("apply edit: %v", err)
	}

	c := NewCompactor(dir, m, nil, nil, nil, alloc)
	job := Job{ID: alloc(), Level: common.LevelL1, Inputs: []uint64{1}}
	if err := c.run(context.Background(), job); err != nil {
		t.Fatalf("run: %v", err)
	}

	st := m.Snapshot()
	if len(st.Segments) != 1 {
		t.Fatalf("expected one output segment, got %d", len(st.Segments))
	}
	out := st.Segments[0]
	if out.Level != common.LevelL2 {
		t.Fatalf("expected L2 output, got L%d", out.Level)
	}

	opath := filepath.Join(dir, common.DirSegments, segment.FileName(out.Level, out.ID))
	r, err := segment.OpenReader(out.ID, opath, nil, nil)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer r.Close()

	if _, ok, _ := r.PointGet([]byte("a")); ok {
		t.Fatalf("expected the point tombstone to be dropped at the bottommost level")
	}
	if e, ok, _ := r.PointGet([]byte("b")); !ok || string(e.Value) != "v" {
		t.Fatalf("expected live key b to survive, got ok=%v e=%+v", ok, e)
	}
}
