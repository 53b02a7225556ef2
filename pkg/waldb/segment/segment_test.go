package segment

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/waldb/waldb/internal/common"
)

func buildTestSegment(t *testing.T, path string, keys []string) {
	t.Helper()
	b := NewBuilder(path, common.LevelL0, 1024, uint64(len(keys)))
	for i, k := range keys {
		if err := b.Add(BuilderEntry{
			Key:   []byte(k),
			Value: []byte(fmt.Sprintf("v%d", i)),
			Seq:   uint64(i + 1),
			Kind:  common.KindPut,
		}); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	b.AddRangeTombstone(BuilderRangeTombstone{Start: []byte("z/a"), End: []byte("z/b"), Seq: 999})
	if err := b.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}
}

func TestBuilderReaderRoundTripPointGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.seg")
	keys := []string{"a/1", "a/2", "a/3", "b/1", "b/2", "c/1"}
	buildTestSegment(t, path, keys)

	r, err := OpenReader(1, path, nil, nil)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	for i, k := range keys {
		e, ok, err := r.PointGet([]byte(k))
		if err != nil {
			t.Fatalf("point get %q: %v", k, err)
		}
		if !ok {
			t.Fatalf("expected key %q to be found", k)
		}
		if string(e.Value) != fmt.Sprintf("v%d", i) {
			t.Fatalf("key %q: expected v%d, got %s", k, i, e.Value)
		}
		if e.Seq != uint64(i+1) {
			t.Fatalf("key %q: expected seq %d, got %d", k, i+1, e.Seq)
		}
	}

	_, ok, err := r.PointGet([]byte("missing/key"))
	if err != nil {
		t.Fatalf("point get missing: %v", err)
	}
	if ok {
		t.Fatalf("expected missing key to not be found")
	}
}

func TestBuilderReaderRangeScan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.seg")
	keys := []string{"a/1", "a/2", "a/3", "b/1", "b/2", "c/1"}
	buildTestSegment(t, path, keys)

	r, err := OpenReader(1, path, nil, nil)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	entries, err := r.RangeScan([]byte("a/2"), []byte("c/1"))
	if err != nil {
		t.Fatalf("range scan: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, string(e.Key))
	}
	want := []string{"a/2", "a/3", "b/1", "b/2"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuilderReaderMetadataAndTombstones(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.seg")
	keys := []string{"a/1", "a/2"}
	buildTestSegment(t, path, keys)

	r, err := OpenReader(7, path, nil, nil)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	md := r.Metadata()
	if md.Level != common.LevelL0 {
		t.Fatalf("expected level L0, got %d", md.Level)
	}
	if md.EntryCount != 2 {
		t.Fatalf("expected 2 entries, got %d", md.EntryCount)
	}
	if string(md.MinKey) != "a/1" || string(md.MaxKey) != "a/2" {
		t.Fatalf("unexpected key range: min=%s max=%s", md.MinKey, md.MaxKey)
	}

	tombs := r.RangeTombstones()
	if len(tombs) != 1 || string(tombs[0].Start) != "z/a" || tombs[0].Seq != 999 {
		t.Fatalf("unexpected tombstones: %+v", tombs)
	}
}

func TestBuilderReaderWithBlockCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.seg")
	keys := []string{"a/1", "a/2", "a/3"}
	buildTestSegment(t, path, keys)

	bc := NewBlockCache(1 << 20)
	r, err := OpenReader(3, path, nil, bc)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	for i := 0; i < 2; i++ {
		if _, ok, err := r.PointGet([]byte("a/2")); err != nil || !ok {
			t.Fatalf("point get iteration %d: ok=%v err=%v", i, ok, err)
		}
	}

	hits, misses := bc.Stats()
	if hits == 0 {
		t.Fatalf("expected at least one block cache hit, got hits=%d misses=%d", hits, misses)
	}
}

func TestBuilderReaderWithMmapCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "000001.seg")
	keys := []string{"a/1", "a/2", "a/3"}
	buildTestSegment(t, path, keys)

	mc := NewMmapCache(4, nil)
	defer mc.Close()

	r, err := OpenReader(9, path, mc, nil)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer r.Close()

	e, ok, err := r.PointGet([]byte("a/3"))
	if err != nil || !ok {
		t.Fatalf("point get: ok=%v err=%v", ok, err)
	}
	if string(e.Value) != "v2" {
		t.Fatalf("expected v2, got %s", e.Value)
	}
}
