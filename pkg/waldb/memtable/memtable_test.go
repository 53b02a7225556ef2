package memtable

import (
	"fmt"
	"testing"

	"github.com/waldb/waldb/internal/common"
)

func TestPutGetOverwrite(t *testing.T) {
	m := New()
	if err := m.Put([]byte("a/b"), []byte("v1"), 1); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := m.Put([]byte("a/b"), []byte("v2"), 2); err != nil {
		t.Fatalf("put: %v", err)
	}

	e, ok := m.Get([]byte("a/b"))
	if !ok {
		t.Fatalf("expected entry to be found")
	}
	if string(e.Value) != "v2" || e.Seq != 2 {
		t.Fatalf("expected latest write to win, got %+v", e)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 distinct key, got %d", m.Count())
	}
}

func TestDeleteMasksPut(t *testing.T) {
	m := New()
	m.Put([]byte("k"), []byte("v"), 1)
	m.Delete([]byte("k"), 2)

	e, ok := m.Get([]byte("k"))
	if !ok {
		t.Fatalf("expected tombstone entry to be found")
	}
	if e.Kind != common.KindDelete {
		t.Fatalf("expected delete kind, got %d", e.Kind)
	}
}

func TestRangeTombstoneMasksOlderPut(t *testing.T) {
	m := New()
	m.Put([]byte("a/b/c"), []byte("v"), 1)
	if err := m.DeleteRange([]byte("a/b/"), []byte("a/b/\xff"), 5); err != nil {
		t.Fatalf("delete range: %v", err)
	}

	e, ok := m.Get([]byte("a/b/c"))
	if !ok {
		t.Fatalf("expected masked entry")
	}
	if e.Kind != common.KindRangeTombstone || e.Seq != 5 {
		t.Fatalf("expected range tombstone to win, got %+v", e)
	}
}

func TestNewerPutAfterRangeTombstoneSurvives(t *testing.T) {
	m := New()
	m.DeleteRange([]byte("a/"), []byte("a/\xff"), 1)
	m.Put([]byte("a/b"), []byte("v2"), 2)

	e, ok := m.Get([]byte("a/b"))
	if !ok {
		t.Fatalf("expected entry")
	}
	if e.Kind != common.KindPut || string(e.Value) != "v2" {
		t.Fatalf("expected the later put to survive the earlier range tombstone, got %+v", e)
	}
}

func TestIteratorYieldsSortedMaskedEntries(t *testing.T) {
	m := New()
	m.Put([]byte("b"), []byte("2"), 1)
	m.Put([]byte("a"), []byte("1"), 1)
	m.Put([]byte("c"), []byte("3"), 1)
	m.DeleteRange([]byte("b"), []byte("c"), 5)

	it := m.NewIterator(nil, nil)
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Entry().Key))
	}
	if fmt.Sprint(keys) != fmt.Sprint([]string{"a", "c"}) {
		t.Fatalf("expected [a c] with b masked, got %v", keys)
	}
}

func TestIteratorRespectsBounds(t *testing.T) {
	m := New()
	for _, k := range []string{"a", "b", "c", "d"} {
		m.Put([]byte(k), []byte("v"), 1)
	}

	it := m.NewIterator([]byte("b"), []byte("d"))
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Entry().Key))
	}
	if fmt.Sprint(keys) != fmt.Sprint([]string{"b", "c"}) {
		t.Fatalf("expected [b c], got %v", keys)
	}
}

func TestApproximateSizeGrows(t *testing.T) {
	m := New()
	before := m.ApproximateSize()
	m.Put([]byte("k"), []byte("0123456789"), 1)
	after := m.ApproximateSize()
	if after <= before {
		t.Fatalf("expected size to grow: before=%d after=%d", before, after)
	}
}

func TestRejectsOversizedKey(t *testing.T) {
	m := New()
	bigKey := make([]byte, common.MaxKeySize+1)
	if err := m.Put(bigKey, []byte("v"), 1); err != common.ErrKeyTooLarge {
		t.Fatalf("expected ErrKeyTooLarge, got %v", err)
	}
}

func TestMarkImmutable(t *testing.T) {
	m := New()
	if m.IsImmutable() {
		t.Fatalf("expected fresh memtable to be mutable")
	}
	m.MarkImmutable()
	if !m.IsImmutable() {
		t.Fatalf("expected memtable to be immutable after MarkImmutable")
	}
}
