package waldb

import (
	"context"
	"errors"
	"testing"
)

func TestStoreSetGetDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Set([]byte("user/alice/role"), []byte("admin"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	v, ok, err := store.Get([]byte("user/alice/role"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !ok || string(v) != "admin" {
		t.Fatalf("expected 'admin', got %q (found=%v)", v, ok)
	}

	if err := store.Delete([]byte("user/alice/role")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok, err := store.Get([]byte("user/alice/role")); err != nil || ok {
		t.Fatalf("expected key absent after delete, found=%v err=%v", ok, err)
	}
}

func TestStoreDeleteRemovesSubtree(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	// a/b and a/b/c get descendants while holding values, which the tree
	// invariant only allows for forced writes.
	for _, k := range []string{"a/b", "a/b/c", "a/b/c/d", "a/other"} {
		if err := store.Set([]byte(k), []byte("v"), true); err != nil {
			t.Fatalf("set %q failed: %v", k, err)
		}
	}

	if err := store.Delete([]byte("a/b")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	for _, k := range []string{"a/b", "a/b/c", "a/b/c/d"} {
		if _, ok, _ := store.Get([]byte(k)); ok {
			t.Fatalf("expected %q to be gone after subtree delete", k)
		}
	}
	if _, ok, _ := store.Get([]byte("a/other")); !ok {
		t.Fatal("expected a/other to survive an unrelated subtree delete")
	}
}

func TestStoreSetRejectsDescendantConflictWithoutForce(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Set([]byte("a/b/c"), []byte("v"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	err = store.Set([]byte("a/b"), []byte("scalar"), false)
	var conflict *TreeConflictError
	if !errors.As(err, &conflict) || conflict.Kind != DescendantsExist {
		t.Fatalf("expected DescendantsExist conflict, got %v", err)
	}
}

func TestStoreSetRejectsScalarAncestorConflict(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Set([]byte("a/b"), []byte("scalar"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	err = store.Set([]byte("a/b/c"), []byte("v"), false)
	var conflict *TreeConflictError
	if !errors.As(err, &conflict) || conflict.Kind != AncestorIsScalar {
		t.Fatalf("expected AncestorIsScalar conflict, got %v", err)
	}
}

func TestStoreForceSetReplacesSubtreeAtomically(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Set([]byte("a/b/c"), []byte("v1"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := store.Set([]byte("a/b"), []byte("replaced"), true); err != nil {
		t.Fatalf("forced set failed: %v", err)
	}

	v, ok, err := store.Get([]byte("a/b"))
	if err != nil || !ok || string(v) != "replaced" {
		t.Fatalf("expected a/b = 'replaced', got %q found=%v err=%v", v, ok, err)
	}
	if _, ok, _ := store.Get([]byte("a/b/c")); ok {
		t.Fatal("expected a/b/c to be gone after forced replace")
	}

	// force bypasses both tree-invariant checks, not just descendants:
	// it atomically replaces whatever the earlier state was, including a
	// scalar ancestor.
	if err := store.Set([]byte("a/b/x"), []byte("v2"), true); err != nil {
		t.Fatalf("expected forced set under a scalar ancestor to succeed, got %v", err)
	}
	if v, ok, err := store.Get([]byte("a/b/x")); err != nil || !ok || string(v) != "v2" {
		t.Fatalf("expected a/b/x = 'v2', got %q found=%v err=%v", v, ok, err)
	}
}

func TestStoreBulkSet(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	entries := []KVPair{
		{Key: []byte("x/1"), Value: []byte("one")},
		{Key: []byte("x/2"), Value: []byte("two")},
		{Key: []byte("x/3"), Value: []byte("three")},
	}
	if err := store.BulkSet(entries, nil, false); err != nil {
		t.Fatalf("bulk set failed: %v", err)
	}
	for _, e := range entries {
		v, ok, err := store.Get(e.Key)
		if err != nil || !ok || string(v) != string(e.Value) {
			t.Fatalf("expected %q = %q, got %q found=%v", e.Key, e.Value, v, ok)
		}
	}
}

func TestStoreBulkSetReplaceIsAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Set([]byte("x/old"), []byte("v"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	replacement := []KVPair{{Key: []byte("x/new"), Value: []byte("v2")}}
	if err := store.BulkSet(replacement, []byte("x"), true); err != nil {
		t.Fatalf("bulk set replace failed: %v", err)
	}

	if _, ok, _ := store.Get([]byte("x/old")); ok {
		t.Fatal("expected x/old to be gone after replace")
	}
	if v, ok, _ := store.Get([]byte("x/new")); !ok || string(v) != "v2" {
		t.Fatalf("expected x/new = 'v2', got %q found=%v", v, ok)
	}
}

func TestStoreBulkSetRejectsTreeConflictOutsideReplaceSubtree(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	if err := store.Set([]byte("y"), []byte("scalar"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// y/child conflicts with the existing scalar at y, and it isn't
	// covered by this batch's replace_at subtree ("x"), so it must be
	// rejected just like a standalone Set would reject it.
	entries := []KVPair{
		{Key: []byte("x/new"), Value: []byte("v")},
		{Key: []byte("y/child"), Value: []byte("v")},
	}
	err = store.BulkSet(entries, []byte("x"), true)
	if err == nil {
		t.Fatal("expected bulk set to reject an out-of-batch tree conflict")
	}
	if _, ok, _ := store.Get([]byte("x/new")); ok {
		t.Fatal("expected the whole batch to be rejected, not partially applied")
	}
}

func TestStoreRangeAndPrefixScan(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	keys := []string{"a/1", "a/2", "a/3", "b/1"}
	for _, k := range keys {
		if err := store.Set([]byte(k), []byte(k), false); err != nil {
			t.Fatalf("set %q failed: %v", k, err)
		}
	}

	it, err := store.PrefixScan([]byte("a/"))
	if err != nil {
		t.Fatalf("prefix scan failed: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a/1", "a/2", "a/3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestStorePatternMatchDoesNotCrossComponent(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	keys := []string{"product/laptop/category", "product/phone/category", "product/a/b/category"}
	for _, k := range keys {
		if err := store.Set([]byte(k), []byte("electronics"), false); err != nil {
			t.Fatalf("set %q failed: %v", k, err)
		}
	}

	it, err := store.Pattern([]byte("product/*/category"))
	if err != nil {
		t.Fatalf("pattern match failed: %v", err)
	}
	defer it.Close()

	var got []string
	for it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"product/laptop/category", "product/phone/category"}
	if len(got) != len(want) {
		t.Fatalf("expected %v (wildcard must not cross '/'), got %v", want, got)
	}
}

func TestStoreFlushAndReopenRecovers(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.Set([]byte("durable/key"), []byte("value"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Flush(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	store2, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	v, ok, err := store2.Get([]byte("durable/key"))
	if err != nil || !ok || string(v) != "value" {
		t.Fatalf("expected recovered value 'value', got %q found=%v err=%v", v, ok, err)
	}
}

func TestStoreRecoversUnflushedWritesFromWAL(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	if err := store.Set([]byte("unflushed/key"), []byte("value"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	// Simulate a crash instead of calling Close, which would flush the
	// memtable to a segment: stop background work, close the WAL and drop
	// the directory lock, so the reopened store has only the WAL to
	// recover the write from.
	store.stopBackgroundTasks()
	if store.compactor != nil {
		store.compactor.Stop()
	}
	if err := store.walInst.Close(); err != nil {
		t.Fatalf("close WAL failed: %v", err)
	}
	store.releaseLock()

	store2, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	v, ok, err := store2.Get([]byte("unflushed/key"))
	if err != nil || !ok || string(v) != "value" {
		t.Fatalf("expected recovered value 'value', got %q found=%v err=%v", v, ok, err)
	}
}

func TestStoreReadOnly(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Set([]byte("a"), []byte("b"), false); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	store.Close()

	roOpts := DefaultOptions()
	roOpts.ReadOnly = true
	ro, err := Open(dir, roOpts)
	if err != nil {
		t.Fatalf("failed to open read-only store: %v", err)
	}
	defer ro.Close()

	if err := ro.Set([]byte("c"), []byte("d"), false); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := ro.Delete([]byte("a")); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if v, ok, err := ro.Get([]byte("a")); err != nil || !ok || string(v) != "b" {
		t.Fatalf("expected read-only get to still work, got %q found=%v err=%v", v, ok, err)
	}
}

func TestStoreOperationsFailAfterClose(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	store.Close()

	if err := store.Set([]byte("a"), []byte("b"), false); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, _, err := store.Get([]byte("a")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// Close is idempotent.
	if err := store.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestStorePathValidation(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	cases := []string{"/a", "a/", "a//b"}
	for _, c := range cases {
		if err := store.Set([]byte(c), []byte("v"), false); !errors.Is(err, ErrPathInvalid) {
			t.Fatalf("key %q: expected ErrPathInvalid, got %v", c, err)
		}
	}
}
