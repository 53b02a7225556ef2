package manifest

import (
	"testing"
)

func TestOpenFreshCreatesEmptyState(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	st := m.Snapshot()
	if len(st.Segments) != 0 {
		t.Fatalf("expected no segments, got %d", len(st.Segments))
	}
}

func TestApplyEditAddAndRemoveSegment(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	seg := SegmentInfo{ID: 1, Level: 0, MinKey: []byte("a"), MaxKey: []byte("z"), MinSeq: 1, MaxSeq: 5, EntryCount: 10, SizeBytes: 1024}
	if err := m.ApplyEdit(Edit{Type: EditAddSegment, Segment: seg}); err != nil {
		t.Fatalf("apply add: %v", err)
	}

	st := m.Snapshot()
	if len(st.Segments) != 1 || st.Segments[0].ID != 1 {
		t.Fatalf("expected segment 1 present, got %+v", st.Segments)
	}

	if err := m.ApplyEdit(Edit{Type: EditRemoveSegment, SegmentID: 1}); err != nil {
		t.Fatalf("apply remove: %v", err)
	}
	st = m.Snapshot()
	if len(st.Segments) != 0 {
		t.Fatalf("expected segment removed, got %+v", st.Segments)
	}
}

func TestApplyEditsBatchAtomic(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	edits := []Edit{
		{Type: EditAddSegment, Segment: SegmentInfo{ID: 1, Level: 1}},
		{Type: EditAddSegment, Segment: SegmentInfo{ID: 2, Level: 1}},
		{Type: EditRemoveSegment, SegmentID: 1},
	}
	if err := m.ApplyEdits(edits); err != nil {
		t.Fatalf("apply edits: %v", err)
	}

	st := m.Snapshot()
	if len(st.Segments) != 1 || st.Segments[0].ID != 2 {
		t.Fatalf("expected only segment 2 to remain, got %+v", st.Segments)
	}
}

func TestRotateWALAndSetNextSeq(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := m.ApplyEdit(Edit{Type: EditRotateWAL, WALID: 7}); err != nil {
		t.Fatalf("apply rotate: %v", err)
	}
	if err := m.ApplyEdit(Edit{Type: EditSetNextSeq, NextSeq: 42}); err != nil {
		t.Fatalf("apply set next seq: %v", err)
	}

	st := m.Snapshot()
	if st.CurrentWAL != 7 || st.NextSeq != 42 {
		t.Fatalf("expected CurrentWAL=7 NextSeq=42, got %+v", st)
	}
}

func TestReopenRecoversState(t *testing.T) {
	dir := t.TempDir()
	m, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	seg := SegmentInfo{ID: 9, Level: 0, MinKey: []byte("a"), MaxKey: []byte("b")}
	if err := m.ApplyEdit(Edit{Type: EditAddSegment, Segment: seg}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := m.ApplyEdit(Edit{Type: EditSetNextSeq, NextSeq: 100}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	m2, err := Open(dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	st := m2.Snapshot()
	if len(st.Segments) != 1 || st.Segments[0].ID != 9 {
		t.Fatalf("expected recovered segment 9, got %+v", st.Segments)
	}
	if st.NextSeq != 100 {
		t.Fatalf("expected recovered NextSeq=100, got %d", st.NextSeq)
	}
}
