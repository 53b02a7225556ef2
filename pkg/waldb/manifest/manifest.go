// Package manifest implements the durable catalog of live segments and
// the active WAL generation. The current state is the accumulation of a
// sequence of length-prefixed, CRC-checked edit records; edits are
// rewritten into a freshly numbered manifest file and the CURRENT
// pointer is swapped onto it atomically via rename.
package manifest

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/pkg/waldb/utils"
)

// Edit kinds, per the on-disk manifest record format.
const (
	EditAddSegment    uint8 = 1
	EditRemoveSegment uint8 = 2
	EditRotateWAL     uint8 = 3
	EditSetNextSeq    uint8 = 4
)

// SegmentInfo describes one live segment.
type SegmentInfo struct {
	ID         uint64
	Level      int
	MinKey     []byte
	MaxKey     []byte
	MinSeq     uint64
	MaxSeq     uint64
	EntryCount uint64
	SizeBytes  int64
	// ContentHash is a hex BLAKE3-256 digest of the segment file's bytes
	// at registration time, independent of the whole-file CRC32C in the
	// segment's footer (segments carry no per-block checksums). Compaction
	// checks it before opening a segment as an input, to detect bit rot
	// between a flush/compaction and that later open.
	ContentHash string
}

// Edit is one manifest mutation, produced by flush, compaction or WAL
// rotation and applied atomically.
type Edit struct {
	Type      uint8
	Segment   SegmentInfo // ADD_SEGMENT
	SegmentID uint64      // REMOVE_SEGMENT
	WALID     uint64      // ROTATE_WAL
	NextSeq   uint64      // SET_NEXT_SEQ
}

// State is a point-in-time snapshot of the manifest's accumulated state.
type State struct {
	Segments    []SegmentInfo
	CurrentWAL  uint64
	NextSeq     uint64
	VersionNum  uint64
}

// Manifest is the durable segment/WAL-generation catalog for one store.
type Manifest struct {
	mu  sync.Mutex
	dir string

	versionNum uint64
	records    [][]byte // encoded edit records accumulated so far, in order

	state State

	logger common.Logger

	epoch   uint64
	readers sync.Map // epoch -> *atomic.Int32
}

// Open loads the manifest directory, following CURRENT when present or
// falling back to a directory scan for the newest manifest file, and to
// an empty initial state if none is found.
func Open(dir string, logger common.Logger) (*Manifest, error) {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	manifestDir := filepath.Join(dir, common.DirManifest)
	if err := os.MkdirAll(manifestDir, 0755); err != nil {
		return nil, fmt.Errorf("create manifest directory: %w", err)
	}

	m := &Manifest{dir: manifestDir, logger: logger}

	path, err := m.resolveCurrent()
	if err != nil || path == "" {
		m.logger.Info("no existing manifest found, starting fresh")
		m.versionNum = 1
		if err := m.rewrite(); err != nil {
			return nil, fmt.Errorf("write initial manifest: %w", err)
		}
		return m, nil
	}

	if err := m.loadFile(path); err != nil {
		m.logger.Warn("manifest file unreadable, starting fresh", "path", path, "error", err)
		m.versionNum = 1
		m.records = nil
		m.state = State{}
		if err := m.rewrite(); err != nil {
			return nil, fmt.Errorf("write initial manifest: %w", err)
		}
	}

	return m, nil
}

// resolveCurrent follows CURRENT, falling back to a directory scan for
// the newest MANIFEST-* file if CURRENT is missing or stale.
func (m *Manifest) resolveCurrent() (string, error) {
	currentPath := filepath.Join(m.dir, "CURRENT")
	if data, err := os.ReadFile(currentPath); err == nil {
		name := strings.TrimSpace(string(data))
		candidate := filepath.Join(m.dir, name)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
	}

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return "", err
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "MANIFEST-") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Strings(names)
	return filepath.Join(m.dir, names[len(names)-1]), nil
}

// loadFile reads and replays every edit record in path, stopping at the
// first corrupt or truncated record (tolerated as a torn tail, matching
// WAL replay semantics).
func (m *Manifest) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	base := filepath.Base(path)
	num, err := parseManifestNumber(base)
	if err != nil {
		return fmt.Errorf("parse manifest filename %q: %w", base, err)
	}

	var records [][]byte
	var state State
	buf := data
	for len(buf) > 0 {
		if len(buf) < 4 {
			break
		}
		recLen := binary.LittleEndian.Uint32(buf)
		if uint64(len(buf)) < 4+uint64(recLen)+4 {
			m.logger.Warn("manifest torn tail, truncating", "path", path)
			break
		}
		recBody := buf[4 : 4+recLen]
		crcRecorded := binary.LittleEndian.Uint32(buf[4+recLen : 4+recLen+4])
		if utils.ComputeCRC32C(recBody) != crcRecorded {
			m.logger.Warn("manifest record CRC mismatch, stopping replay", "path", path)
			break
		}

		edit, err := decodeEdit(recBody)
		if err != nil {
			m.logger.Warn("manifest record undecodable, stopping replay", "path", path, "error", err)
			break
		}
		applyEditToState(&state, edit)

		full := buf[:4+recLen+4]
		records = append(records, append([]byte(nil), full...))
		buf = buf[4+recLen+4:]
	}

	m.versionNum = num
	m.records = records
	m.state = state
	m.logger.Info("loaded manifest", "version", num, "segments", len(state.Segments))
	return nil
}

// Snapshot returns a copy of the manifest's current accumulated state.
func (m *Manifest) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	epoch := atomic.LoadUint64(&m.epoch)
	m.registerReader(epoch)
	defer m.unregisterReader(epoch)

	out := State{
		CurrentWAL: m.state.CurrentWAL,
		NextSeq:    m.state.NextSeq,
		VersionNum: m.versionNum,
		Segments:   make([]SegmentInfo, len(m.state.Segments)),
	}
	copy(out.Segments, m.state.Segments)
	return out
}

// Load returns the manifest's current state (alias of Snapshot, kept
// distinct per the two named operations in the component design).
func (m *Manifest) Load() State {
	return m.Snapshot()
}

// ApplyEdit durably applies a single edit: encode, append to the
// in-memory log, rewrite the manifest file, fsync, and atomically swap
// CURRENT. On any failure the prior on-disk manifest remains valid and
// in-memory state is left unchanged.
func (m *Manifest) ApplyEdit(edit Edit) error {
	return m.ApplyEdits([]Edit{edit})
}

// ApplyEdits durably applies a batch of edits as a single atomic
// manifest update (one new file, one CURRENT swap) — used so a flush or
// compaction installs its segment adds/removes together.
func (m *Manifest) ApplyEdits(edits []Edit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prevRecords := m.records
	prevState := m.state
	prevVersion := m.versionNum

	newRecords := append([][]byte(nil), m.records...)
	newState := m.state
	for _, edit := range edits {
		rec := encodeEdit(edit)
		newRecords = append(newRecords, rec)
		applyEditToState(&newState, edit)
	}

	m.records = newRecords
	m.state = newState
	m.versionNum = prevVersion + 1

	if err := m.rewrite(); err != nil {
		m.records = prevRecords
		m.state = prevState
		m.versionNum = prevVersion
		return fmt.Errorf("apply manifest edits: %w", err)
	}

	m.startGracePeriod(prevVersion)
	return nil
}

// rewrite writes the full accumulated record log to a freshly numbered
// manifest file, fsyncs it, then atomically swaps CURRENT to point at
// it and syncs the directory entry.
func (m *Manifest) rewrite() error {
	filename := fmt.Sprintf("MANIFEST-%06d", m.versionNum)
	path := filepath.Join(m.dir, filename)

	af, err := utils.NewAtomicFile(path)
	if err != nil {
		return err
	}
	defer af.Close()

	for _, rec := range m.records {
		if _, err := af.Write(rec); err != nil {
			return err
		}
	}
	if err := af.Commit(); err != nil {
		return err
	}

	currentPath := filepath.Join(m.dir, "CURRENT")
	tmp := currentPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(filename+"\n"), 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, currentPath); err != nil {
		return err
	}
	return utils.SyncDir(m.dir)
}

// startGracePeriod schedules deletion of the manifest file for
// prevVersion once no in-flight Snapshot/Load reader predates it,
// mirroring the WAL/segment RCU-style cleanup used elsewhere.
func (m *Manifest) startGracePeriod(prevVersion uint64) {
	epoch := atomic.AddUint64(&m.epoch, 1)
	go func() {
		time.Sleep(time.Duration(common.RCUGracePeriod) * time.Second)
		m.cleanupOldVersion(prevVersion, epoch-1)
	}()
}

func (m *Manifest) registerReader(epoch uint64) {
	val, _ := m.readers.LoadOrStore(epoch, &atomic.Int32{})
	val.(*atomic.Int32).Add(1)
}

func (m *Manifest) unregisterReader(epoch uint64) {
	val, ok := m.readers.Load(epoch)
	if !ok {
		return
	}
	if val.(*atomic.Int32).Add(-1) <= 0 {
		m.readers.Delete(epoch)
	}
}

func (m *Manifest) cleanupOldVersion(version uint64, epoch uint64) {
	if val, ok := m.readers.Load(epoch); ok {
		if val.(*atomic.Int32).Load() > 0 {
			go func() {
				time.Sleep(5 * time.Second)
				m.cleanupOldVersion(version, epoch)
			}()
			return
		}
	}
	path := filepath.Join(m.dir, fmt.Sprintf("MANIFEST-%06d", version))
	if err := os.Remove(path); err == nil {
		m.logger.Debug("cleaned up superseded manifest", "version", version)
	}
}

func parseManifestNumber(filename string) (uint64, error) {
	const prefix = "MANIFEST-"
	if !strings.HasPrefix(filename, prefix) {
		return 0, fmt.Errorf("not a manifest filename: %s", filename)
	}
	return strconv.ParseUint(strings.TrimPrefix(filename, prefix), 10, 64)
}

func applyEditToState(s *State, edit Edit) {
	switch edit.Type {
	case EditAddSegment:
		s.Segments = append(s.Segments, edit.Segment)
	case EditRemoveSegment:
		out := s.Segments[:0]
		for _, seg := range s.Segments {
			if seg.ID != edit.SegmentID {
				out = append(out, seg)
			}
		}
		s.Segments = out
	case EditRotateWAL:
		s.CurrentWAL = edit.WALID
	case EditSetNextSeq:
		s.NextSeq = edit.NextSeq
	}
}

// encodeEdit serializes one Edit as a length-prefixed, CRC-checked
// record: u32 length | edit_type u8 | payload | u32 crc32c.
func encodeEdit(edit Edit) []byte {
	var body []byte
	body = append(body, edit.Type)

	switch edit.Type {
	case EditAddSegment:
		body = appendU64(body, edit.Segment.ID)
		body = append(body, byte(edit.Segment.Level))
		body = appendBytes(body, edit.Segment.MinKey)
		body = appendBytes(body, edit.Segment.MaxKey)
		body = appendU64(body, edit.Segment.MinSeq)
		body = appendU64(body, edit.Segment.MaxSeq)
		body = appendU64(body, edit.Segment.EntryCount)
		body = appendU64(body, uint64(edit.Segment.SizeBytes))
		body = appendBytes(body, []byte(edit.Segment.ContentHash))
	case EditRemoveSegment:
		body = appendU64(body, edit.SegmentID)
	case EditRotateWAL:
		body = appendU64(body, edit.WALID)
	case EditSetNextSeq:
		body = appendU64(body, edit.NextSeq)
	}

	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(body)))
	crc := utils.ComputeCRC32C(body)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, crc)

	out := make([]byte, 0, 4+len(body)+4)
	out = append(out, lenBuf...)
	out = append(out, body...)
	out = append(out, crcBuf...)
	return out
}

func decodeEdit(body []byte) (Edit, error) {
	if len(body) < 1 {
		return Edit{}, fmt.Errorf("%w: empty edit record", common.ErrCorrupt)
	}
	editType := body[0]
	rest := body[1:]

	var edit Edit
	edit.Type = editType

	switch editType {
	case EditAddSegment:
		id, rest2 := readU64(rest)
		if len(rest2) < 1 {
			return Edit{}, fmt.Errorf("%w: short ADD_SEGMENT record", common.ErrCorrupt)
		}
		level := int(rest2[0])
		rest2 = rest2[1:]
		minKey, rest2 := readBytes(rest2)
		maxKey, rest2 := readBytes(rest2)
		minSeq, rest2 := readU64(rest2)
		maxSeq, rest2 := readU64(rest2)
		entryCount, rest2 := readU64(rest2)
		size, rest2 := readU64(rest2)
		contentHash, _ := readBytes(rest2)
		edit.Segment = SegmentInfo{
			ID: id, Level: level, MinKey: minKey, MaxKey: maxKey,
			MinSeq: minSeq, MaxSeq: maxSeq, EntryCount: entryCount, SizeBytes: int64(size),
			ContentHash: string(contentHash),
		}
	case EditRemoveSegment:
		edit.SegmentID, _ = readU64(rest)
	case EditRotateWAL:
		edit.WALID, _ = readU64(rest)
	case EditSetNextSeq:
		edit.NextSeq, _ = readU64(rest)
	default:
		return Edit{}, fmt.Errorf("%w: unknown edit type %d", common.ErrCorrupt, editType)
	}
	return edit, nil
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readU64(buf []byte) (uint64, []byte) {
	if len(buf) < 8 {
		return 0, buf
	}
	return binary.LittleEndian.Uint64(buf), buf[8:]
}

func appendBytes(buf []byte, b []byte) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b)))
	buf = append(buf, tmp[:]...)
	return append(buf, b...)
}

func readBytes(buf []byte) ([]byte, []byte) {
	if len(buf) < 4 {
		return nil, buf
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return nil, buf
	}
	return append([]byte(nil), buf[:n]...), buf[n:]
}
