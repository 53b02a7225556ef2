package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/golang/snappy"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/internal/filters"
	"github.com/waldb/waldb/pkg/waldb/utils"
)

// Entry is one decoded record read back out of a segment's data block.
type Entry struct {
	Key   []byte
	Value []byte
	Seq   uint64
	Kind  uint8
}

// RangeTombstone is a decoded subtree-delete range read back out of a
// segment's tombstone block.
type RangeTombstone struct {
	Start []byte
	End   []byte
	Seq   uint64
}

// Metadata summarizes a segment's footer for manifest bookkeeping.
type Metadata struct {
	Level      int
	MinSeq     uint64
	MaxSeq     uint64
	EntryCount uint64
	MinKey     []byte
	MaxKey     []byte
}

// Reader provides point-get and range-scan access to one immutable
// segment file. It shares a whole-file MmapCache (raw bytes) and a
// BlockCache (decoded blocks) across all open segments.
type Reader struct {
	id   uint64
	path string

	file     *os.File
	fileSize int64
	mmapData []byte
	usedMmap bool

	footer     *Footer
	blockIndex []blockIndexEntry
	hashIndex  map[string]uint64
	bloom      *filters.BloomFilter
	tombstones []RangeTombstone
	minKey     []byte
	maxKey     []byte

	mmapCache  *MmapCache
	blockCache *BlockCache
}

// OpenReader opens a segment file for reading. id identifies the segment
// for block-cache keying and must be stable for the lifetime of the file
// on disk (typically its manifest-assigned segment number).
func OpenReader(id uint64, path string, mmapCache *MmapCache, blockCache *BlockCache) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat segment: %w", err)
	}
	size := info.Size()
	if size < int64(FooterSize) {
		f.Close()
		return nil, fmt.Errorf("%w: segment file too small", common.ErrCorrupt)
	}

	r := &Reader{id: id, path: path, file: f, fileSize: size, mmapCache: mmapCache, blockCache: blockCache}

	var raw []byte
	if mmapCache != nil {
		if data := mmapCache.Acquire(id, path, size); data != nil {
			r.mmapData = data
			r.usedMmap = true
			raw = data
		}
	}
	if raw == nil {
		raw = make([]byte, size)
		if _, err := f.ReadAt(raw, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("read segment: %w", err)
		}
	}

	footerBuf := raw[size-int64(FooterSize):]
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		r.Close()
		return nil, err
	}
	if err := ValidateHeader(&footer.CommonHeader, common.MagicSegment, common.VersionSegment); err != nil {
		r.Close()
		return nil, err
	}
	// The footer's CRC32C is the file's last four bytes and covers all
	// bytes before them.
	if utils.ComputeCRC32C(raw[:size-4]) != footer.FileCRC32C {
		r.Close()
		return nil, fmt.Errorf("%w: segment %s: %v", common.ErrCorrupt, path, common.ErrCRCMismatch)
	}
	r.footer = footer

	if err := r.loadBlockIndex(raw); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.loadHashIndex(raw); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.loadBloom(raw); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.loadTombstones(raw); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.loadKeyRange(raw); err != nil {
		r.Close()
		return nil, err
	}

	return r, nil
}

func (r *Reader) loadBlockIndex(raw []byte) error {
	buf := raw[r.footer.BlockIndexOffset:r.footer.HashIndexOffset]
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	idx := make([]blockIndexEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		klen := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		key := append([]byte(nil), buf[:klen]...)
		buf = buf[klen:]
		offset := binary.LittleEndian.Uint64(buf)
		buf = buf[8:]
		length := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		idx = append(idx, blockIndexEntry{lastKey: key, offset: offset, length: length})
	}
	r.blockIndex = idx
	return nil
}

func (r *Reader) loadHashIndex(raw []byte) error {
	buf := raw[r.footer.HashIndexOffset:r.footer.BloomOffset]
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	idx := make(map[string]uint64, n)
	for i := uint32(0); i < n; i++ {
		klen := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		key := string(buf[:klen])
		buf = buf[klen:]
		off := binary.LittleEndian.Uint64(buf)
		buf = buf[8:]
		idx[key] = off
	}
	r.hashIndex = idx
	return nil
}

func (r *Reader) loadBloom(raw []byte) error {
	buf := raw[r.footer.BloomOffset:r.footer.TombstoneOffset]
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4 : 4+n]
	bf := filters.UnmarshalBloomFilter(buf)
	if bf == nil {
		return fmt.Errorf("%w: invalid bloom filter section", common.ErrCorrupt)
	}
	r.bloom = bf
	return nil
}

func (r *Reader) loadTombstones(raw []byte) error {
	buf := raw[r.footer.TombstoneOffset:r.footer.KeyRangeOffset]
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	out := make([]RangeTombstone, 0, n)
	for i := uint32(0); i < n; i++ {
		slen := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		start := append([]byte(nil), buf[:slen]...)
		buf = buf[slen:]
		elen := binary.LittleEndian.Uint32(buf)
		buf = buf[4:]
		end := append([]byte(nil), buf[:elen]...)
		buf = buf[elen:]
		seq := binary.LittleEndian.Uint64(buf)
		buf = buf[8:]
		out = append(out, RangeTombstone{Start: start, End: end, Seq: seq})
	}
	r.tombstones = out
	return nil
}

func (r *Reader) loadKeyRange(raw []byte) error {
	buf := raw[r.footer.KeyRangeOffset:r.footer.FooterOffset]
	minLen := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	r.minKey = append([]byte(nil), buf[:minLen]...)
	buf = buf[minLen:]
	maxLen := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	r.maxKey = append([]byte(nil), buf[:maxLen]...)
	return nil
}

// Metadata returns the segment's footer-derived metadata for manifest use.
func (r *Reader) Metadata() Metadata {
	return Metadata{
		Level:      int(r.footer.Level),
		MinSeq:     r.footer.MinSeq,
		MaxSeq:     r.footer.MaxSeq,
		EntryCount: r.footer.EntryCount,
		MinKey:     r.minKey,
		MaxKey:     r.maxKey,
	}
}

// RangeTombstones returns the segment's recorded subtree-delete ranges.
func (r *Reader) RangeTombstones() []RangeTombstone {
	return r.tombstones
}

// PointGet looks up key, consulting the bloom filter before touching the
// hash index or any block.
func (r *Reader) PointGet(key []byte) (Entry, bool, error) {
	if !r.bloom.Contains(key) {
		return Entry{}, false, nil
	}
	if blockOffset, ok := r.hashIndex[string(key)]; ok {
		block, err := r.readBlock(blockOffset)
		if err != nil {
			return Entry{}, false, err
		}
		for _, e := range block {
			if bytes.Equal(e.Key, key) {
				return e, true, nil
			}
		}
		return Entry{}, false, nil
	}

	// Hash-index miss: the bloom filter said the key might be present,
	// so fall back to a binary search over the block index rather than
	// declaring not-found on what may just be a hash-index gap.
	i := sort.Search(len(r.blockIndex), func(i int) bool {
		return bytes.Compare(r.blockIndex[i].lastKey, key) >= 0
	})
	if i >= len(r.blockIndex) {
		return Entry{}, false, nil
	}
	block, err := r.readBlock(r.blockIndex[i].offset)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range block {
		if bytes.Equal(e.Key, key) {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// RangeScan returns all entries with keys in [start, end) in ascending
// order. A nil start/end means unbounded on that side.
func (r *Reader) RangeScan(start, end []byte) ([]Entry, error) {
	firstBlock := sort.Search(len(r.blockIndex), func(i int) bool {
		return start == nil || bytes.Compare(r.blockIndex[i].lastKey, start) >= 0
	})

	var out []Entry
	for i := firstBlock; i < len(r.blockIndex); i++ {
		block, err := r.readBlock(r.blockIndex[i].offset)
		if err != nil {
			return nil, err
		}
		for _, e := range block {
			if start != nil && bytes.Compare(e.Key, start) < 0 {
				continue
			}
			if end != nil && bytes.Compare(e.Key, end) >= 0 {
				return out, nil
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// readBlock returns the decoded entries of the data block starting at
// offset, consulting and populating the block cache.
func (r *Reader) readBlock(offset uint64) ([]Entry, error) {
	if r.blockCache != nil {
		if cached, ok := r.blockCache.Get(r.id, offset); ok {
			return decodeBlock(cached)
		}
	}

	raw, err := r.rawSectionAt(offset)
	if err != nil {
		return nil, err
	}
	compLen := binary.LittleEndian.Uint32(raw)
	compressed := raw[4 : 4+compLen]

	decoded, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, fmt.Errorf("decompress block at %d: %w", offset, err)
	}

	if r.blockCache != nil {
		r.blockCache.Put(r.id, offset, decoded)
	}
	return decodeBlock(decoded)
}

// rawSectionAt returns a view of the file's data section starting at
// offset, reading via mmap if available or a direct read otherwise.
func (r *Reader) rawSectionAt(offset uint64) ([]byte, error) {
	if r.usedMmap && r.mmapData != nil {
		return r.mmapData[offset:], nil
	}
	lenBuf := make([]byte, 4)
	if _, err := r.file.ReadAt(lenBuf, int64(offset)); err != nil {
		return nil, fmt.Errorf("read block length: %w", err)
	}
	compLen := binary.LittleEndian.Uint32(lenBuf)
	buf := make([]byte, 4+compLen)
	if _, err := r.file.ReadAt(buf, int64(offset)); err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	return buf, nil
}

func decodeBlock(raw []byte) ([]Entry, error) {
	var out []Entry
	for len(raw) > 0 {
		if len(raw) < 8+1+4 {
			return nil, fmt.Errorf("%w: truncated block record", common.ErrCorrupt)
		}
		seq := binary.LittleEndian.Uint64(raw)
		raw = raw[8:]
		kind := raw[0]
		raw = raw[1:]
		klen := binary.LittleEndian.Uint32(raw)
		raw = raw[4:]
		key := raw[:klen]
		raw = raw[klen:]
		vlen := binary.LittleEndian.Uint32(raw)
		raw = raw[4:]
		val := raw[:vlen]
		raw = raw[vlen:]
		out = append(out, Entry{Key: key, Value: val, Seq: seq, Kind: kind})
	}
	return out, nil
}

// Close releases the reader's mmap reference (if any) and closes its
// file handle.
func (r *Reader) Close() error {
	if r.usedMmap && r.mmapCache != nil {
		r.mmapCache.Release(r.id)
	}
	return r.file.Close()
}
