package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/golang/snappy"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/internal/filters"
	"github.com/waldb/waldb/pkg/waldb/utils"
)

// BuilderEntry is one sorted (key, value, seq, kind) record handed to the
// builder. Callers (flush, compaction) must present entries in strictly
// ascending key order.
type BuilderEntry struct {
	Key   []byte
	Value []byte
	Seq   uint64
	Kind  uint8
}

// BuilderRangeTombstone is a subtree-delete range carried through to the
// output segment's tombstone block.
type BuilderRangeTombstone struct {
	Start []byte
	End   []byte
	Seq   uint64
}

// blockIndexEntry records where each data block ends up, keyed by the
// last key it contains.
type blockIndexEntry struct {
	lastKey []byte
	offset  uint64
	length  uint32
}

// Builder assembles one immutable sorted segment file.
type Builder struct {
	path        string
	level       int
	targetBlock int

	curBlock        bytes.Buffer
	curBlockN       int
	curBlockDataOff uint64
	blockIndex      []blockIndexEntry
	hashIndex       map[string]uint64 // key -> block start offset
	bloom           *filters.BloomFilter
	dataBuf         bytes.Buffer
	minKey          []byte
	maxKey          []byte
	minSeq          uint64
	maxSeq          uint64
	entryCount      uint64
	rangeTombs      []BuilderRangeTombstone
	haveMinMax      bool
}

// NewBuilder creates a builder that will write a segment file at path for
// the given level, targeting blocks of roughly targetBlockBytes (16-64KiB
// per spec; callers pass common.DefaultBlockSizeBytes typically) and
// sized to expect approximately expectedEntries keys (used to size the
// bloom filter).
func NewBuilder(path string, level int, targetBlockBytes int, expectedEntries uint64) *Builder {
	if targetBlockBytes <= 0 {
		targetBlockBytes = common.DefaultBlockSizeBytes
	}
	if expectedEntries == 0 {
		expectedEntries = 1
	}
	return &Builder{
		path:        path,
		level:       level,
		targetBlock: targetBlockBytes,
		hashIndex:   make(map[string]uint64),
		bloom:       filters.NewBloomFilter(expectedEntries, common.DefaultBloomFPR),
	}
}

// Add appends one entry. Entries must arrive in ascending key order.
func (b *Builder) Add(e BuilderEntry) error {
	if !b.haveMinMax {
		b.minKey = append([]byte(nil), e.Key...)
		b.minSeq = e.Seq
		b.maxSeq = e.Seq
		b.haveMinMax = true
	}
	b.maxKey = append([]byte(nil), e.Key...)
	if e.Seq < b.minSeq {
		b.minSeq = e.Seq
	}
	if e.Seq > b.maxSeq {
		b.maxSeq = e.Seq
	}

	if b.curBlock.Len() == 0 {
		b.curBlockDataOff = uint64(b.dataBuf.Len())
	}
	// Every key gets a hash-index entry pointing at the start of the
	// block it lands in; PointGet decompresses that block and scans it
	// for the exact key, so all keys sharing a block share this offset.
	b.hashIndex[string(e.Key)] = b.curBlockDataOff

	writeBlockRecord(&b.curBlock, e)
	b.bloom.Add(e.Key)
	b.entryCount++

	if b.curBlock.Len() >= b.targetBlock {
		if err := b.flushBlock(e.Key); err != nil {
			return err
		}
	}
	return nil
}

// AddRangeTombstone records a subtree-delete range to carry through to the
// output segment.
func (b *Builder) AddRangeTombstone(rt BuilderRangeTombstone) {
	b.rangeTombs = append(b.rangeTombs, rt)
}

func writeBlockRecord(buf *bytes.Buffer, e BuilderEntry) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], e.Seq)
	buf.Write(tmp[:])
	buf.WriteByte(e.Kind)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(e.Key)))
	buf.Write(tmp[:4])
	buf.Write(e.Key)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(e.Value)))
	buf.Write(tmp[:4])
	buf.Write(e.Value)
}

// flushBlock compresses and appends the pending block to the data
// section, recording its block-index entry keyed by lastKey.
func (b *Builder) flushBlock(lastKey []byte) error {
	if b.curBlock.Len() == 0 {
		return nil
	}
	raw := b.curBlock.Bytes()
	compressed := snappy.Encode(nil, raw)

	offset := uint64(b.dataBuf.Len())
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(compressed)))
	b.dataBuf.Write(tmp[:])
	b.dataBuf.Write(compressed)

	b.blockIndex = append(b.blockIndex, blockIndexEntry{
		lastKey: append([]byte(nil), lastKey...),
		offset:  offset,
		length:  uint32(len(compressed)) + 4,
	})

	b.curBlock.Reset()
	return nil
}

// Finish flushes any pending block and writes the block index, hash
// index, bloom filter, tombstone block and footer, fsyncing before
// returning so the caller can safely register the segment in the
// manifest.
func (b *Builder) Finish() error {
	if b.curBlock.Len() > 0 && len(b.maxKey) > 0 {
		if err := b.flushBlock(b.maxKey); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create segment file: %w", err)
	}
	defer f.Close()

	var out bytes.Buffer

	dataOffset := uint64(0)
	out.Write(b.dataBuf.Bytes())

	blockIndexOffset := uint64(out.Len())
	writeBlockIndex(&out, b.blockIndex)

	hashIndexOffset := uint64(out.Len())
	writeHashIndex(&out, b.hashIndex)

	bloomOffset := uint64(out.Len())
	bloomBytes := b.bloom.Marshal()
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], uint32(len(bloomBytes)))
	out.Write(tmp4[:])
	out.Write(bloomBytes)

	tombstoneOffset := uint64(out.Len())
	writeTombstoneBlock(&out, b.rangeTombs)

	keyRangeOffset := uint64(out.Len())
	writeKeyRange(&out, b.minKey, b.maxKey)

	footerOffset := uint64(out.Len())
	footer := &Footer{
		CommonHeader:     CommonHeader{Magic: common.MagicSegment, Version: common.VersionSegment},
		BlockIndexOffset: blockIndexOffset,
		HashIndexOffset:  hashIndexOffset,
		BloomOffset:      bloomOffset,
		TombstoneOffset:  tombstoneOffset,
		KeyRangeOffset:   keyRangeOffset,
		FooterOffset:     footerOffset,
		MinSeq:           b.minSeq,
		MaxSeq:           b.maxSeq,
		Level:            uint32(b.level),
		EntryCount:       b.entryCount,
	}
	footerBytes := EncodeFooter(footer)
	// CRC covers everything written so far (data through key range) plus
	// the footer up to, but not including, its own CRC field.
	crc := utils.ComputeCRC32CMulti(out.Bytes(), footerBytes[:len(footerBytes)-4])
	binary.LittleEndian.PutUint32(footerBytes[len(footerBytes)-4:], crc)
	out.Write(footerBytes)

	_ = dataOffset
	if _, err := f.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write segment file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync segment file: %w", err)
	}
	return nil
}

func writeBlockIndex(out *bytes.Buffer, idx []blockIndexEntry) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(idx)))
	out.Write(tmp[:])
	for _, e := range idx {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(e.lastKey)))
		out.Write(tmp[:])
		out.Write(e.lastKey)
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], e.offset)
		out.Write(tmp8[:])
		binary.LittleEndian.PutUint32(tmp[:], e.length)
		out.Write(tmp[:])
	}
}

func writeHashIndex(out *bytes.Buffer, idx map[string]uint64) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(idx)))
	out.Write(tmp[:])
	for k, off := range idx {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(k)))
		out.Write(tmp[:])
		out.Write([]byte(k))
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], off)
		out.Write(tmp8[:])
	}
}

func writeTombstoneBlock(out *bytes.Buffer, tombs []BuilderRangeTombstone) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(tombs)))
	out.Write(tmp[:])
	for _, rt := range tombs {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(rt.Start)))
		out.Write(tmp[:])
		out.Write(rt.Start)
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(rt.End)))
		out.Write(tmp[:])
		out.Write(rt.End)
		var tmp8 [8]byte
		binary.LittleEndian.PutUint64(tmp8[:], rt.Seq)
		out.Write(tmp8[:])
	}
}

func writeKeyRange(out *bytes.Buffer, minKey, maxKey []byte) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(minKey)))
	out.Write(tmp[:])
	out.Write(minKey)
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(maxKey)))
	out.Write(tmp[:])
	out.Write(maxKey)
}
