package segment

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/pkg/waldb/utils"
)

// CommonHeader is the common header shared by every segment-related file.
type CommonHeader struct {
	Magic   uint32
	Version uint16
}

// Footer is the fixed-size trailer written at the end of every segment
// file, giving the offsets of each section so a reader can open the file
// without a separate metadata file. KeyRangeOffset points at a small
// variable-length section (minKeyLen|minKey|maxKeyLen|maxKey) written just
// ahead of the footer.
type Footer struct {
	CommonHeader
	BlockIndexOffset uint64
	HashIndexOffset  uint64
	BloomOffset      uint64
	TombstoneOffset  uint64
	KeyRangeOffset   uint64
	FooterOffset     uint64 // offset where the footer itself begins

	MinSeq     uint64
	MaxSeq     uint64
	Level      uint32
	EntryCount uint64

	FileCRC32C uint32
}

// FooterSize is the encoded size in bytes of Footer (excluding the
// variable-length key range section it points to).
const FooterSize = 4 + 2 + // magic, version
	8*6 + // BlockIndexOffset..FooterOffset
	8 + 8 + 4 + 8 + // MinSeq, MaxSeq, Level, EntryCount
	4 // FileCRC32C

// WriteCommonHeader writes a common header to a writer.
func WriteCommonHeader(w io.Writer, magic uint32, version uint16) error {
	h := CommonHeader{Magic: magic, Version: version}

	if err := binary.Write(w, binary.LittleEndian, h.Magic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, h.Version); err != nil {
		return err
	}
	return nil
}

// ReadCommonHeader reads a common header from a reader.
func ReadCommonHeader(r io.Reader) (*CommonHeader, error) {
	var h CommonHeader

	if err := binary.Read(r, binary.LittleEndian, &h.Magic); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &h.Version); err != nil {
		return nil, err
	}
	return &h, nil
}

// ValidateHeader validates a common header against expectations.
func ValidateHeader(h *CommonHeader, expectedMagic uint32, expectedVersion uint16) error {
	if h.Magic != expectedMagic {
		return fmt.Errorf("%w: got 0x%08x, expected 0x%08x",
			common.ErrInvalidMagic, h.Magic, expectedMagic)
	}
	if h.Version != expectedVersion {
		return fmt.Errorf("%w: got 0x%04x, expected 0x%04x",
			common.ErrUnsupportedVersion, h.Version, expectedVersion)
	}
	return nil
}

// EncodeFooter serializes a Footer to its fixed-size wire form.
func EncodeFooter(f *Footer) []byte {
	buf := make([]byte, FooterSize)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], f.Magic)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], f.Version)
	off += 2
	binary.LittleEndian.PutUint64(buf[off:], f.BlockIndexOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.HashIndexOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.BloomOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.TombstoneOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.KeyRangeOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.FooterOffset)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.MinSeq)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], f.MaxSeq)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], f.Level)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], f.EntryCount)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], f.FileCRC32C)
	off += 4
	return buf[:off]
}

// DecodeFooter parses a Footer from its fixed-size wire form.
func DecodeFooter(buf []byte) (*Footer, error) {
	if len(buf) < FooterSize {
		return nil, fmt.Errorf("short footer: %d bytes", len(buf))
	}
	f := &Footer{}
	off := 0
	f.Magic = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	f.Version = binary.LittleEndian.Uint16(buf[off:])
	off += 2
	f.BlockIndexOffset = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.HashIndexOffset = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.BloomOffset = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.TombstoneOffset = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.KeyRangeOffset = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.FooterOffset = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.MinSeq = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.MaxSeq = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.Level = binary.LittleEndian.Uint32(buf[off:])
	off += 4
	f.EntryCount = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	f.FileCRC32C = binary.LittleEndian.Uint32(buf[off:])
	return f, nil
}

// ComputeFileCRC computes the CRC32C of data with the CRC field at
// crcOffset zeroed out first, returned widened to 64 bits for header
// field compatibility.
func ComputeFileCRC(data []byte, crcOffset int) uint64 {
	return utils.ComputeFileCRC32C(data, crcOffset)
}

// VerifyFileCRC verifies the whole-file CRC recorded in the footer.
func VerifyFileCRC(data []byte, crcOffset int, expected uint64) bool {
	return ComputeFileCRC(data, crcOffset) == expected
}
