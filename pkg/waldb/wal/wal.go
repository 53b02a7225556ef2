// Package wal implements the write-ahead log: a sequence of rotating,
// CRC-protected, group-committed batch files that make every memtable
// mutation durable before it becomes visible to readers.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
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

const walHeaderSize = 14 // magic(4) + version(2) + created_at(8)

// Entry is one logical operation proposed for durable commit. For
// KindRangeTombstone, Value carries the (exclusive) end of the deleted key
// range rather than a stored value.
type Entry struct {
	Kind  uint8
	Key   []byte
	Value []byte
}

// Config controls WAL sizing, rotation and durability policy.
type Config struct {
	RotateSize          int64
	MaxFileSize         int64
	BufferSize          int
	Durability          common.Durability
	GroupCommitInterval time.Duration
}

// WAL is an append-only, rotating, group-committed durability log.
type WAL struct {
	dir    string
	logger common.Logger
	cfg    Config

	fileMu      sync.Mutex
	currentFile *os.File
	currentPath string
	currentSeq  uint64 // file generation number (from filename)
	currentSize int64
	writer      *bufio.Writer

	nextCommitSeq uint64 // atomic: next sequence number to assign to an entry
	bytesPending  uint64 // atomic: bytes written since last fsync (Group mode)

	reqCh   chan *request
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

type request struct {
	entries []Entry
	doneCh  chan result
}

type result struct {
	startSeq uint64
	err      error
}

// Open opens or creates a WAL directory and starts its group-commit loop.
func Open(dir string, logger common.Logger, cfg Config) (*WAL, error) {
	if err := utils.CreateDirIfNotExists(dir); err != nil {
		return nil, fmt.Errorf("create WAL directory: %w", err)
	}
	if logger == nil {
		logger = common.NewNullLogger()
	}
	if cfg.RotateSize <= 0 {
		cfg.RotateSize = common.WALRotateSize
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = common.WALMaxFileSize
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = int(common.WALBufferSize)
	}
	if cfg.GroupCommitInterval <= 0 {
		cfg.GroupCommitInterval = common.DefaultGroupCommitInterval
	}

	w := &WAL{
		dir:     dir,
		logger:  logger,
		cfg:     cfg,
		reqCh:   make(chan *request, 256),
		closeCh: make(chan struct{}),
	}
	w.nextCommitSeq = 1

	if err := w.openOrCreateFile(); err != nil {
		return nil, err
	}

	w.wg.Add(1)
	go w.commitLoop()

	return w, nil
}

// SetNextSeq installs the starting sequence number after recovery has
// determined the highest sequence present in any replayed WAL record.
func (w *WAL) SetNextSeq(seq uint64) {
	atomic.StoreUint64(&w.nextCommitSeq, seq)
}

// CurrentFileSeq returns the generation number of the WAL file currently
// being written to.
func (w *WAL) CurrentFileSeq() uint64 {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	return w.currentSeq
}

// Append proposes entries for durable commit, blocking until the batch
// that contains them has been written and (per durability policy)
// fsynced. It returns the sequence number assigned to the first entry;
// subsequent entries in the same call receive consecutive sequences.
func (w *WAL) Append(entries []Entry) (uint64, error) {
	if w.closed.Load() {
		return 0, common.ErrShuttingDown
	}
	for _, e := range entries {
		if len(e.Key) > common.MaxKeySize {
			return 0, common.ErrKeyTooLarge
		}
		if len(e.Value) > common.MaxValueSize {
			return 0, common.ErrValueTooLarge
		}
	}

	req := &request{entries: entries, doneCh: make(chan result, 1)}

	select {
	case w.reqCh <- req:
	case <-w.closeCh:
		return 0, common.ErrShuttingDown
	}

	res := <-req.doneCh
	return res.startSeq, res.err
}

// commitLoop is the single writer goroutine: it batches concurrently
// proposed requests, assigns sequence numbers, writes one batch frame per
// round, and applies the durability policy before acking waiters.
func (w *WAL) commitLoop() {
	defer w.wg.Done()

	var fsyncTicker *time.Ticker
	if w.cfg.Durability == common.DurabilityGroup {
		fsyncTicker = time.NewTicker(w.cfg.GroupCommitInterval)
		defer fsyncTicker.Stop()
	}

	var pending []*request
	var tickerC <-chan time.Time
	if fsyncTicker != nil {
		tickerC = fsyncTicker.C
	}

	for {
		select {
		case req := <-w.reqCh:
			pending = append(pending, req)
			// Drain whatever else is immediately available so concurrent
			// callers land in the same batch.
			draining := true
			for draining {
				select {
				case req2 := <-w.reqCh:
					pending = append(pending, req2)
				default:
					draining = false
				}
			}
			w.commitBatch(pending)
			pending = pending[:0]
		case <-tickerC:
			w.fileMu.Lock()
			if w.bytesSincePendingSync() > 0 {
				if err := w.syncLocked(); err != nil {
					w.logger.Error("periodic WAL fsync failed", "error", err)
				}
			}
			w.fileMu.Unlock()
		case <-w.closeCh:
			// Drain any stragglers already queued before shutdown.
			for {
				select {
				case req := <-w.reqCh:
					pending = append(pending, req)
				default:
					if len(pending) > 0 {
						w.commitBatch(pending)
					}
					return
				}
			}
		}
	}
}

func (w *WAL) bytesSincePendingSync() uint64 {
	return atomic.LoadUint64(&w.bytesPending)
}

func (w *WAL) commitBatch(reqs []*request) {
	if len(reqs) == 0 {
		return
	}

	type assigned struct {
		req    *request
		startSeq uint64
	}

	w.fileMu.Lock()

	var records [][]byte
	var totalEntries int
	assignments := make([]assigned, 0, len(reqs))
	// Restored if the batch fails, so a failed batch consumes no sequences.
	batchStart := atomic.LoadUint64(&w.nextCommitSeq)

	for _, req := range reqs {
		start := atomic.LoadUint64(&w.nextCommitSeq)
		for i, e := range req.entries {
			seq := start + uint64(i)
			records = append(records, encodeRecord(seq, e))
			totalEntries++
		}
		atomic.StoreUint64(&w.nextCommitSeq, start+uint64(len(req.entries)))
		assignments = append(assignments, assigned{req: req, startSeq: start})
	}

	batch := encodeBatch(records)

	if w.currentSize+int64(len(batch)) > w.cfg.RotateSize {
		if err := w.rotateLocked(); err != nil {
			atomic.StoreUint64(&w.nextCommitSeq, batchStart)
			w.fileMu.Unlock()
			for _, a := range assignments {
				a.req.doneCh <- result{err: fmt.Errorf("rotate WAL: %w", err)}
			}
			return
		}
	}

	_, err := w.writer.Write(batch)
	if err == nil {
		w.currentSize += int64(len(batch))
		atomic.AddUint64(&w.bytesPending, uint64(len(batch)))

		switch w.cfg.Durability {
		case common.DurabilityStrict:
			err = w.syncLocked()
		case common.DurabilityGroup:
			err = w.writer.Flush()
		case common.DurabilityFlushSynced:
			// Leave buffered; flushed at rotation or explicit Flush/Sync.
		}
	}

	if err != nil {
		atomic.StoreUint64(&w.nextCommitSeq, batchStart)
	}
	w.fileMu.Unlock()

	for _, a := range assignments {
		if err != nil {
			a.req.doneCh <- result{err: err}
			continue
		}
		a.req.doneCh <- result{startSeq: a.startSeq}
	}
}

// syncLocked flushes the buffered writer and fsyncs the underlying file.
// Caller must hold fileMu.
func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush WAL buffer: %w", err)
	}
	if err := w.currentFile.Sync(); err != nil {
		return fmt.Errorf("sync WAL file: %w", err)
	}
	atomic.StoreUint64(&w.bytesPending, 0)
	return nil
}

// Flush flushes buffered data to the OS without fsyncing.
func (w *WAL) Flush() error {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	return w.writer.Flush()
}

// Sync flushes and fsyncs the current WAL file, regardless of durability
// policy. Callers use this around memtable flush/rotation boundaries.
func (w *WAL) Sync() error {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	return w.syncLocked()
}

// Rotate forces rotation to a new WAL file.
func (w *WAL) Rotate() error {
	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	return w.rotateLocked()
}

func (w *WAL) rotateLocked() error {
	if err := w.syncLocked(); err != nil {
		return fmt.Errorf("sync before rotate: %w", err)
	}
	w.currentFile.Close()

	next := w.currentSeq + 1
	if err := w.createNewFileLocked(next); err != nil {
		// best effort: reopen the old file so the WAL stays usable
		w.openFileLocked(w.currentPath)
		return fmt.Errorf("create new WAL file: %w", err)
	}
	w.logger.Info("rotated WAL file", "old_seq", next-1, "new_seq", next)
	return nil
}

// Close stops the commit loop and closes the current file.
func (w *WAL) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.closeCh)
	w.wg.Wait()

	w.fileMu.Lock()
	defer w.fileMu.Unlock()
	if w.writer != nil {
		w.writer.Flush()
	}
	if w.currentFile != nil {
		w.currentFile.Sync()
		w.currentFile.Close()
	}
	return nil
}

// --- file management (grounded on the teacher WAL's rotation/listing code) ---

func (w *WAL) openOrCreateFile() error {
	files, err := listWALFiles(w.dir)
	if err != nil {
		return fmt.Errorf("list WAL files: %w", err)
	}
	if len(files) == 0 {
		return w.createNewFileLocked(1)
	}
	return w.openFileLocked(files[len(files)-1])
}

func listWALFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".log") && !strings.Contains(name, ".corrupt") {
			files = append(files, filepath.Join(dir, name))
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return extractSequence(files[i]) < extractSequence(files[j])
	})
	return files, nil
}

func extractSequence(path string) uint64 {
	base := filepath.Base(path)
	parts := strings.Split(base, ".")
	if len(parts) < 2 {
		return 0
	}
	seq, _ := strconv.ParseUint(parts[0], 10, 64)
	return seq
}

func (w *WAL) createNewFileLocked(seq uint64) error {
	filename := fmt.Sprintf("%016d.log", seq)
	path := filepath.Join(w.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("create WAL file: %w", err)
	}

	if err := writeWALHeader(file); err != nil {
		file.Close()
		os.Remove(path)
		return fmt.Errorf("write WAL header: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("sync WAL file: %w", err)
	}

	w.currentFile = file
	w.currentPath = path
	w.currentSeq = seq
	w.currentSize = walHeaderSize
	w.writer = bufio.NewWriterSize(file, w.cfg.BufferSize)

	w.logger.Info("created new WAL file", "path", path, "seq", seq)
	return nil
}

func (w *WAL) openFileLocked(path string) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open WAL file: %w", err)
	}

	magic, version, err := readWALHeader(file)
	if err != nil {
		file.Close()
		if qerr := utils.QuarantineFile(path); qerr != nil {
			w.logger.Error("failed to quarantine corrupted WAL file", "path", path, "error", qerr)
		}
		return fmt.Errorf("read WAL header: %w", err)
	}
	if magic != common.MagicWAL {
		file.Close()
		if qerr := utils.QuarantineFile(path); qerr != nil {
			w.logger.Error("failed to quarantine WAL file with invalid magic", "path", path, "error", qerr)
		}
		return fmt.Errorf("%w: %x", common.ErrInvalidMagic, magic)
	}
	if version != common.VersionWAL {
		file.Close()
		return fmt.Errorf("%w: WAL version %x", common.ErrUnsupportedVersion, version)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat WAL file: %w", err)
	}

	w.currentFile = file
	w.currentPath = path
	w.currentSeq = extractSequence(path)
	w.currentSize = stat.Size()
	w.writer = bufio.NewWriterSize(file, w.cfg.BufferSize)

	w.logger.Info("opened WAL file", "path", path, "size", w.currentSize)
	return nil
}

func writeWALHeader(file *os.File) error {
	buf := make([]byte, walHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], common.MagicWAL)
	binary.LittleEndian.PutUint16(buf[4:6], common.VersionWAL)
	binary.LittleEndian.PutUint64(buf[6:14], uint64(time.Now().Unix()))
	_, err := file.Write(buf)
	return err
}

func readWALHeader(file *os.File) (magic uint32, version uint16, err error) {
	buf := make([]byte, walHeaderSize)
	if _, err = io.ReadFull(file, buf); err != nil {
		return 0, 0, err
	}
	magic = binary.LittleEndian.Uint32(buf[0:4])
	version = binary.LittleEndian.Uint16(buf[4:6])
	return magic, version, nil
}

// --- wire encoding: record := u64 seq|u8 kind|u32 key_len|key|u32 val_len|val|u32 crc32c ---
// Each record is additionally prefixed with a u32 length covering everything
// from the sequence field through its own crc32c, and the batch is framed
// with a leading u32 count and trailing u32 batch_crc.

func encodeRecord(seq uint64, e Entry) []byte {
	body := make([]byte, 0, 8+1+4+len(e.Key)+4+len(e.Value))
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], seq)
	body = append(body, tmp[:]...)
	body = append(body, e.Kind)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(e.Key)))
	body = append(body, tmp[:4]...)
	body = append(body, e.Key...)
	binary.LittleEndian.PutUint32(tmp[:4], uint32(len(e.Value)))
	body = append(body, tmp[:4]...)
	body = append(body, e.Value...)

	crc := utils.ComputeCRC32C(body)
	binary.LittleEndian.PutUint32(tmp[:4], crc)
	body = append(body, tmp[:4]...)

	out := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

func encodeBatch(records [][]byte) []byte {
	var total int
	for _, r := range records {
		total += len(r)
	}
	out := make([]byte, 0, 4+total+4)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(records)))
	out = append(out, tmp[:]...)
	for _, r := range records {
		out = append(out, r...)
	}
	crc := utils.ComputeCRC32C(out)
	binary.LittleEndian.PutUint32(tmp[:], crc)
	out = append(out, tmp[:]...)
	return out
}

// ReplayedRecord is one durably-committed record surfaced during recovery.
type ReplayedRecord struct {
	SeqNum uint64
	Kind   uint8
	Key    []byte
	Value  []byte
}

// errShortRead marks a batch frame that could not be fully read because the
// file ended partway through it — the signature of a write torn by a crash,
// as opposed to a fully-present frame whose checksum simply fails to match.
var errShortRead = errors.New("short read at end of WAL file")

// Replay reads every WAL file in generation order and invokes callback for
// each record in a batch whose CRCs all validate. A short/truncated final
// frame is tolerated only in the last file, matching a crash mid-append;
// there it is truncated off and replay stops. A short frame in an earlier
// file, or any frame whose CRC fails to match once fully read, is treated
// as corruption and returned as common.ErrCorrupt — it can only mean disk
// or software corruption, not a torn tail, since every earlier file was
// necessarily closed out and rotated cleanly. It returns the highest
// sequence number observed among records applied before any such error.
func Replay(dir string, logger common.Logger, callback func(ReplayedRecord) error) (uint64, error) {
	if logger == nil {
		logger = common.NewNullLogger()
	}
	files, err := listWALFiles(dir)
	if err != nil {
		return 0, fmt.Errorf("list WAL files: %w", err)
	}

	var maxSeq uint64
	for i, path := range files {
		isLastFile := i == len(files)-1
		seq, err := replayFile(path, logger, isLastFile, callback)
		if seq > maxSeq {
			maxSeq = seq
		}
		if err != nil {
			return maxSeq, err
		}
	}
	return maxSeq, nil
}

func replayFile(path string, logger common.Logger, isLastFile bool, callback func(ReplayedRecord) error) (uint64, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return 0, fmt.Errorf("open WAL file: %w", err)
	}
	defer file.Close()

	magic, version, err := readWALHeader(file)
	if err != nil {
		if qerr := utils.QuarantineFile(path); qerr != nil {
			logger.Error("failed to quarantine corrupted WAL file", "path", path, "error", qerr)
		}
		return 0, fmt.Errorf("%w: read WAL header: %v", common.ErrCorrupt, err)
	}
	if magic != common.MagicWAL {
		if qerr := utils.QuarantineFile(path); qerr != nil {
			logger.Error("failed to quarantine WAL file with invalid magic", "path", path, "error", qerr)
		}
		return 0, fmt.Errorf("%w: %x", common.ErrInvalidMagic, magic)
	}
	if version != common.VersionWAL {
		return 0, fmt.Errorf("%w: WAL version %x", common.ErrUnsupportedVersion, version)
	}

	reader := bufio.NewReaderSize(file, 1<<20)
	offset := int64(walHeaderSize)
	lastValidOffset := offset
	var maxSeq uint64
	batches := 0

	for {
		n, err := readBatch(reader, func(rr ReplayedRecord) error {
			if rr.SeqNum > maxSeq {
				maxSeq = rr.SeqNum
			}
			return callback(rr)
		})
		if err == nil {
			offset += int64(n)
			lastValidOffset = offset
			batches++
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, errShortRead) {
			if !isLastFile {
				return maxSeq, fmt.Errorf("%w: torn WAL frame in non-final file %s at offset %d: %v",
					common.ErrCorrupt, path, offset, err)
			}
			logger.Warn("truncating WAL file due to torn tail",
				"path", path, "offset", offset, "error", err)
			if terr := utils.TruncateFile(path, lastValidOffset); terr != nil {
				logger.Error("failed to truncate WAL file", "path", path, "error", terr)
			}
			break
		}
		if qerr := utils.QuarantineFile(path); qerr != nil {
			logger.Error("failed to quarantine corrupted WAL file", "path", path, "error", qerr)
		}
		return maxSeq, fmt.Errorf("%w: corrupted WAL batch in %s at offset %d: %v",
			common.ErrCorrupt, path, offset, err)
	}

	logger.Info("replayed WAL file", "path", path, "batches", batches)
	return maxSeq, nil
}

// readBatch reads and validates one batch frame, invoking onRecord for each
// contained record. Returns the number of bytes consumed.
func readBatch(r *bufio.Reader, onRecord func(ReplayedRecord) error) (int, error) {
	countBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, countBuf); err != nil {
		if err == io.EOF {
			return 0, io.EOF // clean end, aligned on a batch boundary
		}
		// io.ErrUnexpectedEOF: the file ends partway through the count
		// field itself — a torn write.
		return 0, fmt.Errorf("%w: batch count: %v", errShortRead, err)
	}
	count := binary.LittleEndian.Uint32(countBuf)

	var body []byte
	body = append(body, countBuf...)

	// count comes from disk and is garbage in a torn tail, so it is not
	// used as a capacity hint.
	var records []ReplayedRecord
	for i := uint32(0); i < count; i++ {
		recBuf, err := readOneRecord(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return 0, fmt.Errorf("%w: record %d/%d: %v", errShortRead, i, count, err)
			}
			return 0, fmt.Errorf("read record %d/%d: %w", i, count, err)
		}
		body = append(body, recBuf...)

		rr, err := decodeRecordBody(recBuf[4:])
		if err != nil {
			return 0, fmt.Errorf("decode record %d/%d: %w", i, count, err)
		}
		records = append(records, rr)
	}

	crcBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, crcBuf); err != nil {
		return 0, fmt.Errorf("%w: batch crc: %v", errShortRead, err)
	}
	expected := binary.LittleEndian.Uint32(crcBuf)
	if utils.ComputeCRC32C(body) != expected {
		// The frame was read in full — every declared byte was present —
		// so a checksum failure here is corruption, not a torn write.
		return 0, common.ErrCRCMismatch
	}

	for _, rr := range records {
		if err := onRecord(rr); err != nil {
			return 0, err
		}
	}

	return len(body) + 4, nil
}

// readOneRecord reads a length-prefixed record frame (length field + body).
func readOneRecord(r *bufio.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lenBuf)
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	out := make([]byte, 0, 4+len(body))
	out = append(out, lenBuf...)
	out = append(out, body...)
	return out, nil
}

// decodeRecordBody parses the body following the length prefix:
// u64 seq | u8 kind | u32 key_len | key | u32 val_len | val | u32 crc32c.
func decodeRecordBody(body []byte) (ReplayedRecord, error) {
	if len(body) < 8+1+4+4+4 {
		return ReplayedRecord{}, fmt.Errorf("short record body (%d bytes)", len(body))
	}
	crcInput := body[:len(body)-4]
	expectedCRC := binary.LittleEndian.Uint32(body[len(body)-4:])
	if utils.ComputeCRC32C(crcInput) != expectedCRC {
		return ReplayedRecord{}, common.ErrCRCMismatch
	}

	off := 0
	seq := binary.LittleEndian.Uint64(body[off:])
	off += 8
	kind := body[off]
	off++
	keyLen := binary.LittleEndian.Uint32(body[off:])
	off += 4
	if off+int(keyLen) > len(crcInput) {
		return ReplayedRecord{}, fmt.Errorf("key length out of range")
	}
	key := body[off : off+int(keyLen)]
	off += int(keyLen)
	valLen := binary.LittleEndian.Uint32(body[off:])
	off += 4
	if off+int(valLen) > len(crcInput) {
		return ReplayedRecord{}, fmt.Errorf("value length out of range")
	}
	value := body[off : off+int(valLen)]

	return ReplayedRecord{SeqNum: seq, Kind: kind, Key: key, Value: value}, nil
}

// DeleteFilesBefore removes WAL files whose generation number is strictly
// less than beforeSeq; called once the memtable they cover has been
// flushed and recorded in a new manifest.
func (w *WAL) DeleteFilesBefore(beforeSeq uint64) error {
	files, err := listWALFiles(w.dir)
	if err != nil {
		return fmt.Errorf("list WAL files: %w", err)
	}

	var errs []error
	deleted := 0
	for _, path := range files {
		seq := extractSequence(path)
		if seq > 0 && seq < beforeSeq {
			if err := os.Remove(path); err != nil {
				errs = append(errs, err)
				w.logger.Warn("failed to delete old WAL file", "path", path, "seq", seq, "error", err)
				continue
			}
			deleted++
			w.logger.Info("deleted old WAL file", "path", path, "seq", seq)
		}
	}
	if len(errs) > 0 && deleted == 0 {
		return fmt.Errorf("failed to delete any old WAL files: %v", errs)
	}
	return nil
}
