package waldb

import (
	"time"

	"github.com/waldb/waldb/internal/common"
)

// Options configures a Store at Open. The zero value is not usable;
// construct via DefaultOptions and override individual fields.
type Options struct {
	// Logger receives structured diagnostics. Defaults to a JSON logger on
	// stderr; pass NewNullLogger() to silence it.
	Logger common.Logger

	// ReadOnly opens the store without creating a WAL writer, compactor or
	// background tasks; writes fail with ErrReadOnly.
	ReadOnly bool

	// Durability selects the WAL's fsync policy: strict, group or
	// flush-synced. See internal/common.Durability.
	Durability common.Durability

	// MemtableTargetBytes is the approximate memtable size that triggers a
	// flush to an L0 segment.
	MemtableTargetBytes int64

	// BlockSizeBytes is the target size of an uncompressed segment data
	// block before it is flushed and compressed.
	BlockSizeBytes int

	// BlockCacheBytes is the block cache's capacity, in decoded bytes.
	BlockCacheBytes int64

	// L0CompactionTrigger is the number of L0 segments that schedules an
	// L0->L1 compaction. Open does not pass it to the compactor, which
	// always uses common.DefaultL0CompactionTrigger (4); setting this
	// field has no effect.
	L0CompactionTrigger int

	// GroupCommitIntervalMs is the period of the WAL's background fsync in
	// Durability Group mode. A Group-mode write returns once its batch has
	// been written to the OS, without waiting for that fsync.
	GroupCommitIntervalMs int

	// MaxMmapCacheSize bounds how many segment files may be mmapped
	// concurrently. 0 uses the package default; a negative value disables
	// mmap entirely (segments are read with pread instead).
	MaxMmapCacheSize int

	// WALRotateSize overrides the WAL's per-file rotation threshold.
	WALRotateSize int64

	// DisableAutoFlush turns off the periodic background flush check;
	// Flush must be called explicitly.
	DisableAutoFlush bool

	// DisableBackgroundCompaction turns off the compactor's background
	// loop. Store has no method that runs a compaction directly, so with
	// this set no compaction runs.
	DisableBackgroundCompaction bool

	// PprofAddr, if non-empty, starts a net/http/pprof debug server bound
	// to this address for the life of the store (e.g. "127.0.0.1:6060").
	PprofAddr string
}

// DefaultOptions returns an Options populated with the defaults from the
// on-disk configuration contract: 64MiB memtable target, 32KiB blocks,
// 100MiB block cache, an L0 trigger of 4 segments and a 10ms group-commit
// window.
func DefaultOptions() *Options {
	return &Options{
		Durability:            common.DurabilityGroup,
		MemtableTargetBytes:   common.DefaultMemtableTargetBytes,
		BlockSizeBytes:        common.DefaultBlockSizeBytes,
		BlockCacheBytes:       common.DefaultBlockCacheBytes,
		L0CompactionTrigger:   common.DefaultL0CompactionTrigger,
		GroupCommitIntervalMs: int(common.DefaultGroupCommitInterval / time.Millisecond),
	}
}
