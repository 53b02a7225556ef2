package waldb

import (
	"github.com/waldb/waldb/internal/common"
	"github.com/waldb/waldb/pkg/waldb/pathkey"
)

// Re-exported so callers never need to import internal/common or
// pkg/waldb/pathkey directly to handle typed errors.
var (
	ErrClosed             = common.ErrClosed
	ErrReadOnly           = common.ErrReadOnly
	ErrCorrupt            = common.ErrCorrupt
	ErrUnsupportedVersion = common.ErrUnsupportedVersion
	ErrPathInvalid        = common.ErrPathInvalid
	ErrEmptyKey           = common.ErrEmptyKey
	ErrShuttingDown       = common.ErrShuttingDown
	ErrKeyTooLarge        = common.ErrKeyTooLarge
	ErrValueTooLarge      = common.ErrValueTooLarge
)

// ConflictKind distinguishes the two ways a Set can violate the tree
// invariant: a live scalar ancestor, or live descendants under the target
// key.
type ConflictKind = pathkey.ConflictKind

const (
	DescendantsExist = pathkey.DescendantsExist
	AncestorIsScalar = pathkey.AncestorIsScalar
)

// TreeConflictError reports a structural tree-invariant violation. The
// caller's write was rejected with no state change; errors.As unwraps it.
type TreeConflictError = pathkey.TreeConflictError
