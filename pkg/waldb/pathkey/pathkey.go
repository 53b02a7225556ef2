// Package pathkey implements the slash-delimited hierarchical key syntax
// and the ancestor/descendant tree invariant checks built on top of it.
package pathkey

import (
	"bytes"
	"fmt"

	"github.com/waldb/waldb/internal/common"
)

// Separator delimits path components.
const Separator = '/'

// ConflictKind distinguishes the two ways a write can violate the tree
// invariant.
type ConflictKind int

const (
	// DescendantsExist means a non-force set targeted a path that
	// currently has live values under it.
	DescendantsExist ConflictKind = iota
	// AncestorIsScalar means a non-force set targeted a path beneath a
	// key that currently holds a live scalar value.
	AncestorIsScalar
)

func (k ConflictKind) String() string {
	switch k {
	case DescendantsExist:
		return "descendants_exist"
	case AncestorIsScalar:
		return "ancestor_is_scalar"
	default:
		return "unknown"
	}
}

// TreeConflictError reports a structural violation of the tree
// invariant, surfaced to the caller without any state change.
type TreeConflictError struct {
	Key  []byte
	Kind ConflictKind
}

func (e *TreeConflictError) Error() string {
	return fmt.Sprintf("tree conflict at %q: %s", e.Key, e.Kind)
}

// Validate checks key against the path syntax rules: non-empty (unless
// allowEmptyRoot is set, for the bulk-write root), no empty components
// (a//b), and no leading or trailing slash.
func Validate(key []byte, allowEmptyRoot bool) error {
	if len(key) == 0 {
		if allowEmptyRoot {
			return nil
		}
		return fmt.Errorf("%w: %w", common.ErrPathInvalid, common.ErrEmptyKey)
	}
	if key[0] == Separator {
		return fmt.Errorf("%w: leading slash", common.ErrPathInvalid)
	}
	if key[len(key)-1] == Separator {
		return fmt.Errorf("%w: trailing slash", common.ErrPathInvalid)
	}
	if bytes.Contains(key, []byte{Separator, Separator}) {
		return fmt.Errorf("%w: empty path component", common.ErrPathInvalid)
	}
	if len(key) > common.MaxKeySize {
		return common.ErrKeyTooLarge
	}
	return nil
}

// Ancestors returns every strict ancestor path of key, ordered from the
// root-most component down to the immediate parent. "a/b/c" yields
// ["a", "a/b"].
func Ancestors(key []byte) [][]byte {
	var out [][]byte
	for i, b := range key {
		if b == Separator {
			out = append(out, append([]byte(nil), key[:i]...))
		}
	}
	return out
}

// SubtreeRange returns the half-open byte range [start, end) covering
// every key strictly under key (i.e. "key/" followed by anything),
// suitable for a range scan or a range tombstone.
func SubtreeRange(key []byte) (start, end []byte) {
	start = make([]byte, 0, len(key)+1)
	start = append(start, key...)
	start = append(start, Separator)

	end = make([]byte, 0, len(key)+2)
	end = append(end, key...)
	end = append(end, Separator, 0xFF)
	return start, end
}

// ExistsInRangeFunc reports whether any live entry exists in [start, end).
type ExistsInRangeFunc func(start, end []byte) (bool, error)

// ExistsFunc reports whether a live entry exists at the exact key.
type ExistsFunc func(key []byte) (bool, error)

// CheckNoLiveDescendants fails with TreeConflict{DescendantsExist} if any
// live entry exists strictly under key.
func CheckNoLiveDescendants(key []byte, existsInRange ExistsInRangeFunc) error {
	start, end := SubtreeRange(key)
	found, err := existsInRange(start, end)
	if err != nil {
		return err
	}
	if found {
		return &TreeConflictError{Key: append([]byte(nil), key...), Kind: DescendantsExist}
	}
	return nil
}

// CheckNoLiveAncestor fails with TreeConflict{AncestorIsScalar} if any
// strict ancestor of key currently holds a live scalar value.
func CheckNoLiveAncestor(key []byte, exists ExistsFunc) error {
	for _, ancestor := range Ancestors(key) {
		found, err := exists(ancestor)
		if err != nil {
			return err
		}
		if found {
			return &TreeConflictError{Key: append([]byte(nil), ancestor...), Kind: AncestorIsScalar}
		}
	}
	return nil
}
