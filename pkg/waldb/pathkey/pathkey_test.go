package pathkey

import (
	"bytes"
	"errors"
	"testing"

	"github.com/waldb/waldb/internal/common"
)

func TestValidateRejectsLeadingTrailingAndEmptyComponents(t *testing.T) {
	cases := []string{"/a", "a/", "a//b"}
	for _, c := range cases {
		if err := Validate([]byte(c), false); !errors.Is(err, common.ErrPathInvalid) {
			t.Fatalf("key %q: expected ErrPathInvalid, got %v", c, err)
		}
	}
}

func TestValidateRejectsEmptyUnlessRootAllowed(t *testing.T) {
	if err := Validate(nil, false); !errors.Is(err, common.ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	if err := Validate(nil, true); err != nil {
		t.Fatalf("expected nil error for allowed empty root, got %v", err)
	}
}

func TestValidateAcceptsOrdinaryPath(t *testing.T) {
	if err := Validate([]byte("a/b/c"), false); err != nil {
		t.Fatalf("expected valid path, got %v", err)
	}
}

func TestAncestors(t *testing.T) {
	got := Ancestors([]byte("a/b/c"))
	want := [][]byte{[]byte("a"), []byte("a/b")}
	if len(got) != len(want) {
		t.Fatalf("expected %d ancestors, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("ancestor %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSubtreeRange(t *testing.T) {
	start, end := SubtreeRange([]byte("a/b"))
	if string(start) != "a/b/" {
		t.Fatalf("expected start 'a/b/', got %q", start)
	}
	if string(end) != "a/b/\xff" {
		t.Fatalf("expected end 'a/b/\\xff', got %q", end)
	}
}

func TestCheckNoLiveDescendantsFailsWhenFound(t *testing.T) {
	err := CheckNoLiveDescendants([]byte("a/b"), func(start, end []byte) (bool, error) {
		return true, nil
	})
	var conflict *TreeConflictError
	if !errors.As(err, &conflict) || conflict.Kind != DescendantsExist {
		t.Fatalf("expected DescendantsExist conflict, got %v", err)
	}
}

func TestCheckNoLiveDescendantsPassesWhenAbsent(t *testing.T) {
	err := CheckNoLiveDescendants([]byte("a/b"), func(start, end []byte) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestCheckNoLiveAncestorFailsOnScalarAncestor(t *testing.T) {
	err := CheckNoLiveAncestor([]byte("a/b/c"), func(key []byte) (bool, error) {
		return string(key) == "a/b", nil
	})
	var conflict *TreeConflictError
	if !errors.As(err, &conflict) || conflict.Kind != AncestorIsScalar {
		t.Fatalf("expected AncestorIsScalar conflict, got %v", err)
	}
	if string(conflict.Key) != "a/b" {
		t.Fatalf("expected conflict key 'a/b', got %q", conflict.Key)
	}
}

func TestCheckNoLiveAncestorPassesWhenNoneScalar(t *testing.T) {
	err := CheckNoLiveAncestor([]byte("a/b/c"), func(key []byte) (bool, error) {
		return false, nil
	})
	if err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}
