package record

import (
	"sort"
	"testing"

	"github.com/google/uuid"
)

func TestUUIDv7Generator_ValidUUIDs(t *testing.T) {
	gen := UUIDv7Generator{}
	id := gen.NewID()

	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("NewID() produced invalid UUID %q: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("UUID version = %d, want 7", parsed.Version())
	}
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.NewID()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7Generator_TimeSortable(t *testing.T) {
	gen := UUIDv7Generator{}
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = gen.NewID()
	}

	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("IDs not lexically ordered at index %d: generation order %q, sorted %q", i, ids[i], sorted[i])
		}
	}
}

func TestFixedGenerator_ReturnsInOrder(t *testing.T) {
	gen := NewFixedGenerator("a-1", "a-2", "a-3")
	for i, want := range []string{"a-1", "a-2", "a-3"} {
		if got := gen.NewID(); got != want {
			t.Errorf("NewID() call %d = %q, want %q", i, got, want)
		}
	}
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator("only")
	gen.NewID()

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic after exhausting ids")
		}
	}()
	gen.NewID()
}
