package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIsULIDAndSorted(t *testing.T) {
	a, b := New(), New()
	for _, id := range []string{a, b} {
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("expected a ULID, got %q: %v", id, err)
		}
	}
	if a >= b {
		t.Fatalf("expected monotonic ids, got %q then %q", a, b)
	}
}
