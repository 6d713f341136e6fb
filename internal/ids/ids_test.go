package ids

import (
	"strings"
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := NewAt(base)
	second := NewAt(base.Add(time.Millisecond))
	if first >= second {
		t.Fatalf("expected %s < %s", first, second)
	}
	third := NewAt(base.Add(time.Millisecond))
	if second >= third {
		t.Fatalf("expected monotonic ids within the same millisecond: %s >= %s", second, third)
	}
}

func TestWithPrefix(t *testing.T) {
	id := WithPrefix("aud")
	if !strings.HasPrefix(id, "aud_") {
		t.Fatalf("missing prefix: %s", id)
	}
	if !Valid(id) {
		t.Fatalf("expected %s to be valid", id)
	}
	if Valid("aud_not-a-ulid") {
		t.Fatal("expected invalid id to be rejected")
	}
	if got := WithPrefix("  "); strings.Contains(got, "_") {
		t.Fatalf("blank prefix should produce bare id, got %s", got)
	}
}
