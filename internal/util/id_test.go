package util

import (
	"strings"
	"testing"
)

func TestNewIDPrefixAndUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewID("op")
		if !strings.HasPrefix(id, "op_") {
			t.Fatalf("expected op_ prefix, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
	if got := NewID(""); strings.Contains(got, "_") || len(got) != 26 {
		t.Fatalf("unexpected unprefixed id %q", got)
	}
}
