package util

import (
	"strings"
	"testing"
)

func TestNewRequestIDIsUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		id := NewRequestID()
		if !strings.HasPrefix(id, "req_") {
			t.Fatalf("expected req_ prefix, got %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate request id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestIsNodeID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"acme-exit-widgets-2020", true},
		{"evt_42", true},
		{"acme", true},
		{"Why did ACME exit?", false},
		{"acme--exit", false},
		{"", false},
		{"-leading", false},
	}
	for _, tt := range tests {
		if got := IsNodeID(tt.input); got != tt.want {
			t.Errorf("IsNodeID(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
