package ids

import (
	"strings"
	"testing"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID()

	if !strings.HasPrefix(id, JobPrefix) {
		t.Errorf("NewJobID() = %v, want prefix %v", id, JobPrefix)
	}

	// job- + UUID with hyphens = 4 + 36
	if len(id) != 40 {
		t.Errorf("NewJobID() length = %v, want 40", len(id))
	}

	if !IsValid(JobPrefix, id) {
		t.Errorf("NewJobID() = %v, should be valid", id)
	}
}

func TestNewIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewRecordID()
		if seen[id] {
			t.Fatalf("NewRecordID() generated duplicate ID: %v", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		id     string
		want   bool
	}{
		{"valid job ID", JobPrefix, "job-0190a5c8-e4b0-7d8a-9c1d-2e3f4a5b6c7d", true},
		{"valid play ID", PlayPrefix, "play-12345678-1234-1234-1234-123456789abc", true},
		{"wrong prefix", JobPrefix, "hb-0190a5c8-e4b0-7d8a-9c1d-2e3f4a5b6c7d", false},
		{"missing uuid", JobPrefix, "job-", false},
		{"garbage uuid", RecordPrefix, "hb-not-a-uuid", false},
		{"empty", JobPrefix, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValid(tt.prefix, tt.id); got != tt.want {
				t.Errorf("IsValid(%q, %q) = %v, want %v", tt.prefix, tt.id, got, tt.want)
			}
		})
	}
}
