package ids

import (
	"strings"

	"github.com/google/uuid"
)

const (
	// JobPrefix is the prefix for download job IDs.
	JobPrefix = "job-"
	// PlayPrefix is the prefix for playback session IDs.
	PlayPrefix = "play-"
	// RecordPrefix is the prefix for status record IDs.
	RecordPrefix = "hb-"
)

// NewJobID generates a download job ID. UUIDv7 keeps IDs sortable by
// enqueue time.
func NewJobID() string {
	return newID(JobPrefix)
}

// NewPlayID generates a playback session ID.
func NewPlayID() string {
	return newID(PlayPrefix)
}

// NewRecordID generates a status record ID.
func NewRecordID() string {
	return newID(RecordPrefix)
}

func newID(prefix string) string {
	return prefix + uuid.Must(uuid.NewV7()).String()
}

// IsValid reports whether id carries prefix followed by a parseable UUID.
func IsValid(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
