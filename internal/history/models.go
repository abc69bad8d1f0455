package history

import (
	"time"

	"github.com/xpadev-net/kiosk-agent/internal/download"
	"github.com/xpadev-net/kiosk-agent/internal/playback"
)

// DownloadRecord is a row of the downloads table.
type DownloadRecord struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Path       string    `json:"path"`
	Bytes      int64     `json:"bytes"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// PlayRecord is a row of the plays table.
type PlayRecord struct {
	ID         string    `json:"id"`
	Path       string    `json:"path"`
	Status     string    `json:"status"`
	Error      *string   `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func downloadRecordFrom(o download.Outcome) DownloadRecord {
	return DownloadRecord{
		ID:         o.Job.ID,
		URL:        o.Job.URL,
		Path:       o.Path,
		Bytes:      o.Transferred,
		Status:     string(o.Status),
		Error:      errorText(o.Err),
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}

func playRecordFrom(o playback.PlayOutcome) PlayRecord {
	return PlayRecord{
		ID:         o.ID,
		Path:       o.Path,
		Status:     string(o.Reason),
		Error:      errorText(o.Err),
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}
