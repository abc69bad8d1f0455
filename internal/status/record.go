// Package status assembles and pushes agent status records.
package status

import (
	"time"

	"github.com/xpadev-net/kiosk-agent/internal/download"
	"github.com/xpadev-net/kiosk-agent/internal/health"
	"github.com/xpadev-net/kiosk-agent/internal/ids"
	"github.com/xpadev-net/kiosk-agent/internal/playback"
	"github.com/xpadev-net/kiosk-agent/internal/slot"
)

// QueueDepths reports the number of pending entries per pipeline queue.
type QueueDepths struct {
	Downloads int `json:"downloads"`
	Playlist  int `json:"playlist"`
	Commands  int `json:"commands"`
}

// ActiveWorkers reports which slots hold a running worker. A worker that
// another component has borrowed is active even when its detail is absent.
type ActiveWorkers struct {
	Playback bool `json:"player"`
	Download bool `json:"downloading"`
}

// Record is one status report.
type Record struct {
	ID        string             `json:"id"`
	AgentID   string             `json:"agent_id"`
	Timestamp time.Time          `json:"timestamp"`
	Health    *health.Report     `json:"health,omitempty"`
	Playback  *playback.Status   `json:"player,omitempty"`
	Download  *download.Progress `json:"downloading,omitempty"`
	Active    ActiveWorkers      `json:"active"`
	Queues    QueueDepths        `json:"queues"`
}

// Sources gives read access to the pipeline state a record describes.
type Sources struct {
	AgentID  string
	Playback *slot.Slot[*playback.Worker]
	Download *slot.Slot[*download.Worker]
	Depths   func() QueueDepths
}

// Snapshot builds a record of the local pipeline state without health
// facets. Active workers are peeked and stay in their slots; one held by
// another borrower past slot.PeekWait is reported active without detail.
func Snapshot(src Sources) *Record {
	rec := &Record{
		ID:        ids.NewRecordID(),
		AgentID:   src.AgentID,
		Timestamp: time.Now().UTC(),
	}

	if src.Playback != nil {
		_, rec.Active.Playback = src.Playback.Peek(func(w *playback.Worker) {
			st := w.Snapshot()
			rec.Playback = &st
		})
	}
	if src.Download != nil {
		_, rec.Active.Download = src.Download.Peek(func(w *download.Worker) {
			p := w.Progress()
			rec.Download = &p
		})
	}
	if src.Depths != nil {
		rec.Queues = src.Depths()
	}
	return rec
}
