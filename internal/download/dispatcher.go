package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/queue"
	"github.com/xpadev-net/kiosk-agent/internal/slot"
)

// Status is the terminal outcome of a download job.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Outcome describes a finished job for the history journal.
type Outcome struct {
	Job         Job
	Path        string
	Transferred int64
	Status      Status
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Recorder receives job outcomes.
type Recorder interface {
	RecordDownload(ctx context.Context, outcome Outcome) error
}

type nopRecorder struct{}

func (nopRecorder) RecordDownload(context.Context, Outcome) error { return nil }

// Dispatcher drains the job queue one job at a time and forwards completed
// files to the playlist queue.
type Dispatcher struct {
	dir        string
	jobs       *queue.Queue[Job]
	playlist   *queue.Queue[string]
	active     *slot.Slot[*Worker]
	httpClient *http.Client
	recorder   Recorder
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher writing every file under dir.
func NewDispatcher(dir string, jobs *queue.Queue[Job], active *slot.Slot[*Worker], playlist *queue.Queue[string], httpClient *http.Client, recorder Recorder) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		dir:        dir,
		jobs:       jobs,
		playlist:   playlist,
		active:     active,
		httpClient: httpClient,
		recorder:   recorder,
		logger:     log.Component("download"),
	}
}

// Run blocks on the job queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("ensure scratch dir: %w", err)
	}

	d.logger.Info("download dispatcher started", zap.String("dir", d.dir))
	for {
		job, err := d.jobs.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Info("download dispatcher stopped")
				return nil
			}
			return err
		}
		d.process(ctx, job)
	}
}

// process runs one job to completion. Errors end the job, never the loop.
func (d *Dispatcher) process(ctx context.Context, job Job) {
	job.Dir = d.dir
	w := NewWorker(job, d.httpClient)

	if err := d.active.Publish(w); err != nil {
		d.logger.Error("download slot unavailable, dropping job",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	started := time.Now()
	runErr := w.Run(ctx)

	// Borrowers always release, so waiting here is bounded even when ctx
	// is already done.
	if _, err := d.active.Remove(context.WithoutCancel(ctx)); err != nil {
		d.logger.Error("failed to clear download slot", zap.Error(err))
	}

	outcome := Outcome{
		Job:         job,
		Path:        w.Path(),
		Transferred: w.Progress().Transferred,
		StartedAt:   started,
		FinishedAt:  time.Now(),
	}

	switch {
	case w.Cancelled():
		outcome.Status = StatusCancelled
	case runErr != nil:
		outcome.Status = StatusFailed
		outcome.Err = runErr
		d.logger.Warn("download failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(runErr),
		)
	default:
		outcome.Status = StatusCompleted
		d.playlist.Put(w.Path())
		d.logger.Info("queued for playback",
			zap.String("job_id", job.ID),
			zap.String("path", w.Path()),
		)
	}

	if err := d.recorder.RecordDownload(context.WithoutCancel(ctx), outcome); err != nil {
		d.logger.Warn("failed to record download", zap.Error(err))
	}
}
