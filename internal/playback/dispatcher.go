package playback

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/queue"
	"github.com/xpadev-net/kiosk-agent/internal/slot"
)

// PlayOutcome describes a finished play for the history journal.
type PlayOutcome struct {
	ID         string
	Path       string
	Reason     StopReason
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// ReasonFailed marks a play whose player never launched.
const ReasonFailed StopReason = "failed"

// Recorder receives play outcomes.
type Recorder interface {
	RecordPlay(ctx context.Context, outcome PlayOutcome) error
}

type nopRecorder struct{}

func (nopRecorder) RecordPlay(context.Context, PlayOutcome) error { return nil }

// Dispatcher plays queued files one at a time.
type Dispatcher struct {
	playlist *queue.Queue[string]
	active   *slot.Slot[*Worker]
	launcher Launcher
	opts     WorkerOptions
	recorder Recorder
	logger   *zap.Logger
}

// NewDispatcher creates a playlist dispatcher.
func NewDispatcher(playlist *queue.Queue[string], active *slot.Slot[*Worker], launcher Launcher, opts WorkerOptions, recorder Recorder) *Dispatcher {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Dispatcher{
		playlist: playlist,
		active:   active,
		launcher: launcher,
		opts:     opts,
		recorder: recorder,
		logger:   log.Component("playlist"),
	}
}

// Run blocks on the playlist queue until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("playlist dispatcher started")
	for {
		path, err := d.playlist.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Info("playlist dispatcher stopped")
				return nil
			}
			return err
		}
		d.play(ctx, path)
	}
}

func (d *Dispatcher) play(ctx context.Context, path string) {
	w := NewWorker(path, d.launcher, d.opts)
	started := time.Now()

	outcome := PlayOutcome{ID: w.ID(), Path: path, StartedAt: started}

	if err := w.Start(ctx); err != nil {
		d.logger.Warn("failed to start playback", zap.String("path", path), zap.Error(err))
		outcome.Reason = ReasonFailed
		outcome.Err = err
		outcome.FinishedAt = time.Now()
		d.record(ctx, outcome)
		return
	}

	if err := d.active.Publish(w); err != nil {
		d.logger.Error("playback slot unavailable, skipping file", zap.String("path", path), zap.Error(err))
		_ = w.Stop()
		return
	}

	outcome.Reason = w.Run(ctx)

	if _, err := d.active.Remove(context.WithoutCancel(ctx)); err != nil {
		d.logger.Error("failed to clear playback slot", zap.Error(err))
	}

	outcome.FinishedAt = time.Now()
	d.record(ctx, outcome)
}

func (d *Dispatcher) record(ctx context.Context, outcome PlayOutcome) {
	if err := d.recorder.RecordPlay(context.WithoutCancel(ctx), outcome); err != nil {
		d.logger.Warn("failed to record play", zap.Error(err))
	}
}
