package playback

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/ids"
	"github.com/xpadev-net/kiosk-agent/internal/log"
)

// State represents the playback worker's lifecycle state.
type State string

const (
	StateCreated State = "created"
	StatePaused  State = "paused"
	StatePlaying State = "playing"
	StateStopped State = "stopped"
)

// StopReason records why a worker reached StateStopped.
type StopReason string

const (
	ReasonEnded   StopReason = "ended"
	ReasonStalled StopReason = "stalled"
	ReasonStopped StopReason = "stopped"
)

const (
	DefaultWatchdogInterval = time.Second
	DefaultWatchdogTicks    = 10

	volumeStep = 5.0
	speedStep  = 0.25
)

// Seek offsets in seconds.
const (
	SeekBack600    = -600
	SeekBack30     = -30
	SeekForward30  = 30
	SeekForward600 = 600
)

// Status is a point-in-time view of a playback worker.
type Status struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	State       State      `json:"state"`
	Position    float64    `json:"position"`
	Paused      bool       `json:"paused"`
	Muted       bool       `json:"muted"`
	VolumeSteps int        `json:"volume_steps"`
	SpeedSteps  int        `json:"speed_steps"`
	IdleTicks   int        `json:"idle_ticks"`
	StartedAt   time.Time  `json:"started_at"`
	Media       *MediaInfo `json:"media,omitempty"`
}

// WorkerOptions tunes a worker. Zero values take the defaults.
type WorkerOptions struct {
	WatchdogInterval time.Duration
	WatchdogTicks    int
	Prober           Prober
}

// Worker controls playback of one file and stops it when the position stops
// advancing.
type Worker struct {
	id       string
	path     string
	launcher Launcher
	prober   Prober
	interval time.Duration
	maxIdle  int
	logger   *zap.Logger

	mu           sync.Mutex
	media        Media
	state        State
	reason       StopReason
	muted        bool
	volumeSteps  int
	speedSteps   int
	idleTicks    int
	lastPosition float64
	info         *MediaInfo
	startedAt    time.Time
}

// NewWorker creates a worker for path. Playback begins on Start.
func NewWorker(path string, launcher Launcher, opts WorkerOptions) *Worker {
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = DefaultWatchdogInterval
	}
	if opts.WatchdogTicks <= 0 {
		opts.WatchdogTicks = DefaultWatchdogTicks
	}
	id := ids.NewPlayID()
	return &Worker{
		id:       id,
		path:     path,
		launcher: launcher,
		prober:   opts.Prober,
		interval: opts.WatchdogInterval,
		maxIdle:  opts.WatchdogTicks,
		logger:   log.Component("playlist").With(zap.String("play_id", id), zap.String("path", path)),
		state:    StateCreated,
	}
}

// ID returns the play identifier.
func (w *Worker) ID() string { return w.id }

// Path returns the file being played.
func (w *Worker) Path() string { return w.path }

// Start launches the player and pauses it, leaving the worker in StatePaused.
func (w *Worker) Start(ctx context.Context) error {
	var info *MediaInfo
	if w.prober != nil {
		probed, err := w.prober.Probe(w.path)
		if err != nil {
			w.logger.Warn("media probe failed", zap.Error(err))
		} else {
			info = probed
		}
	}

	media, err := w.launcher(ctx, w.path)
	if err != nil {
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		return err
	}
	if err := media.SetPaused(true); err != nil {
		w.logger.Warn("initial pause failed", zap.Error(err))
	}

	w.mu.Lock()
	w.media = media
	w.info = info
	w.state = StatePaused
	w.startedAt = time.Now()
	w.mu.Unlock()

	w.logger.Info("playback started")
	return nil
}

// Run samples the playback position until the worker stops, the player exits
// or ctx is cancelled. The worker is stopped when Run returns.
func (w *Worker) Run(ctx context.Context) StopReason {
	w.mu.Lock()
	media := w.media
	w.mu.Unlock()
	if media == nil {
		return ReasonStopped
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stop(ReasonStopped)
			return w.Reason()
		case <-media.Done():
			w.stop(ReasonEnded)
			return w.Reason()
		case <-ticker.C:
			if w.watch() {
				return w.Reason()
			}
		}
	}
}

// watch takes one watchdog sample and reports whether the worker is stopped.
func (w *Worker) watch() bool {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return true
	}
	if w.state == StatePaused {
		w.idleTicks = 0
		w.mu.Unlock()
		return false
	}
	media := w.media
	w.mu.Unlock()

	// A failed sample counts as unchanged: a decoder that stops reporting
	// its position is as stalled as one that reports the same value.
	st, err := media.Status()
	if err != nil {
		w.logger.Debug("watchdog sample failed", zap.Error(err))
	}

	w.mu.Lock()
	if w.state != StatePlaying {
		w.mu.Unlock()
		return w.state == StateStopped
	}
	if err == nil && st.Position != w.lastPosition {
		w.lastPosition = st.Position
		w.idleTicks = 0
		w.mu.Unlock()
		return false
	}
	w.idleTicks++
	stalled := w.idleTicks >= w.maxIdle
	idle := w.idleTicks
	position := w.lastPosition
	w.mu.Unlock()

	if !stalled {
		return false
	}
	w.logger.Warn("playback position stalled, stopping", zap.Int("idle_ticks", idle), zap.Float64("position", position))
	w.stop(ReasonStalled)
	return true
}

func (w *Worker) stop(reason StopReason) {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateStopped
	w.reason = reason
	media := w.media
	w.mu.Unlock()

	if media != nil {
		if err := media.Stop(); err != nil {
			w.logger.Warn("stop player failed", zap.Error(err))
		}
	}
	w.logger.Info("playback stopped", zap.String("reason", string(reason)))
}

// Stop ends playback. The watchdog loop exits on its next sample.
func (w *Worker) Stop() error {
	w.stop(ReasonStopped)
	return nil
}

// Reason returns why the worker stopped, or "" while it is running.
func (w *Worker) Reason() StopReason {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reason
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// running returns the media if the worker has not stopped.
func (w *Worker) running() Media {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateStopped || w.state == StateCreated {
		return nil
	}
	return w.media
}

// TogglePause flips between paused and playing.
func (w *Worker) TogglePause() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaused && w.state != StatePlaying {
		return nil
	}
	paused := w.state == StatePlaying
	if err := w.media.SetPaused(paused); err != nil {
		return err
	}
	if paused {
		w.state = StatePaused
	} else {
		w.state = StatePlaying
	}
	w.idleTicks = 0
	return nil
}

// ToggleMute flips the mute flag.
func (w *Worker) ToggleMute() error {
	media := w.running()
	if media == nil {
		return nil
	}
	if err := media.ToggleMute(); err != nil {
		return err
	}
	w.mu.Lock()
	w.muted = !w.muted
	w.mu.Unlock()
	return nil
}

// Seek moves the position by offset seconds.
func (w *Worker) Seek(offset float64) error {
	media := w.running()
	if media == nil {
		return nil
	}
	return media.Seek(offset)
}

// StepVolume raises (dir > 0) or lowers (dir < 0) the volume by one step.
func (w *Worker) StepVolume(dir int) error {
	media := w.running()
	if media == nil || dir == 0 {
		return nil
	}
	step := 1
	if dir < 0 {
		step = -1
	}
	if err := media.AddVolume(float64(step) * volumeStep); err != nil {
		return err
	}
	w.mu.Lock()
	w.volumeSteps += step
	w.mu.Unlock()
	return nil
}

// StepSpeed raises (dir > 0) or lowers (dir < 0) the playback speed by one step.
func (w *Worker) StepSpeed(dir int) error {
	media := w.running()
	if media == nil || dir == 0 {
		return nil
	}
	step := 1
	if dir < 0 {
		step = -1
	}
	if err := media.AddSpeed(float64(step) * speedStep); err != nil {
		return err
	}
	w.mu.Lock()
	w.speedSteps += step
	w.mu.Unlock()
	return nil
}

// Snapshot returns the worker's status. The position is read from the player
// when it is running; otherwise the last sampled position is reported.
func (w *Worker) Snapshot() Status {
	media := w.running()
	var position float64
	var sampled bool
	if media != nil {
		if st, err := media.Status(); err == nil {
			position = st.Position
			sampled = true
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !sampled {
		position = w.lastPosition
	}
	return Status{
		ID:          w.id,
		Path:        w.path,
		State:       w.state,
		Position:    position,
		Paused:      w.state == StatePaused,
		Muted:       w.muted,
		VolumeSteps: w.volumeSteps,
		SpeedSteps:  w.speedSteps,
		IdleTicks:   w.idleTicks,
		StartedAt:   w.startedAt,
		Media:       w.info,
	}
}
