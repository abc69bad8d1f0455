package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/queue"
	"github.com/xpadev-net/kiosk-agent/internal/slot"
)

// DefaultAcquireTimeout bounds the wait for an active playback worker.
const DefaultAcquireTimeout = 3 * time.Second

// downloadAcquireTimeout bounds the wait for the download worker during stop.
// The download slot is only ever borrowed briefly by the status reporter.
const downloadAcquireTimeout = 250 * time.Millisecond

// Player is the playback control surface a command can reach.
type Player interface {
	TogglePause() error
	ToggleMute() error
	Seek(offset float64) error
	StepVolume(dir int) error
	StepSpeed(dir int) error
	Stop() error
}

// Canceller is an interruptible download.
type Canceller interface {
	Cancel()
}

// Dispatcher consumes the command queue one command at a time.
type Dispatcher[P Player, C Canceller, J any] struct {
	commands       *queue.Queue[string]
	downloads      *queue.Queue[J]
	playlist       *queue.Queue[string]
	playback       *slot.Slot[P]
	download       *slot.Slot[C]
	system         SystemActions
	acquireTimeout time.Duration
	logger         *zap.Logger
}

// Config wires a Dispatcher to the pipeline.
type Config[P Player, C Canceller, J any] struct {
	Commands       *queue.Queue[string]
	Downloads      *queue.Queue[J]
	Playlist       *queue.Queue[string]
	Playback       *slot.Slot[P]
	Download       *slot.Slot[C]
	System         SystemActions
	AcquireTimeout time.Duration
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher[P Player, C Canceller, J any](cfg Config[P, C, J]) *Dispatcher[P, C, J] {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultAcquireTimeout
	}
	return &Dispatcher[P, C, J]{
		commands:       cfg.Commands,
		downloads:      cfg.Downloads,
		playlist:       cfg.Playlist,
		playback:       cfg.Playback,
		download:       cfg.Download,
		system:         cfg.System,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         log.Component("command"),
	}
}

// Run blocks on the command queue until ctx is done.
func (d *Dispatcher[P, C, J]) Run(ctx context.Context) error {
	d.logger.Info("command dispatcher started")
	for {
		raw, err := d.commands.Get(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				d.logger.Info("command dispatcher stopped")
				return nil
			}
			return err
		}
		if err := d.Apply(ctx, raw); err != nil {
			d.logger.Warn("command failed", zap.String("command", raw), zap.Error(err))
		}
	}
}

// Apply executes one command token. Unknown tokens are ignored.
func (d *Dispatcher[P, C, J]) Apply(ctx context.Context, raw string) error {
	cmd, ok := Parse(raw)
	if !ok {
		d.logger.Debug("ignoring unknown command", zap.String("command", raw))
		return nil
	}
	d.logger.Info("applying command", zap.String("command", raw))

	switch cmd {
	case Reboot:
		if d.system == nil {
			return nil
		}
		return d.system.Reboot(ctx)
	case Update:
		if d.system == nil {
			return nil
		}
		return d.system.Update(ctx)
	case Stop:
		return d.stop(ctx)
	case Next:
		if d.playlist.Len() == 0 {
			return nil
		}
		return d.withPlayer(ctx, func(p P) error { return p.Stop() })
	default:
		return d.withPlayer(ctx, func(p P) error { return forward(cmd, p) })
	}
}

func forward(cmd Command, p Player) error {
	if offset, ok := cmd.seekOffset(); ok {
		return p.Seek(offset)
	}
	switch cmd {
	case Pause:
		return p.TogglePause()
	case Mute:
		return p.ToggleMute()
	case IncVol:
		return p.StepVolume(1)
	case DecVol:
		return p.StepVolume(-1)
	case IncSpeed:
		return p.StepSpeed(1)
	case DecSpeed:
		return p.StepSpeed(-1)
	}
	return fmt.Errorf("command %q is not a playback command", cmd)
}

// withPlayer borrows the active playback worker, if any appears within the
// acquire timeout, and always returns it to its slot.
func (d *Dispatcher[P, C, J]) withPlayer(ctx context.Context, fn func(P) error) (err error) {
	p, ok := d.playback.Acquire(ctx, d.acquireTimeout)
	if !ok {
		d.logger.Debug("no active playback worker")
		return nil
	}
	defer d.playback.Release(p)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("playback command panicked: %v", r)
		}
	}()
	return fn(p)
}

// stop cancels the running download before draining, so a transfer that
// completes meanwhile cannot refill the emptied playlist.
func (d *Dispatcher[P, C, J]) stop(ctx context.Context) error {
	if c, ok := d.download.Acquire(ctx, downloadAcquireTimeout); ok {
		c.Cancel()
		d.download.Release(c)
	}

	dropped := len(d.downloads.Drain())
	skipped := len(d.playlist.Drain())
	d.logger.Info("pipeline stop",
		zap.Int("dropped_downloads", dropped),
		zap.Int("dropped_playlist", skipped),
	)

	return d.withPlayer(ctx, func(p P) error { return p.Stop() })
}
