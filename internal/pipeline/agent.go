// Package pipeline wires the download, playlist, command and status loops
// around their shared queues and slots.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/command"
	"github.com/xpadev-net/kiosk-agent/internal/config"
	"github.com/xpadev-net/kiosk-agent/internal/download"
	"github.com/xpadev-net/kiosk-agent/internal/history"
	"github.com/xpadev-net/kiosk-agent/internal/ids"
	"github.com/xpadev-net/kiosk-agent/internal/log"
	"github.com/xpadev-net/kiosk-agent/internal/playback"
	"github.com/xpadev-net/kiosk-agent/internal/queue"
	"github.com/xpadev-net/kiosk-agent/internal/schedule"
	"github.com/xpadev-net/kiosk-agent/internal/slot"
	"github.com/xpadev-net/kiosk-agent/internal/status"
)

// ErrInvalidURL is returned for download URLs that are not absolute http(s).
var ErrInvalidURL = errors.New("invalid download url")

// Deps are the collaborators an Agent talks to. Nil fields take production
// defaults derived from the config.
type Deps struct {
	HTTPClient *http.Client
	Launcher   playback.Launcher
	Prober     playback.Prober
	System     command.SystemActions
	Collector  status.HealthCollector
	Pusher     status.Pusher
	History    history.Recorder
	Fatal      func(msg string, fields ...zap.Field)
}

// Agent owns the pipeline.
type Agent struct {
	cfg *config.AgentConfig

	downloads *queue.Queue[download.Job]
	playlist  *queue.Queue[string]
	commands  *queue.Queue[string]

	downloadSlot *slot.Slot[*download.Worker]
	playbackSlot *slot.Slot[*playback.Worker]

	downloader *download.Dispatcher
	player     *playback.Dispatcher
	dispatcher *command.Dispatcher[*playback.Worker, *download.Worker, download.Job]
	reporter   *status.Reporter
	scheduler  *schedule.Scheduler
	history    history.Recorder

	logger *zap.Logger
}

// New builds an Agent. It does not start any loop.
func New(cfg *config.AgentConfig, deps Deps) (*Agent, error) {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: cfg.DownloadTimeout}
	}
	if deps.Launcher == nil {
		deps.Launcher = playback.MPVLauncher(playback.MPVConfig{
			Path:      cfg.PlayerPath,
			Args:      cfg.PlayerArgs,
			SocketDir: cfg.PlayerSocketDir,
		})
	}
	if deps.Prober == nil {
		deps.Prober = playback.FFProbe{Timeout: cfg.ProbeTimeout}
	}
	if deps.System == nil {
		deps.System = command.NewExecActions(cfg.RepoDir)
	}
	if deps.Pusher == nil {
		deps.Pusher = status.NewClient(cfg.HeartbeatURL, cfg.AccessKey, cfg.SigningKey, nil)
	}
	if deps.History == nil {
		deps.History = history.Nop{}
	}

	a := &Agent{
		cfg:          cfg,
		downloads:    queue.New[download.Job](),
		playlist:     queue.New[string](),
		commands:     queue.New[string](),
		downloadSlot: slot.New[*download.Worker](),
		playbackSlot: slot.New[*playback.Worker](),
		history:      deps.History,
		logger:       log.Component("pipeline"),
	}

	a.downloader = download.NewDispatcher(cfg.ScratchDir, a.downloads, a.downloadSlot, a.playlist, deps.HTTPClient, deps.History)
	a.player = playback.NewDispatcher(a.playlist, a.playbackSlot, deps.Launcher, playback.WorkerOptions{
		WatchdogInterval: cfg.WatchdogInterval,
		WatchdogTicks:    cfg.WatchdogTicks,
		Prober:           deps.Prober,
	}, deps.History)
	a.dispatcher = command.NewDispatcher(command.Config[*playback.Worker, *download.Worker, download.Job]{
		Commands:       a.commands,
		Downloads:      a.downloads,
		Playlist:       a.playlist,
		Playback:       a.playbackSlot,
		Download:       a.downloadSlot,
		System:         deps.System,
		AcquireTimeout: cfg.CommandAcquireTimeout,
	})
	a.reporter = status.NewReporter(status.ReporterConfig{
		Interval:      cfg.StatusInterval,
		RetryInterval: cfg.StatusRetryInterval,
		StartupDelay:  cfg.StatusStartupDelay,
		SelfCheckURL:  cfg.SelfCheckURL,
		Fatal:         deps.Fatal,
	}, a.Sources(), deps.Collector, deps.Pusher)

	scheduler, err := schedule.New(cfg.Schedule, func(c command.Command) {
		a.commands.Put(string(c))
	})
	if err != nil {
		return nil, err
	}
	a.scheduler = scheduler

	return a, nil
}

// Run starts every long-lived loop and blocks until ctx is done and all
// loops have returned.
func (a *Agent) Run(ctx context.Context) error {
	loops := []struct {
		name string
		run  func(context.Context) error
	}{
		{"download", a.downloader.Run},
		{"playlist", a.player.Run},
		{"command", a.dispatcher.Run},
		{"status", a.reporter.Run},
		{"schedule", a.scheduler.Run},
	}

	var wg sync.WaitGroup
	errs := make([]error, len(loops))
	for i, loop := range loops {
		wg.Add(1)
		go func(i int, name string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				a.logger.Error("loop exited with error", zap.String("loop", name), zap.Error(err))
				errs[i] = fmt.Errorf("%s: %w", name, err)
			}
		}(i, loop.name, loop.run)
	}

	a.logger.Info("pipeline started", zap.String("scratch_dir", a.cfg.ScratchDir))
	wg.Wait()
	a.logger.Info("pipeline stopped")
	return errors.Join(errs...)
}

// EnqueueDownload validates rawURL and queues a download job.
func (a *Agent) EnqueueDownload(rawURL string) (download.Job, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return download.Job{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	job := download.Job{
		ID:       ids.NewJobID(),
		URL:      u.String(),
		Enqueued: time.Now(),
	}
	a.downloads.Put(job)
	a.logger.Info("download queued", zap.String("job_id", job.ID), zap.String("url", job.URL))
	return job, nil
}

// EnqueueCommand queues a command token. Unknown tokens are queued too and
// dropped by the dispatcher; known reports whether the token is recognized.
func (a *Agent) EnqueueCommand(raw string) (known bool) {
	_, known = command.Parse(raw)
	a.commands.Put(raw)
	return known
}

// PendingPlaylist returns the files waiting for playback, in order.
func (a *Agent) PendingPlaylist() []string {
	return a.playlist.Snapshot()
}

// PendingDownloads returns the queued download jobs, in order.
func (a *Agent) PendingDownloads() []download.Job {
	return a.downloads.Snapshot()
}

// Sources exposes the pipeline state for status records.
func (a *Agent) Sources() status.Sources {
	return status.Sources{
		AgentID:  a.cfg.AgentID,
		Playback: a.playbackSlot,
		Download: a.downloadSlot,
		Depths: func() status.QueueDepths {
			return status.QueueDepths{
				Downloads: a.downloads.Len(),
				Playlist:  a.playlist.Len(),
				Commands:  a.commands.Len(),
			}
		},
	}
}

// Snapshot returns the local status record without health facets.
func (a *Agent) Snapshot() *status.Record {
	return status.Snapshot(a.Sources())
}

// History returns the journal, which is a no-op when no database is set.
func (a *Agent) History() history.Recorder {
	return a.history
}
