package status

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/health"
	"github.com/xpadev-net/kiosk-agent/internal/log"
)

// Pusher delivers records.
type Pusher interface {
	Push(ctx context.Context, rec *Record) error
}

// HealthCollector gathers health facets.
type HealthCollector interface {
	Collect(ctx context.Context) health.Report
}

// ReporterConfig configures a Reporter. Zero durations take the defaults.
type ReporterConfig struct {
	Interval      time.Duration
	RetryInterval time.Duration
	StartupDelay  time.Duration
	SelfCheckURL  string
	// Fatal is called when the self check fails. Defaults to log.Fatal.
	Fatal func(msg string, fields ...zap.Field)
}

// Reporter periodically pushes a status record.
type Reporter struct {
	cfg        ReporterConfig
	sources    Sources
	collector  HealthCollector
	pusher     Pusher
	httpClient *http.Client
	logger     *zap.Logger
}

// NewReporter creates a reporter.
func NewReporter(cfg ReporterConfig, sources Sources, collector HealthCollector, pusher Pusher) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.Fatal == nil {
		cfg.Fatal = log.Fatal
	}
	return &Reporter{
		cfg:        cfg,
		sources:    sources,
		collector:  collector,
		pusher:     pusher,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     log.Component("status"),
	}
}

// Run waits the startup delay, verifies the agent can reach itself, then
// reports until ctx is done. A failed self check calls the Fatal hook.
func (r *Reporter) Run(ctx context.Context) error {
	if !sleep(ctx, r.cfg.StartupDelay) {
		return nil
	}

	if r.cfg.SelfCheckURL != "" {
		if err := r.selfCheck(ctx); err != nil {
			r.cfg.Fatal("self check failed, exiting for restart",
				zap.String("url", r.cfg.SelfCheckURL),
				zap.Error(err),
			)
			return err
		}
	}

	r.logger.Info("status reporter started", zap.Duration("interval", r.cfg.Interval))
	for {
		wait := r.cfg.Interval
		if err := r.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("status push failed", zap.Error(err))
			wait = r.cfg.RetryInterval
		}
		if !sleep(ctx, wait) {
			r.logger.Info("status reporter stopped")
			return nil
		}
	}
}

// Cycle collects and pushes one record.
func (r *Reporter) Cycle(ctx context.Context) error {
	rec := Snapshot(r.sources)
	if r.collector != nil {
		report := r.collector.Collect(ctx)
		rec.Health = &report
	}
	return r.pusher.Push(ctx, rec)
}

func (r *Reporter) selfCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.SelfCheckURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("self check returned status %d", resp.StatusCode)
	}
	return nil
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
