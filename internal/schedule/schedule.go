// Package schedule enqueues operator commands on cron schedules.
package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/command"
	"github.com/xpadev-net/kiosk-agent/internal/config"
	"github.com/xpadev-net/kiosk-agent/internal/log"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns a cron runner whose jobs enqueue commands.
type Scheduler struct {
	cron    *cron.Cron
	entries []config.ScheduleEntry
	logger  *zap.Logger
}

// New validates entries and registers them. enqueue is called from the cron
// goroutine and must not block.
func New(entries []config.ScheduleEntry, enqueue func(command.Command)) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: entries,
		logger:  log.Component("schedule"),
	}

	for _, e := range entries {
		cmd, ok := command.Parse(e.Command)
		if !ok {
			return nil, fmt.Errorf("schedule %q: unknown command %q", e.Spec, e.Command)
		}
		spec := e.Spec
		if _, err := s.cron.AddFunc(spec, func() {
			s.logger.Info("scheduled command", zap.String("spec", spec), zap.String("command", string(cmd)))
			enqueue(cmd)
		}); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", spec, err)
		}
	}
	return s, nil
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Run starts the cron runner and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.entries) == 0 {
		<-ctx.Done()
		return nil
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("entries", len(s.entries)))
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}
