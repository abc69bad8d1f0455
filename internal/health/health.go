// Package health gathers the best-effort host facts attached to status records.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/log"
)

const defaultFacetTimeout = 5 * time.Second

// Facet is one independently collected piece of host information.
type Facet interface {
	Name() string
	Collect(ctx context.Context) (any, error)
}

type funcFacet struct {
	name string
	fn   func(ctx context.Context) (any, error)
}

func (f funcFacet) Name() string { return f.name }

func (f funcFacet) Collect(ctx context.Context) (any, error) { return f.fn(ctx) }

// FacetFunc adapts fn into a Facet.
func FacetFunc(name string, fn func(ctx context.Context) (any, error)) Facet {
	return funcFacet{name: name, fn: fn}
}

// Report holds collected facet values. A facet appears in exactly one map.
type Report struct {
	Facets map[string]any    `json:"facets"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Collector runs every facet in parallel, each bounded by its own timeout.
type Collector struct {
	facets  []Facet
	timeout time.Duration
	logger  *zap.Logger
}

// NewCollector creates a collector. timeout <= 0 uses a 5s default.
func NewCollector(timeout time.Duration, facets ...Facet) *Collector {
	if timeout <= 0 {
		timeout = defaultFacetTimeout
	}
	return &Collector{
		facets:  facets,
		timeout: timeout,
		logger:  log.Component("status"),
	}
}

// Collect gathers all facets. It never fails; facet errors land in Report.Errors.
func (c *Collector) Collect(ctx context.Context) Report {
	report := Report{
		Facets: make(map[string]any, len(c.facets)),
		Errors: make(map[string]string),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, f := range c.facets {
		wg.Add(1)
		go func(f Facet) {
			defer wg.Done()
			value, err := c.collectOne(ctx, f)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors[f.Name()] = err.Error()
				c.logger.Debug("health facet unavailable", zap.String("facet", f.Name()), zap.Error(err))
				return
			}
			report.Facets[f.Name()] = value
		}(f)
	}
	wg.Wait()

	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	return report
}

func (c *Collector) collectOne(ctx context.Context, f Facet) (value any, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("facet panicked: %v", r)
		}
	}()
	return f.Collect(ctx)
}
