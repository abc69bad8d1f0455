package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/log"
)

// ChunkSize bounds each read/write step. Progress and the cancel flag are
// observed once per chunk.
const ChunkSize = 16 * 1024

var (
	// ErrUnexpectedStatus is returned when the source answers with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// Job is a single queued download.
type Job struct {
	ID       string    `json:"id"`
	URL      string    `json:"url"`
	Dir      string    `json:"dir"`
	Enqueued time.Time `json:"enqueued_at"`
}

// Progress is a point-in-time view of a running download. Total is 0 when
// the source did not declare a content length.
type Progress struct {
	JobID       string  `json:"job_id"`
	URL         string  `json:"url"`
	Path        string  `json:"path"`
	Filename    string  `json:"filename"`
	Transferred int64   `json:"transferred"`
	Total       int64   `json:"total"`
	Elapsed     float64 `json:"elapsed_sec"`
	Rate        float64 `json:"rate_bps"`
}

// Worker streams one URL to a file under the job directory.
type Worker struct {
	job        Job
	path       string
	httpClient *http.Client

	transferred atomic.Int64
	total       atomic.Int64
	startedAt   atomic.Int64 // unix nanoseconds, 0 before the response arrives
	cancel      atomic.Bool
}

// NewWorker creates a worker for job. The destination path is fixed at
// construction so it can be reported before the transfer starts.
func NewWorker(job Job, httpClient *http.Client) *Worker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Worker{
		job:        job,
		path:       filepath.Join(job.Dir, FilenameFromURL(job.URL)),
		httpClient: httpClient,
	}
}

// FilenameFromURL derives the local file name from a source URL: the query
// string and fragment are stripped and the last path segment is kept. An
// empty segment or a dot segment falls back to "download" so the file always
// lands inside the scratch directory.
func FilenameFromURL(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	name := p[strings.LastIndex(p, "/")+1:]
	if name == "" || name == "." || name == ".." {
		return "download"
	}
	return path.Base(name)
}

// Job returns the job this worker serves.
func (w *Worker) Job() Job {
	return w.job
}

// Path returns the destination file path.
func (w *Worker) Path() string {
	return w.path
}

// Cancel asks the worker to stop after its current chunk.
func (w *Worker) Cancel() {
	w.cancel.Store(true)
}

// Cancelled reports whether Cancel was called.
func (w *Worker) Cancelled() bool {
	return w.cancel.Load()
}

// Progress returns the current transfer counters. Safe to call while Run
// is writing.
func (w *Worker) Progress() Progress {
	p := Progress{
		JobID:       w.job.ID,
		URL:         w.job.URL,
		Path:        w.path,
		Filename:    filepath.Base(w.path),
		Transferred: w.transferred.Load(),
		Total:       w.total.Load(),
	}
	if started := w.startedAt.Load(); started > 0 {
		elapsed := time.Since(time.Unix(0, started)).Seconds()
		p.Elapsed = elapsed
		if elapsed > 0 {
			p.Rate = float64(p.Transferred) / elapsed
		}
	}
	return p
}

// Run performs the transfer. It returns nil both on completion and on
// cancellation; callers distinguish the two with Cancelled. A cancelled
// transfer leaves the partial file in place.
func (w *Worker) Run(ctx context.Context) error {
	logger := log.Component("download").With(
		zap.String("job_id", w.job.ID),
		zap.String("url", w.job.URL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.job.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if resp.ContentLength > 0 {
		w.total.Store(resp.ContentLength)
	}
	w.startedAt.Store(time.Now().UnixNano())

	f, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()

	logger.Info("download started",
		zap.String("path", w.path),
		zap.Int64("total", w.total.Load()),
	)

	buf := make([]byte, ChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return fmt.Errorf("write file: %w", err)
			}
			w.transferred.Add(int64(n))
			if w.cancel.Load() {
				logger.Info("download cancelled",
					zap.Int64("transferred", w.transferred.Load()),
				)
				return nil
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return fmt.Errorf("read body: %w", readErr)
		}
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync file: %w", err)
	}

	logger.Info("download completed",
		zap.String("path", w.path),
		zap.Int64("transferred", w.transferred.Load()),
	)
	return nil
}
