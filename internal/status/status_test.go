package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/download"
	"github.com/xpadev-net/kiosk-agent/internal/health"
	"github.com/xpadev-net/kiosk-agent/internal/playback"
	"github.com/xpadev-net/kiosk-agent/internal/slot"
)

type idleMedia struct{ done chan struct{} }

func (m *idleMedia) Status() (playback.MediaStatus, error) {
	return playback.MediaStatus{Position: 42, Paused: true}, nil
}
func (m *idleMedia) SetPaused(bool) error    { return nil }
func (m *idleMedia) ToggleMute() error       { return nil }
func (m *idleMedia) Seek(float64) error      { return nil }
func (m *idleMedia) AddVolume(float64) error { return nil }
func (m *idleMedia) AddSpeed(float64) error  { return nil }
func (m *idleMedia) Stop() error             { return nil }
func (m *idleMedia) Done() <-chan struct{}   { return m.done }

type staticCollector struct{ report health.Report }

func (c staticCollector) Collect(context.Context) health.Report { return c.report }

type capturedPush struct {
	header http.Header
	body   []byte
}

type receiver struct {
	mu     sync.Mutex
	pushes []capturedPush
	status atomic.Int32
}

func newReceiver(t *testing.T) (*receiver, *httptest.Server) {
	t.Helper()
	r := &receiver{}
	r.status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.pushes = append(r.pushes, capturedPush{header: req.Header.Clone(), body: body})
		r.mu.Unlock()
		w.WriteHeader(int(r.status.Load()))
	}))
	t.Cleanup(server.Close)
	return r, server
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pushes)
}

func (r *receiver) last() capturedPush {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pushes[len(r.pushes)-1]
}

func activeSources(t *testing.T) Sources {
	t.Helper()
	playbackSlot := slot.New[*playback.Worker]()
	downloadSlot := slot.New[*download.Worker]()

	media := &idleMedia{done: make(chan struct{})}
	pw := playback.NewWorker("/tmp/clip.mp4", func(context.Context, string) (playback.Media, error) {
		return media, nil
	}, playback.WorkerOptions{})
	require.NoError(t, pw.Start(context.Background()))
	require.NoError(t, playbackSlot.Publish(pw))

	dw := download.NewWorker(download.Job{ID: "job-1", URL: "https://cdn.example.com/video.mp4?sig=abc", Dir: t.TempDir()}, nil)
	require.NoError(t, downloadSlot.Publish(dw))

	return Sources{
		AgentID:  "kiosk-7",
		Playback: playbackSlot,
		Download: downloadSlot,
		Depths:   func() QueueDepths { return QueueDepths{Downloads: 2, Playlist: 1} },
	}
}

func TestSnapshotPeeksActiveWorkers(t *testing.T) {
	src := activeSources(t)

	rec := Snapshot(src)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "kiosk-7", rec.AgentID)
	require.NotNil(t, rec.Playback)
	assert.Equal(t, 42.0, rec.Playback.Position)
	assert.True(t, rec.Playback.Paused)
	require.NotNil(t, rec.Download)
	assert.Equal(t, "video.mp4", rec.Download.Filename)
	assert.Equal(t, QueueDepths{Downloads: 2, Playlist: 1}, rec.Queues)

	assert.Equal(t, ActiveWorkers{Playback: true, Download: true}, rec.Active)

	pw, ok := src.Playback.TryAcquire()
	require.True(t, ok, "snapshot must leave the worker in its slot")
	src.Playback.Release(pw)
	dw, ok := src.Download.TryAcquire()
	require.True(t, ok, "snapshot must leave the worker in its slot")
	src.Download.Release(dw)
}

func TestSnapshotReportsBorrowedWorkersActive(t *testing.T) {
	src := activeSources(t)

	pw, ok := src.Playback.TryAcquire()
	require.True(t, ok)
	dw, ok := src.Download.TryAcquire()
	require.True(t, ok)

	rec := Snapshot(src)

	assert.Nil(t, rec.Playback)
	assert.Nil(t, rec.Download)
	assert.Equal(t, ActiveWorkers{Playback: true, Download: true}, rec.Active)
	assert.Equal(t, 1, src.Playback.Len())
	assert.Equal(t, 1, src.Download.Len())

	src.Playback.Release(pw)
	src.Download.Release(dw)
}

func TestSnapshotWaitsForShortBorrow(t *testing.T) {
	src := activeSources(t)

	pw, ok := src.Playback.TryAcquire()
	require.True(t, ok)
	go func() {
		time.Sleep(20 * time.Millisecond)
		src.Playback.Release(pw)
	}()

	rec := Snapshot(src)

	require.NotNil(t, rec.Playback)
	assert.Equal(t, 42.0, rec.Playback.Position)
	assert.True(t, rec.Active.Playback)
}

func TestSnapshotIdlePipeline(t *testing.T) {
	rec := Snapshot(Sources{
		Playback: slot.New[*playback.Worker](),
		Download: slot.New[*download.Worker](),
	})
	assert.Nil(t, rec.Playback)
	assert.Nil(t, rec.Download)
	assert.Equal(t, ActiveWorkers{}, rec.Active)
}

func TestClientPushSignsAndAuthenticates(t *testing.T) {
	recv, server := newReceiver(t)
	client := NewClient(server.URL, "access-123", "signing-secret", nil)

	require.NoError(t, client.Push(context.Background(), &Record{ID: "hb-1", AgentID: "kiosk-7"}))

	push := recv.last()
	assert.Equal(t, "Bearer access-123", push.header.Get("Authorization"))
	assert.Equal(t, "application/json", push.header.Get("Content-Type"))

	ts, err := strconv.ParseInt(push.header.Get(TimestampHeader), 10, 64)
	require.NoError(t, err)
	sig := strings.TrimPrefix(push.header.Get(SignatureHeader), "sha256=")
	assert.True(t, VerifySignature("signing-secret", sig, ts, push.body))
	assert.False(t, VerifySignature("other-secret", sig, ts, push.body))

	var rec Record
	require.NoError(t, json.Unmarshal(push.body, &rec))
	assert.Equal(t, "kiosk-7", rec.AgentID)
}

func TestClientPushWithoutSigningKey(t *testing.T) {
	recv, server := newReceiver(t)
	client := NewClient(server.URL, "access-123", "", nil)

	require.NoError(t, client.Push(context.Background(), &Record{}))
	assert.Empty(t, recv.last().header.Get(SignatureHeader))
}

func TestClientPushRejectedStatus(t *testing.T) {
	recv, server := newReceiver(t)
	recv.status.Store(http.StatusUnauthorized)
	client := NewClient(server.URL, "bad", "", nil)

	err := client.Push(context.Background(), &Record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, 1, recv.count(), "push must not retry")
}

func TestVerifySignatureRejectsStaleTimestamp(t *testing.T) {
	body := []byte(`{"id":"hb-1"}`)
	old := time.Now().Add(-10 * time.Minute).Unix()
	assert.False(t, VerifySignature("k", sign("k", old, body), old, body))

	now := time.Now().Unix()
	assert.True(t, VerifySignature("k", sign("k", now, body), now, body))
}

func TestReporterCycleIncludesHealth(t *testing.T) {
	recv, server := newReceiver(t)
	collector := staticCollector{report: health.Report{
		Facets: map[string]any{"version": "1a2b3c4"},
		Errors: map[string]string{"tv_no": "not installed"},
	}}
	r := NewReporter(ReporterConfig{}, activeSources(t), collector, NewClient(server.URL, "k", "", nil))

	require.NoError(t, r.Cycle(context.Background()))

	var rec Record
	require.NoError(t, json.Unmarshal(recv.last().body, &rec))
	require.NotNil(t, rec.Health)
	assert.Equal(t, "1a2b3c4", rec.Health.Facets["version"])
	assert.Equal(t, "not installed", rec.Health.Errors["tv_no"])
	require.NotNil(t, rec.Playback)
	assert.Equal(t, "/tmp/clip.mp4", rec.Playback.Path)
}

type flakyPusher struct {
	mu    sync.Mutex
	times []time.Time
	fail  int
}

func (p *flakyPusher) Push(context.Context, *Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.times = append(p.times, time.Now())
	if len(p.times) <= p.fail {
		return errors.New("controller unreachable")
	}
	return nil
}

func (p *flakyPusher) calls() []time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Time(nil), p.times...)
}

func TestReporterShortensCadenceAfterFailure(t *testing.T) {
	pusher := &flakyPusher{fail: 1}
	r := NewReporter(ReporterConfig{
		Interval:      time.Hour,
		RetryInterval: 10 * time.Millisecond,
	}, Sources{}, nil, pusher)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pusher.calls()) == 2 }, time.Second, 5*time.Millisecond)

	// After the successful retry the reporter waits the full interval.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, pusher.calls(), 2)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reporter did not stop")
	}
}

func TestReporterSelfCheckFailureIsFatal(t *testing.T) {
	var fatalMsg atomic.Value
	pusher := &flakyPusher{}
	r := NewReporter(ReporterConfig{
		SelfCheckURL: "http://127.0.0.1:1/healthz",
		Fatal: func(msg string, _ ...zap.Field) {
			fatalMsg.Store(msg)
		},
	}, Sources{}, nil, pusher)

	err := r.Run(context.Background())

	assert.Error(t, err)
	assert.NotNil(t, fatalMsg.Load())
	assert.Empty(t, pusher.calls(), "no record is pushed after a failed self check")
}

func TestReporterSelfCheckSuccess(t *testing.T) {
	self := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer self.Close()

	pusher := &flakyPusher{}
	r := NewReporter(ReporterConfig{
		Interval:     time.Hour,
		StartupDelay: 5 * time.Millisecond,
		SelfCheckURL: self.URL,
		Fatal: func(string, ...zap.Field) {
			t.Error("fatal hook must not run")
		},
	}, Sources{}, nil, pusher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pusher.calls()) == 1 }, time.Second, 5*time.Millisecond)
}
