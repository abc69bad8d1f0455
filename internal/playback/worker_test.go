package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	mu       sync.Mutex
	position float64
	advance  float64
	paused   bool
	muted    bool
	volume   float64
	speed    float64
	seeks    []float64
	stops    int
	done     chan struct{}
	doneOnce sync.Once

	statusErr error
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{volume: 100, speed: 1, done: make(chan struct{})}
}

func (m *fakeMedia) Status() (MediaStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr != nil {
		return MediaStatus{}, m.statusErr
	}
	if !m.paused {
		m.position += m.advance
	}
	return MediaStatus{Position: m.position, Paused: m.paused, Muted: m.muted, Volume: m.volume, Speed: m.speed}, nil
}

func (m *fakeMedia) SetPaused(paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
	return nil
}

func (m *fakeMedia) ToggleMute() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = !m.muted
	return nil
}

func (m *fakeMedia) Seek(offset float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seeks = append(m.seeks, offset)
	m.position += offset
	return nil
}

func (m *fakeMedia) AddVolume(delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume += delta
	return nil
}

func (m *fakeMedia) AddSpeed(delta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed += delta
	return nil
}

func (m *fakeMedia) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	m.exit()
	return nil
}

func (m *fakeMedia) Done() <-chan struct{} { return m.done }

func (m *fakeMedia) exit() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *fakeMedia) setAdvance(v float64) {
	m.mu.Lock()
	m.advance = v
	m.mu.Unlock()
}

func (m *fakeMedia) stopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func launcherFor(m *fakeMedia) Launcher {
	return func(context.Context, string) (Media, error) { return m, nil }
}

func fastOptions() WorkerOptions {
	return WorkerOptions{WatchdogInterval: 5 * time.Millisecond, WatchdogTicks: 3}
}

func startWorker(t *testing.T, m *fakeMedia, opts WorkerOptions) *Worker {
	t.Helper()
	w := NewWorker("/tmp/clip.mp4", launcherFor(m), opts)
	require.Equal(t, StateCreated, w.State())
	require.NoError(t, w.Start(context.Background()))
	return w
}

func TestWorkerStartsPaused(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())

	assert.Equal(t, StatePaused, w.State())
	st, _ := m.Status()
	assert.True(t, st.Paused)

	snap := w.Snapshot()
	assert.True(t, snap.Paused)
	assert.Equal(t, "/tmp/clip.mp4", snap.Path)
	assert.NotEmpty(t, snap.ID)
}

func TestWorkerTogglePause(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())

	require.NoError(t, w.TogglePause())
	assert.Equal(t, StatePlaying, w.State())
	require.NoError(t, w.TogglePause())
	assert.Equal(t, StatePaused, w.State())
}

func TestWorkerStartFailure(t *testing.T) {
	launchErr := errors.New("no such player")
	w := NewWorker("/tmp/clip.mp4", func(context.Context, string) (Media, error) {
		return nil, launchErr
	}, fastOptions())

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, launchErr)
	assert.Equal(t, StateStopped, w.State())
}

func TestWatchdogStopsStalledPlayback(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())
	require.NoError(t, w.TogglePause())

	reason := w.Run(context.Background())

	assert.Equal(t, ReasonStalled, reason)
	assert.Equal(t, StateStopped, w.State())
	assert.Equal(t, 1, m.stopCount())
}

func TestWatchdogStopsWhenPositionUnavailable(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())
	require.NoError(t, w.TogglePause())
	m.mu.Lock()
	m.statusErr = errors.New("property unavailable")
	m.mu.Unlock()

	reason := w.Run(context.Background())

	assert.Equal(t, ReasonStalled, reason)
	assert.Equal(t, 1, m.stopCount())
}

func TestWatchdogIgnoresPausedPlayback(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	reason := w.Run(ctx)

	// Only the context ended the run; the stalled position never counted.
	assert.Equal(t, ReasonStopped, reason)
	assert.Equal(t, 0, w.Snapshot().IdleTicks)
}

func TestWatchdogKeepsAdvancingPlayback(t *testing.T) {
	m := newFakeMedia()
	m.setAdvance(1)
	w := startWorker(t, m, fastOptions())
	require.NoError(t, w.TogglePause())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	reason := w.Run(ctx)

	assert.Equal(t, ReasonStopped, reason)
}

func TestWorkerRunEndsWithPlayer(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, WorkerOptions{WatchdogInterval: time.Hour})

	go m.exit()
	reason := w.Run(context.Background())

	assert.Equal(t, ReasonEnded, reason)
	assert.Equal(t, StateStopped, w.State())
}

func TestWorkerStopIsObservedByRun(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())

	done := make(chan StopReason, 1)
	go func() { done <- w.Run(context.Background()) }()

	require.NoError(t, w.Stop())
	select {
	case reason := <-done:
		assert.Equal(t, ReasonStopped, reason)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	require.NoError(t, w.Stop())
	assert.Equal(t, 1, m.stopCount())
}

func TestWorkerControls(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())

	require.NoError(t, w.ToggleMute())
	require.NoError(t, w.Seek(SeekForward30))
	require.NoError(t, w.Seek(SeekBack600))
	require.NoError(t, w.StepVolume(1))
	require.NoError(t, w.StepVolume(1))
	require.NoError(t, w.StepVolume(-1))
	require.NoError(t, w.StepSpeed(-1))

	snap := w.Snapshot()
	assert.True(t, snap.Muted)
	assert.Equal(t, 1, snap.VolumeSteps)
	assert.Equal(t, -1, snap.SpeedSteps)
	assert.Equal(t, []float64{30, -600}, m.seeks)
	assert.Equal(t, 105.0, m.volume)
	assert.Equal(t, 0.75, m.speed)
}

func TestWorkerCommandsAfterStopAreNoops(t *testing.T) {
	m := newFakeMedia()
	w := startWorker(t, m, fastOptions())
	require.NoError(t, w.Stop())

	assert.NoError(t, w.TogglePause())
	assert.NoError(t, w.ToggleMute())
	assert.NoError(t, w.Seek(SeekForward600))
	assert.NoError(t, w.StepVolume(1))
	assert.NoError(t, w.StepSpeed(1))

	assert.Equal(t, StateStopped, w.State())
	assert.Empty(t, m.seeks)
	assert.False(t, m.muted)
}

type stubProber struct {
	info *MediaInfo
	err  error
}

func (p stubProber) Probe(string) (*MediaInfo, error) { return p.info, p.err }

func TestWorkerAttachesProbeInfo(t *testing.T) {
	m := newFakeMedia()
	opts := fastOptions()
	opts.Prober = stubProber{info: &MediaInfo{Duration: 12.5, VideoCodec: "h264"}}
	w := startWorker(t, m, opts)

	snap := w.Snapshot()
	require.NotNil(t, snap.Media)
	assert.Equal(t, 12.5, snap.Media.Duration)
}

func TestWorkerProbeFailureIsNotFatal(t *testing.T) {
	m := newFakeMedia()
	opts := fastOptions()
	opts.Prober = stubProber{err: errors.New("ffprobe missing")}
	w := startWorker(t, m, opts)

	assert.Equal(t, StatePaused, w.State())
	assert.Nil(t, w.Snapshot().Media)
}
