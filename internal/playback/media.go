package playback

import (
	"context"
	"errors"
)

var (
	// ErrNotRunning is returned by a backend whose player process has exited.
	ErrNotRunning = errors.New("player not running")
)

// MediaStatus is a sample of the backend's playback properties.
type MediaStatus struct {
	Position float64
	Duration float64
	Paused   bool
	Muted    bool
	Volume   float64
	Speed    float64
}

// Media is a running player process bound to one file. Implementations
// must be safe for use from the worker's watchdog and from command calls.
type Media interface {
	Status() (MediaStatus, error)
	SetPaused(paused bool) error
	ToggleMute() error
	// Seek moves the playback position by offset seconds.
	Seek(offset float64) error
	AddVolume(delta float64) error
	AddSpeed(delta float64) error
	// Stop terminates playback. Calling it more than once is allowed.
	Stop() error
	// Done is closed once the player process has exited.
	Done() <-chan struct{}
}

// Launcher starts a player for path.
type Launcher func(ctx context.Context, path string) (Media, error)
