package playback

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/log"
)

const (
	ipcDialAttempts = 50
	ipcDialInterval = 100 * time.Millisecond
	ipcCallTimeout  = 2 * time.Second
	stopGracePeriod = 3 * time.Second
)

// MPVConfig configures the mpv launcher.
type MPVConfig struct {
	Path      string
	Args      []string
	SocketDir string
}

// MPVLauncher returns a Launcher that runs mpv and drives it over its JSON
// IPC socket.
func MPVLauncher(cfg MPVConfig) Launcher {
	if cfg.Path == "" {
		cfg.Path = "mpv"
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = os.TempDir()
	}
	var seq atomic.Int64
	return func(ctx context.Context, path string) (Media, error) {
		socket := filepath.Join(cfg.SocketDir, fmt.Sprintf("kiosk-mpv-%d-%d.sock", os.Getpid(), seq.Add(1)))
		return startMPV(ctx, cfg, path, socket)
	}
}

type ipcResponse struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
}

type mpvProcess struct {
	cmd    *exec.Cmd
	socket string
	conn   net.Conn
	logger *zap.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan ipcResponse

	done     chan struct{}
	stopOnce sync.Once
}

func startMPV(ctx context.Context, cfg MPVConfig, path, socket string) (*mpvProcess, error) {
	_ = os.Remove(socket)

	args := []string{
		"--idle=no",
		"--really-quiet",
		"--input-ipc-server=" + socket,
	}
	args = append(args, cfg.Args...)
	args = append(args, "--", path)

	// The player outlives the launching request; it is torn down by Stop.
	cmd := exec.Command(cfg.Path, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mpv: %w", err)
	}

	p := &mpvProcess{
		cmd:     cmd,
		socket:  socket,
		logger:  log.Component("playlist").With(zap.String("path", path)),
		pending: make(map[int64]chan ipcResponse),
		done:    make(chan struct{}),
	}
	go p.wait()

	conn, err := p.dial(ctx)
	if err != nil {
		_ = p.Stop()
		return nil, err
	}
	p.conn = conn
	go p.readLoop()

	return p, nil
}

func (p *mpvProcess) dial(ctx context.Context) (net.Conn, error) {
	var lastErr error
	for i := 0; i < ipcDialAttempts; i++ {
		select {
		case <-p.done:
			return nil, fmt.Errorf("mpv exited before opening its IPC socket")
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		conn, err := net.Dial("unix", p.socket)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(ipcDialInterval)
	}
	return nil, fmt.Errorf("connect mpv ipc: %w", lastErr)
}

func (p *mpvProcess) wait() {
	err := p.cmd.Wait()
	if err != nil {
		p.logger.Debug("mpv exited", zap.Error(err))
	}
	_ = os.Remove(p.socket)
	close(p.done)
}

func (p *mpvProcess) readLoop() {
	scanner := bufio.NewScanner(p.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var resp ipcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Event != "" {
			continue
		}
		p.pendingMu.Lock()
		ch, ok := p.pending[resp.RequestID]
		delete(p.pending, resp.RequestID)
		p.pendingMu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (p *mpvProcess) call(args ...any) (json.RawMessage, error) {
	select {
	case <-p.done:
		return nil, ErrNotRunning
	default:
	}

	id := p.nextID.Add(1)
	ch := make(chan ipcResponse, 1)
	p.pendingMu.Lock()
	p.pending[id] = ch
	p.pendingMu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"command":    args,
		"request_id": id,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ipc command: %w", err)
	}

	p.writeMu.Lock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(ipcCallTimeout))
	_, err = p.conn.Write(append(payload, '\n'))
	p.writeMu.Unlock()
	if err != nil {
		p.dropPending(id)
		return nil, fmt.Errorf("write ipc command: %w", err)
	}

	timer := time.NewTimer(ipcCallTimeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		if resp.Error != "success" {
			return nil, fmt.Errorf("mpv %v: %s", args[0], resp.Error)
		}
		return resp.Data, nil
	case <-p.done:
		p.dropPending(id)
		return nil, ErrNotRunning
	case <-timer.C:
		p.dropPending(id)
		return nil, fmt.Errorf("mpv %v: timed out", args[0])
	}
}

func (p *mpvProcess) dropPending(id int64) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

func (p *mpvProcess) getFloat(name string) (float64, error) {
	data, err := p.call("get_property", name)
	if err != nil {
		return 0, err
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}

func (p *mpvProcess) getBool(name string) (bool, error) {
	data, err := p.call("get_property", name)
	if err != nil {
		return false, err
	}
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}

func (p *mpvProcess) Status() (MediaStatus, error) {
	var st MediaStatus
	var err error
	if st.Position, err = p.getFloat("time-pos"); err != nil {
		return st, err
	}
	if st.Paused, err = p.getBool("pause"); err != nil {
		return st, err
	}
	// The remaining properties are informational.
	st.Duration, _ = p.getFloat("duration")
	st.Muted, _ = p.getBool("mute")
	st.Volume, _ = p.getFloat("volume")
	st.Speed, _ = p.getFloat("speed")
	return st, nil
}

func (p *mpvProcess) SetPaused(paused bool) error {
	_, err := p.call("set_property", "pause", paused)
	return err
}

func (p *mpvProcess) ToggleMute() error {
	_, err := p.call("cycle", "mute")
	return err
}

func (p *mpvProcess) Seek(offset float64) error {
	_, err := p.call("seek", offset, "relative")
	return err
}

func (p *mpvProcess) AddVolume(delta float64) error {
	_, err := p.call("add", "volume", delta)
	return err
}

func (p *mpvProcess) AddSpeed(delta float64) error {
	_, err := p.call("add", "speed", delta)
	return err
}

func (p *mpvProcess) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if p.conn != nil {
			if _, qerr := p.call("quit"); qerr != nil && !errors.Is(qerr, ErrNotRunning) {
				p.logger.Debug("mpv quit failed, killing", zap.Error(qerr))
			}
		}
		select {
		case <-p.done:
		case <-time.After(stopGracePeriod):
			if kerr := p.cmd.Process.Kill(); kerr != nil {
				err = fmt.Errorf("kill mpv: %w", kerr)
			}
		}
		if p.conn != nil {
			_ = p.conn.Close()
		}
	})
	return err
}

func (p *mpvProcess) Done() <-chan struct{} {
	return p.done
}
