package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
)

// Runner executes a command in dir and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) (string, error)

// ExecRunner runs a real process.
func ExecRunner(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w (stderr: %s)", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Version reports the short commit hash of the checkout in repoDir.
func Version(repoDir string, run Runner) Facet {
	return FacetFunc("version", func(ctx context.Context) (any, error) {
		out, err := run(ctx, repoDir, "git", "rev-parse", "--short", "HEAD")
		if err != nil {
			return nil, err
		}
		return strings.TrimSpace(out), nil
	})
}

var measureTempPattern = regexp.MustCompile(`temp=([0-9.]+)`)

// Temperature reports the hottest sensor in degrees Celsius. Hosts without
// readable sensors fall back to vcgencmd.
func Temperature(run Runner) Facet {
	return FacetFunc("temperature", func(ctx context.Context) (any, error) {
		temps, err := sensors.TemperaturesWithContext(ctx)
		var hottest float64
		var found bool
		for _, t := range temps {
			if t.Temperature > 0 && (!found || t.Temperature > hottest) {
				hottest = t.Temperature
				found = true
			}
		}
		if found {
			return hottest, nil
		}

		out, vErr := run(ctx, "", "vcgencmd", "measure_temp")
		if vErr != nil {
			return nil, errors.Join(err, vErr)
		}
		return parseMeasureTemp(out)
	})
}

func parseMeasureTemp(out string) (float64, error) {
	m := measureTempPattern.FindStringSubmatch(out)
	if m == nil {
		return 0, fmt.Errorf("unexpected vcgencmd output %q", strings.TrimSpace(out))
	}
	return strconv.ParseFloat(m[1], 64)
}

// IPAddr reports the addresses of every non-loopback interface.
func IPAddr() Facet {
	return FacetFunc("ip_addr", func(ctx context.Context) (any, error) {
		ifaces, err := net.InterfacesWithContext(ctx)
		if err != nil {
			return nil, err
		}
		addrs := make(map[string][]string)
		for _, iface := range ifaces {
			if containsFlag(iface.Flags, "loopback") || len(iface.Addrs) == 0 {
				continue
			}
			list := make([]string, 0, len(iface.Addrs))
			for _, a := range iface.Addrs {
				list = append(list, a.Addr)
			}
			sort.Strings(list)
			addrs[iface.Name] = list
		}
		return addrs, nil
	})
}

func containsFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

var teamViewerIDPattern = regexp.MustCompile(`(?i)TeamViewer ID:\s*(?:\x1b\[[0-9;]*m)*\s*([0-9]+)`)

// TeamViewerID reports the remote-support ID printed by `teamviewer info`.
func TeamViewerID(run Runner) Facet {
	return FacetFunc("tv_no", func(ctx context.Context) (any, error) {
		out, err := run(ctx, "", "teamviewer", "info")
		if err != nil {
			return nil, err
		}
		return parseTeamViewerID(out)
	})
}

func parseTeamViewerID(out string) (string, error) {
	m := teamViewerIDPattern.FindStringSubmatch(out)
	if m == nil {
		return "", errors.New("teamviewer id not found")
	}
	return m[1], nil
}

// Uptime reports host uptime in seconds.
func Uptime() Facet {
	return FacetFunc("uptime", func(ctx context.Context) (any, error) {
		secs, err := host.UptimeWithContext(ctx)
		if err != nil {
			return nil, err
		}
		return (time.Duration(secs) * time.Second).String(), nil
	})
}

// DiskUsage summarizes the filesystem holding path.
type DiskUsage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	UsedPercent float64 `json:"used_percent"`
}

// Disk reports usage of the filesystem holding path.
func Disk(path string) Facet {
	return FacetFunc("disk", func(ctx context.Context) (any, error) {
		usage, err := disk.UsageWithContext(ctx, path)
		if err != nil {
			return nil, err
		}
		return DiskUsage{
			Path:        path,
			Total:       usage.Total,
			Free:        usage.Free,
			UsedPercent: usage.UsedPercent,
		}, nil
	})
}

// Default returns the standard facet set.
func Default(repoDir, scratchDir string) []Facet {
	return []Facet{
		Version(repoDir, ExecRunner),
		Temperature(ExecRunner),
		IPAddr(),
		TeamViewerID(ExecRunner),
		Uptime(),
		Disk(scratchDir),
	}
}
