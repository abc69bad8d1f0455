package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/xpadev-net/kiosk-agent/internal/log"
)

// SystemActions performs host-level commands that do not touch the pipeline.
type SystemActions interface {
	Reboot(ctx context.Context) error
	Update(ctx context.Context) error
}

// Runner executes name with args in dir.
type Runner func(ctx context.Context, dir, name string, args ...string) error

// ExecActions implements SystemActions with shell commands. Update refreshes
// the checkout in RepoDir.
type ExecActions struct {
	RepoDir string
	Run     Runner
}

// NewExecActions returns ExecActions running real processes.
func NewExecActions(repoDir string) *ExecActions {
	return &ExecActions{RepoDir: repoDir, Run: runCommand}
}

// Reboot restarts the host.
func (a *ExecActions) Reboot(ctx context.Context) error {
	return a.Run(ctx, "", "sudo", "shutdown", "-r", "now")
}

// Update discards local changes, pulls the repository and restores the
// boot script's execute bit.
func (a *ExecActions) Update(ctx context.Context) error {
	steps := [][]string{
		{"git", "checkout", "--", "."},
		{"git", "pull"},
		{"chmod", "u+x", "./boot.sh"},
	}
	for _, step := range steps {
		if err := a.Run(ctx, a.RepoDir, step[0], step[1:]...); err != nil {
			return err
		}
	}
	return nil
}

func runCommand(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s failed: %w (stderr: %s)", name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	log.Component("command").Debug("system command finished",
		zap.String("command", name),
		zap.Strings("args", args),
		zap.String("stdout", strings.TrimSpace(stdout.String())),
	)
	return nil
}
