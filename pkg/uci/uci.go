package uci

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/markus-lassfolk/locationd/pkg/logx"
)

// UCI reads the locationd package through the uci command
type UCI struct {
	logger *logx.Logger
	run    func(ctx context.Context, args ...string) (string, error)
}

// NewUCI creates a new UCI client
func NewUCI(logger *logx.Logger) *UCI {
	if logger == nil {
		logger = logx.Discard()
	}
	u := &UCI{logger: logger}
	u.run = u.execUCI
	return u
}

// Load exports the locationd package and parses it
func (u *UCI) Load() (*Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := u.run(ctx, "export", "locationd")
	if err != nil {
		return nil, err
	}
	return Parse(strings.NewReader(out))
}

// Available reports whether the uci command works on this host
func (u *UCI) Available(ctx context.Context) bool {
	_, err := u.run(ctx, "show", "locationd")
	return err == nil
}

// execUCI executes a UCI command
func (u *UCI) execUCI(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "uci", args...)
	output, err := cmd.Output()
	if err != nil {
		u.logger.Debug("uci_command_failed", "command", "uci "+strings.Join(args, " "), "error", err)
		return "", fmt.Errorf("uci command failed: %w", err)
	}
	return string(output), nil
}
