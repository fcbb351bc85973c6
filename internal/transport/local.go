package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rs/zerolog"
)

// Local runs commands on the same host the core is running on, via
// /bin/sh -c, the simplest of the four backends spec.md §4.8 names.
type Local struct {
	logger zerolog.Logger
}

// NewLocal creates a local-shell Executor.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger}
}

func (l *Local) Run(ctx context.Context, command string, stdin io.Reader) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("piping stdout for %q: %w", command, err)
	}

	l.logger.Debug().Str("command", command).Msg("running local command")
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting %q: %w", command, err)
	}

	return Result{
		Stdout: stdout,
		Wait:   cmd.Wait,
	}, nil
}

var _ Executor = (*Local)(nil)
