package transport

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/rs/zerolog"
)

// Qubes runs commands through a Qubes OS RPC channel
// (qrexec-client-vm), the backend this system's original tool
// targeted for dom0-mediated VM-to-VM transport. The "command" string
// passed to Run is wrapped as the RPC service's argument rather than
// run verbatim by a remote shell.
type Qubes struct {
	targetVM string
	service  string
	logger   zerolog.Logger
}

// NewQubes creates a Qubes RPC Executor targeting the given VM and
// RPC service name (e.g. "qubes.Coldsnap").
func NewQubes(targetVM, service string, logger zerolog.Logger) *Qubes {
	return &Qubes{targetVM: targetVM, service: service, logger: logger}
}

func (q *Qubes) Run(ctx context.Context, command string, stdin io.Reader) (Result, error) {
	cmd := exec.CommandContext(ctx, "qrexec-client-vm", q.targetVM, q.service)
	if stdin != nil {
		cmd.Stdin = stdin
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("piping qrexec stdout: %w", err)
	}

	q.logger.Debug().Str("target_vm", q.targetVM).Str("service", q.service).Str("command", command).Msg("running qubes rpc command")
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("starting qrexec-client-vm: %w", err)
	}

	return Result{Stdout: stdout, Wait: cmd.Wait}, nil
}

var _ Executor = (*Qubes)(nil)

// QubesSSHBridge hops from the calling qube into a qube that holds the
// real SSH credentials (so the signing key never needs to live in the
// caller's qube), then runs the SSH leg from there. It composes an
// inner Qubes Executor with the outer command string.
type QubesSSHBridge struct {
	inner      *Qubes
	sshCommand string // the remote ssh invocation run inside the bridging qube
}

// NewQubesSSHBridge wraps a Qubes Executor that forwards to a bridging
// qube's own `ssh` invocation.
func NewQubesSSHBridge(inner *Qubes, sshCommand string) *QubesSSHBridge {
	return &QubesSSHBridge{inner: inner, sshCommand: sshCommand}
}

func (b *QubesSSHBridge) Run(ctx context.Context, command string, stdin io.Reader) (Result, error) {
	wrapped := fmt.Sprintf("%s %q", b.sshCommand, command)
	return b.inner.Run(ctx, wrapped, stdin)
}

var _ Executor = (*QubesSSHBridge)(nil)
