// Package transport implements the Transport Shim spec.md §4.8
// describes: a single pluggable primitive, "execute an sh-prefixed
// command string on the destination, optionally piping a local file
// in as stdin, optionally capturing a file out." The core talks only
// to the Executor interface; it never parses destination responses
// beyond the receive byte stream (internal/sessionio owns that
// framing).
package transport

import (
	"context"
	"io"
)

// Executor runs a single shell command against a destination and
// streams its stdin/stdout. Implementations back it with a local
// shell, SSH, a Qubes RPC channel, or a Qubes-RPC-to-SSH bridge.
type Executor interface {
	// Run executes command on the destination. If stdin is non-nil it
	// is streamed as the command's standard input. The returned
	// ReadCloser streams the command's standard output; callers must
	// Close it. Wait reports the command's exit status once the
	// caller is done draining output.
	Run(ctx context.Context, command string, stdin io.Reader) (Result, error)
}

// Result is a running (or already-buffered) command's output stream
// plus a Wait hook that blocks until the command has exited.
type Result struct {
	Stdout io.ReadCloser
	Wait   func() error
}
