// Package coldsnaperr centralizes the error kinds shared across coldsnap's
// packages, so callers can errors.Is against a stable kind regardless of
// which package raised it.
package coldsnaperr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration covers missing VG/pool, malformed --dest, and similar
	// setup mistakes caught before any snapshot is acquired.
	ErrConfiguration = errors.New("configuration error")

	// ErrPrecondition covers archive-state inconsistencies that must never
	// be auto-healed silently (map without .tick, manifest missing under a
	// present session, pruning the most recent session, etc).
	ErrPrecondition = errors.New("precondition failed")

	// ErrExternalTool covers non-zero exits from thin_delta or the
	// destination transport.
	ErrExternalTool = errors.New("external tool failed")

	// ErrDataIntegrity covers hash mismatches, bad chunk sizes, and bad
	// decompressed lengths encountered while receiving or verifying.
	ErrDataIntegrity = errors.New("data integrity violation")

	// ErrTransient covers timeouts and other conditions worth a retry,
	// where no commit has happened yet.
	ErrTransient = errors.New("transient failure")

	// ErrBounds covers the dedup session-index overflow case, where the
	// correct response is to truncate and continue rather than fail.
	ErrBounds = errors.New("index bounds exceeded")
)

// Wrap annotates err with a message while preserving errors.Is(err, kind)
// for the given kind.
func Wrap(kind error, format string, args ...interface{}) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }
