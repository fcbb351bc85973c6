package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// FileLocker is the Locker cmd/send uses: one lockfile per key,
// <dir>/<key>.lock, holding the owning PID. Unlike MemoryLocker it is
// visible across processes on the same host. The ttl arguments are
// ignored; a lockfile lasts until Release removes it.
//
// A held lockfile whose PID no longer exists is treated as stale: it
// is removed and the lock is acquired. ErrPrecondition is returned
// only when the stale lockfile cannot be removed.
type FileLocker struct {
	dir string
}

// NewFileLocker creates a Locker rooted at dir (typically an archive's
// local metadata directory). The lock key passed to Acquire becomes
// the lockfile's base name under dir.
func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

func (l *FileLocker) path(key string) string {
	return filepath.Join(l.dir, key+".lock")
}

func (l *FileLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path := l.path(key)
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return false, fmt.Errorf("creating lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if !os.IsExist(err) {
			return false, fmt.Errorf("creating lockfile %s: %w", path, err)
		}
		if stale, staleErr := l.breakIfStale(path); staleErr != nil {
			return false, staleErr
		} else if !stale {
			return false, nil
		}
		// Stale lock was removed; retry the exclusive create once.
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return false, fmt.Errorf("creating lockfile %s after clearing stale holder: %w", path, err)
		}
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return false, fmt.Errorf("writing lockfile %s: %w", path, err)
	}
	return true, nil
}

func (l *FileLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryInterval time.Duration) (bool, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if attempt == maxRetries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return false, nil
}

func (l *FileLocker) Release(ctx context.Context, key string) (bool, error) {
	path := l.path(key)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("removing lockfile %s: %w", path, err)
	}
	return true, nil
}

func (l *FileLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	held, err := l.IsHeld(ctx, key)
	if err != nil || !held {
		return false, err
	}
	return true, nil
}

func (l *FileLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	path := l.path(key)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("statting lockfile %s: %w", path, err)
	}
	if stale, err := l.breakIfStale(path); err != nil {
		return false, err
	} else if stale {
		return false, nil
	}
	return true, nil
}

// breakIfStale removes path if the PID recorded inside it no longer
// exists, reporting whether it did so.
func (l *FileLocker) breakIfStale(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading lockfile %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Unreadable payload: leave it alone rather than guess.
		return false, nil
	}
	if processAlive(pid) {
		return false, nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "lockfile %s held by dead pid %d, failed to clear: %v", path, pid, err)
	}
	return true, nil
}

// processAlive reports whether pid refers to a live process, using
// the POSIX convention that signal 0 only validates existence and
// permissions without actually delivering anything.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscallSig0()) == nil
}

var _ Locker = (*FileLocker)(nil)
