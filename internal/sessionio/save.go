package sessionio

import (
	"fmt"
	"os"
)

// FileSaveSink implements ModeSave against a plain regular file
// target. Block-device targets (discard-trim, LV auto-create/resize)
// are a transport/driver concern layered above this, since they
// require shelling out through the Executor; this sink only owns the
// WriteAt half spec.md §4.7 step 5 describes for "otherwise".
type FileSaveSink struct {
	f *os.File
}

// NewFileSaveSink truncates (or creates) path to volsize bytes and
// returns a Sink that writes each delivered chunk at its address.
func NewFileSaveSink(path string, volsize int64) (*FileSaveSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening save target %s: %w", path, err)
	}
	if err := f.Truncate(volsize); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncating save target %s to %d bytes: %w", path, volsize, err)
	}
	return &FileSaveSink{f: f}, nil
}

func (s *FileSaveSink) Deliver(addr, volsize, chunkSize int64, payload []byte) error {
	if payload == nil {
		return nil // zero-hash hole: file already reads zero there post-truncate.
	}
	if _, err := s.f.WriteAt(payload, addr); err != nil {
		return fmt.Errorf("writing chunk at offset %d: %w", addr, err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileSaveSink) Close() error { return s.f.Close() }

var _ Sink = (*FileSaveSink)(nil)
