// Package deltamap implements the per-volume persistent dirty-chunk
// bitmap described in spec.md §3 and §4.1: one bit per chunk,
// OR-accumulated between sends, committed through a "-tmp" sibling file
// whose atomic rename is the single commit point.
//
// The temp-file-then-rename discipline mirrors the teacher's
// internal/storage/filesystem.Storage.Store: write to a unique temp
// file first, only rename into the well-known path once the content is
// fully durable.
package deltamap

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// BaseName and TmpName are the on-disk file names inside a volume's
// metadata directory, per spec.md §3 ("Stored in file deltamap; a
// deltamap-tmp sibling indicates an in-progress send").
const (
	BaseName = "deltamap"
	TmpName  = "deltamap-tmp"
)

// Map is a packed little-endian bitmap: bit (k mod 8) of byte (k/8)
// tracks chunk k. Length is ceil(volsize/chunksize/8) + 1 bytes, per
// spec.md §3.
type Map struct {
	bits []byte
}

// Size returns the length in bytes of the backing bitmap.
func (m *Map) Size() int { return len(m.bits) }

// NumBytes returns the number of bitmap bytes needed for n chunks.
func NumBytes(numChunks int64) int {
	return int((numChunks+7)/8) + 1
}

// New allocates a zeroed map sized for the given number of chunks.
func New(numChunks int64) *Map {
	return &Map{bits: make([]byte, NumBytes(numChunks))}
}

// NewForVolume allocates a zeroed map sized for a volume of volsize
// bytes addressed in chunkSize chunks.
func NewForVolume(volsize, chunkSize int64) *Map {
	return New(chunkaddr.NumChunks(volsize, chunkSize))
}

// Get reports whether chunk k is flagged dirty.
func (m *Map) Get(k int64) bool {
	byteIdx := k / 8
	if byteIdx < 0 || int(byteIdx) >= len(m.bits) {
		return false
	}
	return m.bits[byteIdx]&(1<<(uint(k%8))) != 0
}

// Set flags chunk k dirty, growing the map if necessary.
func (m *Map) Set(k int64) {
	byteIdx := int(k / 8)
	if byteIdx >= len(m.bits) {
		grown := make([]byte, byteIdx+1)
		copy(grown, m.bits)
		m.bits = grown
	}
	m.bits[byteIdx] |= 1 << (uint(k % 8))
}

// ClearAll zeroes every bit without changing the map's length.
func (m *Map) ClearAll() {
	for i := range m.bits {
		m.bits[i] = 0
	}
}

// Resize truncates or zero-extends the map to hold n chunks.
func (m *Map) Resize(numChunks int64) {
	want := NumBytes(numChunks)
	if want == len(m.bits) {
		return
	}
	grown := make([]byte, want)
	copy(grown, m.bits)
	m.bits = grown
}

// IsAllZero reports whether every bit is clear, used by spec.md §8
// invariant 5 ("a freshly committed send leaves the Delta Map
// all-zero").
func (m *Map) IsAllZero() bool {
	for _, b := range m.bits {
		if b != 0 {
			return false
		}
	}
	return true
}

// Bytes returns the raw backing bytes (for persistence or testing).
func (m *Map) Bytes() []byte {
	return append([]byte(nil), m.bits...)
}

// FromBytes wraps raw bytes as a Map without copying semantics beyond
// what the caller already owns.
func FromBytes(b []byte) *Map {
	return &Map{bits: b}
}

// Store handles the on-disk persistence of a volume's Delta Map,
// including -tmp recovery per spec.md §4.3 ("on startup, if -tmp
// exists it supersedes the base file").
type Store struct {
	dir string
}

// NewStore returns a Store rooted at a volume's metadata directory.
func NewStore(volumeDir string) *Store {
	return &Store{dir: volumeDir}
}

func (s *Store) basePath() string { return filepath.Join(s.dir, BaseName) }
func (s *Store) tmpPath() string  { return filepath.Join(s.dir, TmpName) }

// Load reads the current committed map, recovering from a leftover
// -tmp file first if one is present (spec.md §4.3 recovery rule, also
// exercised by spec.md §8 scenario 6).
func (s *Store) Load() (*Map, error) {
	if data, err := os.ReadFile(s.tmpPath()); err == nil {
		return FromBytes(data), nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading %s: %w", s.tmpPath(), err)
	}

	data, err := os.ReadFile(s.basePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.basePath(), err)
	}
	return FromBytes(data), nil
}

// Exists reports whether a committed map or an in-progress -tmp map is
// present on disk.
func (s *Store) Exists() bool {
	if _, err := os.Stat(s.tmpPath()); err == nil {
		return true
	}
	if _, err := os.Stat(s.basePath()); err == nil {
		return true
	}
	return false
}

// BeginWrite writes m to the -tmp sibling, leaving the base file
// untouched. Callers OR thin-delta results into the in-memory Map and
// call BeginWrite before translating further, or call it once before
// a send begins iterating chunks.
func (s *Store) BeginWrite(m *Map) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating volume dir: %w", err)
	}
	if err := os.WriteFile(s.tmpPath(), m.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", s.tmpPath(), err)
	}
	return nil
}

// Commit renames -tmp over the base file: the single commit point for
// a monitor or send operation (spec.md §4.1).
func (s *Store) Commit() error {
	if err := os.Rename(s.tmpPath(), s.basePath()); err != nil {
		return coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "committing delta map: %v", err)
	}
	return nil
}

// CommitZeroed writes and commits an all-zero map sized like the
// current one — the post-send-success path from spec.md §4.4 step 7.
func (s *Store) CommitZeroed(numChunks int64) error {
	zeroed := New(numChunks)
	if err := s.BeginWrite(zeroed); err != nil {
		return err
	}
	return s.Commit()
}

// DiscardTmp removes a leftover -tmp file, part of the crash-recovery
// path in spec.md §4.3 ("remove any *-tmp session dir" / map
// handling is the mirror: adopt -tmp as current rather than discard
// it, so this is only used when a recovery explicitly decides the
// in-progress map itself is invalid).
func (s *Store) DiscardTmp() error {
	err := os.Remove(s.tmpPath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", s.tmpPath(), err)
	}
	return nil
}
