// Package archive implements the ArchiveSet/Volume/Session data model
// from spec.md §3, including the on-disk layout from spec.md §6 and the
// merge/restore helpers invariants in spec.md §8 depend on.
//
// The struct-heavy, constructor-per-variant style mirrors the teacher's
// internal/domain package (NewBlob/NewCompositeBlob/NewDeltaBlob).
// Archive and volume identity is UUID-based, as the teacher uses
// github.com/google/uuid for blob/object identity; sessions are
// identified by their localtime-derived names.
package archive

import (
	"fmt"
	"time"

	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// SessionNameLayout is the Go reference-time layout embedded in a
// session's name, per spec.md §3: "S_" followed by localtime in
// "YYYYMMDD-HHMMSS".
const SessionNameLayout = "20060102-150405"

// SessionFormat identifies how a session's chunks are laid out on disk.
type SessionFormat string

const (
	// FormatFolders is the two-level hash-split directory tree from
	// spec.md §3 (the default, readable by receive/merge).
	FormatFolders SessionFormat = "folders"

	// FormatTar marks a session stored as one tar file. coldsnap never
	// writes this format; receive, diff, full verify and merge reject
	// any session that carries it.
	FormatTar SessionFormat = "tar"
)

// NonePrevious is the sentinel previous-session name for a volume's
// first session, per spec.md §3 ("Exactly one session has
// previous == none, and it equals first").
const NonePrevious = "none"

// ManifestEntry is one (hash, address) pair in a session's manifest.
// Hash is the lowercase hex SHA-256 of the compressed chunk payload, or
// the literal "0" for an all-zero chunk that was not sent.
type ManifestEntry struct {
	Hash string
	Addr int64
}

// IsZero reports whether the entry denotes an all-zero, unsent chunk.
func (e ManifestEntry) IsZero() bool { return e.Hash == "0" }

// Session is an immutable point-in-time record of the chunks changed
// between two snapshots of a volume.
type Session struct {
	Name      string
	Localtime time.Time
	Volsize   int64
	Format    SessionFormat
	Sequence  int64
	Previous  string
	Manifest  []ManifestEntry
}

// NewSessionName renders a session name from a localtime.
func NewSessionName(t time.Time) string {
	return "S_" + t.Format(SessionNameLayout)
}

// ParseSessionLocaltime extracts the localtime encoded in a session
// name, validating the "S_YYYYMMDD-HHMMSS" shape spec.md §4.6 requires
// ("dates are validated against YYYYMMDD-HHMMSS").
func ParseSessionLocaltime(name string) (time.Time, error) {
	const prefix = "S_"
	if len(name) != len(prefix)+len(SessionNameLayout) || name[:len(prefix)] != prefix {
		return time.Time{}, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "malformed session name %q", name)
	}
	t, err := time.ParseInLocation(SessionNameLayout, name[len(prefix):], time.Local)
	if err != nil {
		return time.Time{}, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "malformed session name %q: %v", name, err)
	}
	return t, nil
}

// NewFirstSession builds the first session of a volume (previous ==
// NonePrevious, sequence 0).
func NewFirstSession(localtime time.Time, volsize int64, format SessionFormat) *Session {
	return &Session{
		Name:      NewSessionName(localtime),
		Localtime: localtime,
		Volsize:   volsize,
		Format:    format,
		Sequence:  0,
		Previous:  NonePrevious,
	}
}

// NewNextSession builds a session that follows prev in the same volume.
func NewNextSession(prev *Session, localtime time.Time, volsize int64, format SessionFormat) *Session {
	return &Session{
		Name:      NewSessionName(localtime),
		Localtime: localtime,
		Volsize:   volsize,
		Format:    format,
		Sequence:  prev.Sequence + 1,
		Previous:  prev.Name,
	}
}

// Validate checks spec.md §8 invariant 2: manifest addresses strictly
// ascending, all within [0, Volsize), aligned to chunkSize.
func (s *Session) Validate(chunkSize int64) error {
	var prevAddr int64 = -1
	for _, e := range s.Manifest {
		if e.Addr <= prevAddr {
			return coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity,
				"session %s: manifest address %#x is not strictly ascending after %#x", s.Name, e.Addr, prevAddr)
		}
		if e.Addr < 0 || e.Addr >= s.Volsize {
			return coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity,
				"session %s: manifest address %#x out of range [0,%#x)", s.Name, e.Addr, s.Volsize)
		}
		if e.Addr%chunkSize != 0 {
			return coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity,
				"session %s: manifest address %#x not aligned to chunk size %#x", s.Name, e.Addr, chunkSize)
		}
		prevAddr = e.Addr
	}
	return nil
}

// String implements fmt.Stringer for logging.
func (s *Session) String() string {
	return fmt.Sprintf("%s(seq=%d,volsize=%d,prev=%s)", s.Name, s.Sequence, s.Volsize, s.Previous)
}
