package archive

import (
	"sort"

	"github.com/google/uuid"

	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// CompressionAlgo identifies the compression scheme persisted in
// archive.ini.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZlib CompressionAlgo = "zlib"
)

// HashAlgoSHA256 is the only hash algorithm spec.md §3 names.
const HashAlgoSHA256 = "sha256"

// ArchiveSet is a named archive rooted at a local metadata directory
// and a remote destination path, per spec.md §3.
type ArchiveSet struct {
	Name string

	ChunkSize         int64
	CompressionAlgo   CompressionAlgo
	CompressionLevel  int
	HashAlgo          string
	SourceVG          string
	SourcePool        string
	DestDescriptor    string
	DestMountpoint    string
	Subdir            string
	UUID              string

	LocalRoot string // local metadata directory root

	Volumes map[string]*Volume
}

// New creates a fresh ArchiveSet, as the arch-init CLI command does.
func New(name, localRoot string, chunkSize int64, compression CompressionAlgo, level int, sourceVG, sourcePool, dest string) *ArchiveSet {
	return &ArchiveSet{
		Name:             name,
		ChunkSize:        chunkSize,
		CompressionAlgo:  compression,
		CompressionLevel: level,
		HashAlgo:         HashAlgoSHA256,
		SourceVG:         sourceVG,
		SourcePool:       sourcePool,
		DestDescriptor:   dest,
		UUID:             uuid.New().String(),
		LocalRoot:        localRoot,
		Volumes:          make(map[string]*Volume),
	}
}

// AddVolume registers a new, empty volume (the "add <vol>" CLI
// command).
func (a *ArchiveSet) AddVolume(name string) (*Volume, error) {
	if _, exists := a.Volumes[name]; exists {
		return nil, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "volume %s already exists in archive %s", name, a.Name)
	}
	v := NewVolume(name)
	a.Volumes[name] = v
	return v, nil
}

// DeleteVolume removes a volume's local bookkeeping (the "delete <vol>"
// CLI command; physical chunk removal on the destination is the
// caller's responsibility via the transport shim).
func (a *ArchiveSet) DeleteVolume(name string) error {
	if _, exists := a.Volumes[name]; !exists {
		return coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "volume %s not found in archive %s", name, a.Name)
	}
	delete(a.Volumes, name)
	return nil
}

// VolumeSession pairs a session with the name of the volume it belongs to.
type VolumeSession struct {
	Volume  string
	Session *Session
}

// AllSessionsByLocaltime returns every session across every volume,
// sorted by localtime, used to assign stable session indices for
// dedup (spec.md §3: "an ordered list of all sessions across all
// volumes, sorted by localtime (used to assign stable session indices
// for dedup)").
func (a *ArchiveSet) AllSessionsByLocaltime() []VolumeSession {
	var all []VolumeSession
	volNames := make([]string, 0, len(a.Volumes))
	for name := range a.Volumes {
		volNames = append(volNames, name)
	}
	sort.Strings(volNames) // deterministic iteration before the localtime sort

	for _, volName := range volNames {
		v := a.Volumes[volName]
		for _, s := range v.SessionChain() {
			all = append(all, VolumeSession{Volume: volName, Session: s})
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Session.Localtime.Before(all[j].Session.Localtime)
	})
	return all
}

// MaxDedupSessionIndex16 returns the 16-bit session-index bound,
// 65535 - |volumes| - 1 (never below 0). cmd/send compares the
// archive-wide session count with it and sends without cross-session
// dedup when the count exceeds it.
func (a *ArchiveSet) MaxDedupSessionIndex16() int {
	bound := 65535 - len(a.Volumes) - 1
	if bound < 0 {
		return 0
	}
	return bound
}
