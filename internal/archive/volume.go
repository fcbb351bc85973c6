package archive

import (
	"github.com/google/uuid"

	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// VolumeFormatVersion is the persisted volinfo format version this
// implementation writes.
const VolumeFormatVersion = 1

// Volume is a configured source volume, identified by name, owning an
// ordered set of Sessions linked via each Session's Previous pointer.
type Volume struct {
	Name             string
	FormatVersion    int
	UUID             string
	First            string
	Last             string
	QueuedMetaUpdate bool

	// Non-persisted (spec.md §3).
	CurrentSize  int64
	Present      bool
	ErrorFlag    bool
	DeltaMapPath string

	Sessions     map[string]*Session
	SessionOrder []string // insertion order
}

// NewVolume creates a new, empty Volume (the "add" lifecycle step from
// spec.md §3: "A Volume is created by add (config only)").
func NewVolume(name string) *Volume {
	return &Volume{
		Name:          name,
		FormatVersion: VolumeFormatVersion,
		UUID:          uuid.New().String(),
		Sessions:      make(map[string]*Session),
	}
}

// IsEmpty reports whether the volume has no committed sessions yet.
func (v *Volume) IsEmpty() bool { return len(v.SessionOrder) == 0 }

// AppendSession commits a new session: it must follow the current
// Last session (or be the very first), per spec.md §3's Volume
// lifecycle.
func (v *Volume) AppendSession(s *Session) error {
	if v.IsEmpty() {
		if s.Previous != NonePrevious {
			return coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "first session of volume %s must have previous=none, got %s", v.Name, s.Previous)
		}
		v.First = s.Name
	} else if s.Previous != v.Last {
		return coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "session %s previous=%s does not match volume %s last=%s", s.Name, s.Previous, v.Name, v.Last)
	}

	v.Sessions[s.Name] = s
	v.SessionOrder = append(v.SessionOrder, s.Name)
	v.Last = s.Name
	v.CurrentSize = s.Volsize
	return nil
}

// LastSession returns the most recently committed session, or nil if
// the volume is empty.
func (v *Volume) LastSession() *Session {
	if v.IsEmpty() {
		return nil
	}
	return v.Sessions[v.Last]
}

// FirstSession returns the oldest committed session, or nil if the
// volume is empty.
func (v *Volume) FirstSession() *Session {
	if v.IsEmpty() {
		return nil
	}
	return v.Sessions[v.First]
}

// SessionChain returns sessions from First to Last in chronological
// order, following the insertion-ordered list (spec.md §3: "an
// insertion-ordered list of session names forming a singly linked
// list via each session's previous pointer").
func (v *Volume) SessionChain() []*Session {
	out := make([]*Session, 0, len(v.SessionOrder))
	for _, name := range v.SessionOrder {
		out = append(out, v.Sessions[name])
	}
	return out
}

// SessionChainUpTo returns the chronological chain from First through
// (and including) the named target session, per spec.md §4.7 step 1.
func (v *Volume) SessionChainUpTo(target string) ([]*Session, error) {
	out := make([]*Session, 0, len(v.SessionOrder))
	for _, name := range v.SessionOrder {
		out = append(out, v.Sessions[name])
		if name == target {
			return out, nil
		}
	}
	return nil, coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "session %s not found in volume %s", target, v.Name)
}

// IndexOf returns the position of a session name in SessionOrder, or
// -1 if absent.
func (v *Volume) IndexOf(name string) int {
	for i, n := range v.SessionOrder {
		if n == name {
			return i
		}
	}
	return -1
}

// RemoveSessions deletes the named sessions from the volume's bookkeeping
// (spec.md §4.6 step 8: "delete every pruned Session record"). It does
// not touch First/Last; callers update those separately once the
// target's identity after prune is known.
func (v *Volume) RemoveSessions(names []string) {
	toRemove := make(map[string]bool, len(names))
	for _, n := range names {
		toRemove[n] = true
		delete(v.Sessions, n)
	}
	newOrder := v.SessionOrder[:0:0]
	for _, n := range v.SessionOrder {
		if !toRemove[n] {
			newOrder = append(newOrder, n)
		}
	}
	v.SessionOrder = newOrder
}
