// Package merge implements the Session Merger (prune): folding a
// contiguous run of sessions into the session immediately following
// them, per spec.md §4.6.
package merge

import (
	"fmt"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// Command is one destination-side action the merge plan compiles
// down to (spec.md §4.6 step 6): remove a zero-hash chunk that ceases
// to exist, or rename a chunk from a pruned session or from target
// into the merge target.
type Command struct {
	Kind   CommandKind
	Addr   int64
	Source string // rename-only: "<session>/<addr[:split]>/x<addr>"
	Target string // "<mergeTarget>/<addr[:split]>/x<addr>"
}

type CommandKind int

const (
	CommandRemove CommandKind = iota
	CommandRename
)

// Plan is the full result of planning a prune: the merged manifest to
// write at the target, the destination commands to run, and the
// Volume bookkeeping update to apply locally afterward.
type Plan struct {
	Commands    []Command
	NewManifest []archive.ManifestEntry
	PrunedNames []string
}

// The teacher's migration.Strategy/Worker idiom
// (internal/migration/interfaces.go) is repurposed here: ShouldMerge
// plays Strategy.ShouldMigrate's validation role, Build plays
// Migrate's compute role. There is no long-running Worker loop — a
// prune is always one bounded batch driven by the CLI's prune command.

// ShouldMerge validates the constraints spec.md §4.6 names before a
// merge is attempted: the most recent session is never prunable, no
// session in [t1..target] may be tar-formatted, and t1..t2 must be a
// contiguous, existing range immediately preceding target.
func ShouldMerge(v *archive.Volume, t1, t2 string) (target string, err error) {
	i1 := v.IndexOf(t1)
	i2 := v.IndexOf(t2)
	if i1 < 0 || i2 < 0 {
		return "", coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "prune range %s..%s not found in volume %s", t1, t2, v.Name)
	}
	if i1 > i2 {
		return "", coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "prune range %s..%s is not ordered oldest-to-newest", t1, t2)
	}
	if i2 == len(v.SessionOrder)-1 {
		return "", coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "cannot prune %s: the most recent session is never prunable", t2)
	}
	targetName := v.SessionOrder[i2+1]

	for i := i1; i <= i2; i++ {
		s := v.Sessions[v.SessionOrder[i]]
		if s.Format == archive.FormatTar {
			return "", coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "session %s is tar-formatted and cannot be pruned", s.Name)
		}
		if _, err := archive.ParseSessionLocaltime(s.Name); err != nil {
			return "", err
		}
	}
	if targetSession := v.Sessions[targetName]; targetSession.Format == archive.FormatTar {
		return "", coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "merge target %s is tar-formatted and cannot absorb a prune", targetName)
	}
	return targetName, nil
}

// Build computes the merge plan per spec.md §4.6 steps 1-6, 9.
// chunkSize is the archive's configured chunk size, needed to compute
// the target's last_chunk_addr for the shrink-truncation step.
func Build(v *archive.Volume, t1, t2 string, chunkSize int64) (Plan, error) {
	targetName, err := ShouldMerge(v, t1, t2)
	if err != nil {
		return Plan{}, err
	}
	target := v.Sessions[targetName]

	i1 := v.IndexOf(t1)
	i2 := v.IndexOf(t2)
	sourceRange := v.SessionOrder[i1 : i2+1] // t1 .. t2, oldest to newest

	// merge_sources = [target, t_n, ..., t1+1] (target first, then the
	// prune range newest-to-oldest except the oldest, i.e. excluding t1
	// itself — t1 plays merge_target per spec.md step 1).
	mergeTarget := v.Sessions[t1]
	var mergeSources []*archive.Session
	mergeSources = append(mergeSources, target)
	for i := len(sourceRange) - 1; i >= 1; i-- {
		mergeSources = append(mergeSources, v.Sessions[sourceRange[i]])
	}

	merged := annotatedMerge(mergeSources)
	merged = mergeInto(merged, mergeTarget.Name, mergeTarget.Manifest)
	newManifest := truncate(merged, chunkaddr.LastChunkAddr(target.Volsize, chunkSize))

	var commands []Command
	for _, e := range newManifest {
		addrDir, addrFile := chunkaddr.SplitDir(e.entry.Addr)
		targetPath := fmt.Sprintf("%s/%s/%s", mergeTarget.Name, addrDir, addrFile)
		if e.entry.IsZero() {
			commands = append(commands, Command{Kind: CommandRemove, Addr: e.entry.Addr, Target: targetPath})
			continue
		}
		if e.session == mergeTarget.Name {
			continue // already resident at the target path, nothing to move.
		}
		commands = append(commands, Command{
			Kind:   CommandRename,
			Addr:   e.entry.Addr,
			Source: fmt.Sprintf("%s/%s/%s", e.session, addrDir, addrFile),
			Target: targetPath,
		})
	}

	plain := make([]archive.ManifestEntry, len(newManifest))
	for i, e := range newManifest {
		plain[i] = e.entry
	}

	return Plan{
		Commands:    commands,
		NewManifest: plain,
		PrunedNames: append([]string{mergeTarget.Name}, sourceRange[1:]...),
	}, nil
}

// Apply performs the local bookkeeping update spec.md §4.6 step 8
// describes, once the destination commands have succeeded: delete
// every pruned session record and re-point target's own previous
// pointer at the oldest pruned session's previous, so target now
// directly follows whatever preceded the pruned range. When the
// oldest pruned session was the volume's first, target becomes First.
func Apply(v *archive.Volume, plan Plan, targetName string) error {
	oldestPruned := v.Sessions[plan.PrunedNames[0]]
	v.Sessions[targetName].Previous = oldestPruned.Previous
	if v.First == oldestPruned.Name {
		v.First = targetName
	}

	v.RemoveSessions(plan.PrunedNames)
	return nil
}

type annotated struct {
	entry   archive.ManifestEntry
	session string
}

func annotatedMerge(sessions []*archive.Session) []annotated {
	seen := make(map[int64]annotated)
	order := make([]int64, 0)
	for _, s := range sessions {
		for _, e := range s.Manifest {
			if _, ok := seen[e.Addr]; ok {
				continue
			}
			seen[e.Addr] = annotated{entry: e, session: s.Name}
			order = append(order, e.Addr)
		}
	}
	sortInt64(order)
	out := make([]annotated, len(order))
	for i, addr := range order {
		out[i] = seen[addr]
	}
	return out
}

func mergeInto(merged []annotated, sessionName string, entries []archive.ManifestEntry) []annotated {
	have := make(map[int64]bool, len(merged))
	for _, a := range merged {
		have[a.entry.Addr] = true
	}
	for _, e := range entries {
		if have[e.Addr] {
			continue
		}
		merged = append(merged, annotated{entry: e, session: sessionName})
	}
	sortAnnotated(merged)
	return merged
}

func truncate(merged []annotated, lastChunkAddr int64) []annotated {
	out := merged[:0:0]
	for _, a := range merged {
		if a.entry.Addr <= lastChunkAddr {
			out = append(out, a)
		}
	}
	return out
}

func sortInt64(s []int64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func sortAnnotated(s []annotated) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].entry.Addr < s[j-1].entry.Addr; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
