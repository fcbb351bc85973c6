// Package dedup implements the Dedup Index: a hash -> (session index,
// address) map consulted at session-write time so a chunk already
// present anywhere in the archive is linked rather than re-sent.
package dedup

import "context"

// Entry is the value side of the dedup index.
type Entry struct {
	SessionIndex int
	Addr         int64
}

// Index is the contract every backend (in-memory, SQLite, Redis)
// implements, matching spec.md §4.5 exactly: lookup, insert-if-absent,
// and a bulk loader that processes sessions oldest-first so the
// earliest occurrence of a hash wins.
type Index interface {
	// Lookup returns the first-seen (session, address) for hash, or
	// ok=false if the hash has never been indexed.
	Lookup(ctx context.Context, hash string) (entry Entry, ok bool, err error)

	// Insert records hash -> entry. A hash already present is left
	// untouched (spec.md: "insert is a no-op on duplicate").
	Insert(ctx context.Context, hash string, entry Entry) error

	// Len reports how many distinct hashes are indexed, chiefly for
	// metrics and tests.
	Len(ctx context.Context) (int, error)
}

// ManifestSource is the minimal view of an archived session the bulk
// loader needs: its position in the chronological session order and
// its manifest entries.
type ManifestSource struct {
	SessionIndex int
	Hashes       []HashAddr
}

// HashAddr pairs a manifest hash with the chunk address it was
// recorded at.
type HashAddr struct {
	Hash string
	Addr int64
}

// BuildFromManifests populates idx from sessions in chronological
// order, so the earliest occurrence of a hash wins (spec.md §4.5:
// "build_from_manifests(sessions) populates the index from archived
// manifests, in chronological order, so the earliest occurrence
// wins"). Zero-hash ("0", the sparse-hole marker) lines are skipped;
// they never participate in dedup.
func BuildFromManifests(ctx context.Context, idx Index, sessions []ManifestSource) error {
	for _, s := range sessions {
		for _, ha := range s.Hashes {
			if ha.Hash == "0" {
				continue
			}
			if _, ok, err := idx.Lookup(ctx, ha.Hash); err != nil {
				return err
			} else if ok {
				continue
			}
			if err := idx.Insert(ctx, ha.Hash, Entry{SessionIndex: s.SessionIndex, Addr: ha.Addr}); err != nil {
				return err
			}
		}
	}
	return nil
}
