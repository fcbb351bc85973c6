package archive

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// WriteManifest writes manifest lines in the exact spec.md §6 format:
// "<sha256-hex|\"0\"> x<hex-address>\n", UTF-8, strictly ascending
// address order.
func WriteManifest(w io.Writer, entries []ManifestEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%s x%s\n", e.Hash, chunkaddr.Hex(e.Addr)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadManifest parses manifest lines back into entries.
func ReadManifest(r io.Reader) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 || len(fields[1]) == 0 || fields[1][0] != 'x' {
			return nil, coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "malformed manifest line %q", line)
		}
		addr, err := chunkaddr.ParseHex(fields[1][1:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, ManifestEntry{Hash: fields[0], Addr: addr})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return entries, nil
}

// annotatedEntry is a manifest entry tagged with the session it came
// from, used while merging manifests from multiple sessions (spec.md
// §4.6 step 2, §4.7 step 1).
type annotatedEntry struct {
	ManifestEntry
	Session string
}

// AnnotateManifest tags every entry in a manifest with its owning
// session name.
func AnnotateManifest(session string, entries []ManifestEntry) []annotatedEntry {
	out := make([]annotatedEntry, len(entries))
	for i, e := range entries {
		out[i] = annotatedEntry{ManifestEntry: e, Session: session}
	}
	return out
}

// MergeNewestWins implements the "stable-unique-merge by address,
// keep first occurrence" rule spec.md §4.6 step 3 and §4.7 step 2
// describe. Callers pass manifests ordered newest-to-oldest; for any
// address appearing in more than one, the first (i.e. newest) entry
// wins. The result is sorted back into ascending address order, which
// spec.md §6 requires of a manifest.
func MergeNewestWins(manifestsNewestFirst ...[]annotatedEntry) []annotatedEntry {
	seen := make(map[int64]annotatedEntry)
	order := make([]int64, 0)
	for _, manifest := range manifestsNewestFirst {
		for _, e := range manifest {
			if _, ok := seen[e.Addr]; ok {
				continue
			}
			seen[e.Addr] = e
			order = append(order, e.Addr)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	result := make([]annotatedEntry, len(order))
	for i, addr := range order {
		result[i] = seen[addr]
	}
	return result
}

// Truncate filters entries to addresses <= lastChunkAddr, honoring a
// volume shrink (spec.md §4.6 step 5).
func Truncate(entries []annotatedEntry, lastChunkAddr int64) []annotatedEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Addr <= lastChunkAddr {
			out = append(out, e)
		}
	}
	return out
}

// StripSession drops the session annotation, yielding a plain manifest
// (spec.md §4.6 step 9: "hash+address only, no session column").
func StripSession(entries []annotatedEntry) []ManifestEntry {
	out := make([]ManifestEntry, len(entries))
	for i, e := range entries {
		out[i] = e.ManifestEntry
	}
	return out
}

// itoa64 is a small helper kept local to avoid importing strconv at
// every call site that only needs base-10 rendering for logging.
func itoa64(n int64) string { return strconv.FormatInt(n, 10) }
