// Package sessionio implements the Session Writer and the
// Receiver/Verifier: the two halves of spec.md §4.4 and §4.7 that read
// and write the chunk stream against a destination.
package sessionio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/rs/zerolog"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
	"github.com/prn-tf/coldsnap/internal/dedup"
	"github.com/prn-tf/coldsnap/internal/deltamap"
)

// SourceReader reads bytes from the .tock snapshot being archived —
// the external collaborator spec.md §1 excludes from core scope
// ("the block-device/thin-pool driver"). Implementations seek the
// underlying device or sparse file.
type SourceReader interface {
	ReadAt(addr, length int64) ([]byte, error)
}

// Entry is emitted once per chunk address, already decided between a
// literal write, a zero-hole, and a dedup link.
type Entry struct {
	Addr int64
	Hash string // "0" for a zero hole
	Kind EntryKind
	// LinkTarget is set only when Kind == EntryLink: the exact archive
	// path of the matched chunk in its original session.
	LinkTarget string
	// Payload is set only when Kind == EntryChunk: the compressed
	// bytes to write at <session>-tmp/<addr[:split]>/x<addr>.
	Payload []byte
}

// EntryKind distinguishes the three chunk-loop outcomes spec.md §4.4
// step 4 describes.
type EntryKind int

const (
	EntryZero EntryKind = iota
	EntryChunk
	EntryLink
)

// Params bundles the Session Writer's inputs (spec.md §4.4: "volume,
// current .tock snapshot, Delta Map, prior volume size, chunk size,
// compression config, optional dedup index, new session name").
type Params struct {
	Volume           *archive.Volume
	Source           SourceReader
	DeltaMap         *deltamap.Map
	PriorVolsize     int64
	Volsize          int64
	ChunkSize        int64
	CompressionLevel int
	DedupIndex       dedup.Index // nil disables dedup
	SessionIndex     int         // this session's position in the archive-wide session order, for dedup entries
	// ArchivePathOf resolves a dedup hit's (session_idx, address) — as
	// recorded by the Dedup Index, which is keyed archive-wide, not
	// per-volume — to the destination path of the chunk already on
	// disk. The caller owns volume/session-name resolution since the
	// Dedup Index itself only knows integers (spec.md §4.5).
	ArchivePathOf func(sessionIndex int, addr int64) string
}

// Writer drives the per-chunk decision logic; it does not itself talk
// to a destination — that is internal/transport's job, composed one
// layer up by the CLI's send command.
type Writer struct {
	logger zerolog.Logger
}

// New creates a Writer.
func New(logger zerolog.Logger) *Writer {
	return &Writer{logger: logger}
}

// SendAllFrom computes spec.md §4.4 step 2 exactly.
func SendAllFrom(isFirstSession bool, volsize, priorVolsize int64) int64 {
	if isFirstSession {
		return 0
	}
	if volsize > priorVolsize {
		return priorVolsize
	}
	return volsize + 1
}

// Plan iterates every chunk address in [0, volsize) and decides, for
// each one eligible to be sent, whether it is a zero hole, a fresh
// chunk, or a dedup link — spec.md §4.4 steps 3-4. It returns entries
// in strictly ascending address order, the ordering guarantee spec.md
// §5 requires of the manifest and tar stream.
func (w *Writer) Plan(ctx context.Context, sessionName string, p Params) ([]Entry, error) {
	if err := chunkaddr.ValidateChunkSize(p.ChunkSize); err != nil {
		return nil, err
	}

	isFirst := p.Volume.IsEmpty()
	sendAllFrom := SendAllFrom(isFirst, p.Volsize, p.PriorVolsize)
	lastChunkAddr := chunkaddr.LastChunkAddr(p.Volsize, p.ChunkSize)

	var entries []Entry
	for addr := int64(0); addr < p.Volsize; addr += p.ChunkSize {
		k := chunkaddr.Index(addr, p.ChunkSize)
		dirty := p.DeltaMap != nil && p.DeltaMap.Get(k)
		if addr < sendAllFrom && !dirty {
			continue
		}

		length := chunkaddr.ChunkLen(addr, p.Volsize, p.ChunkSize)
		raw, err := p.Source.ReadAt(addr, length)
		if err != nil {
			return nil, fmt.Errorf("reading chunk at %s: %w", chunkaddr.Hex(addr), err)
		}

		if isAllZero(raw) && addr != lastChunkAddr {
			entries = append(entries, Entry{Addr: addr, Hash: "0", Kind: EntryZero})
			continue
		}

		compressed, err := compress(raw, p.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("compressing chunk at %s: %w", chunkaddr.Hex(addr), err)
		}
		sum := sha256.Sum256(compressed)
		hash := hex.EncodeToString(sum[:])

		if p.DedupIndex != nil {
			if hit, ok, err := p.DedupIndex.Lookup(ctx, hash); err != nil {
				return nil, fmt.Errorf("dedup lookup for chunk at %s: %w", chunkaddr.Hex(addr), err)
			} else if ok {
				target := p.ArchivePathOf(hit.SessionIndex, hit.Addr)
				entries = append(entries, Entry{Addr: addr, Hash: hash, Kind: EntryLink, LinkTarget: target})
				continue
			}
			if err := p.DedupIndex.Insert(ctx, hash, dedup.Entry{SessionIndex: p.SessionIndex, Addr: addr}); err != nil {
				return nil, fmt.Errorf("dedup insert for chunk at %s: %w", chunkaddr.Hex(addr), err)
			}
		}

		entries = append(entries, Entry{Addr: addr, Hash: hash, Kind: EntryChunk, Payload: compressed})
	}

	return entries, nil
}

// ToManifest strips entries down to the plain (hash, addr) pairs a
// session's manifest file records.
func ToManifest(entries []Entry) []archive.ManifestEntry {
	out := make([]archive.ManifestEntry, len(entries))
	for i, e := range entries {
		out[i] = archive.ManifestEntry{Hash: e.Hash, Addr: e.Addr}
	}
	return out
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func compress(raw []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "decompressing chunk: %v", err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
