package sessionio

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// Mode selects the Receiver's destination action (spec.md §4.7 step 5).
type Mode int

const (
	ModeVerify Mode = iota
	ModeSave
	ModeDiff
)

// Sink is where the Receiver delivers each chunk's decompressed
// payload, one call per manifest entry in ascending address order.
// Implementations vary by Mode: verify discards, save writes at
// offset, diff compares against a live snapshot and optionally remaps.
type Sink interface {
	Deliver(addr, volsize, chunkSize int64, payload []byte) error
}

// DiscardSink implements ModeVerify: it only confirms the hash already
// checked out, which Receive does before ever calling Deliver.
type DiscardSink struct{}

func (DiscardSink) Deliver(addr, volsize, chunkSize int64, payload []byte) error { return nil }

// BuildReceiveManifest implements spec.md §4.7 steps 1-2: collect every
// session from first up to and including target, annotate, merge
// newest-first-wins by address, and truncate to the volume's current
// last chunk address.
func BuildReceiveManifest(v *archive.Volume, targetSession string, lastChunkAddr int64) ([]archive.ManifestEntry, error) {
	chain, err := v.SessionChainUpTo(targetSession)
	if err != nil {
		return nil, err
	}

	merged := mergeManifestsNewestFirst(chain)
	return truncateManifest(merged, lastChunkAddr), nil
}

// mergeManifestsNewestFirst reimplements the stable-unique-merge rule
// locally (archive.annotatedEntry is unexported, so this package
// merges plain ManifestEntry slices the same way: first occurrence,
// scanned newest session to oldest, wins).
func mergeManifestsNewestFirst(chainOldestFirst []*archive.Session) []archive.ManifestEntry {
	seen := make(map[int64]archive.ManifestEntry)
	for i := len(chainOldestFirst) - 1; i >= 0; i-- {
		for _, e := range chainOldestFirst[i].Manifest {
			if _, ok := seen[e.Addr]; ok {
				continue
			}
			seen[e.Addr] = e
		}
	}
	out := make([]archive.ManifestEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sortManifestByAddr(out)
	return out
}

func sortManifestByAddr(entries []archive.ManifestEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Addr < entries[j-1].Addr; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func truncateManifest(entries []archive.ManifestEntry, lastChunkAddr int64) []archive.ManifestEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.Addr <= lastChunkAddr {
			out = append(out, e)
		}
	}
	return out
}

// SourcePath renders the archive-relative path of a manifest entry's
// chunk within the session that owns it, under the volume directory
// that mirrors the local layout on the destination (spec.md §4.7
// step 3, §6).
func SourcePath(volume, sessionName string, addr int64) string {
	return volume + "/" + sessionName + "/" + chunkaddr.RelPath(addr)
}

// Receiver streams a manifest's chunks from a destination stdout
// stream framed as "4-byte big-endian size, then that many payload
// bytes (size 0 if missing)" (spec.md §4.7 step 3) and verifies,
// decompresses, and delivers each one.
type Receiver struct {
	logger zerolog.Logger
}

// NewReceiver creates a Receiver. (The name New is taken by Writer's
// constructor.)
func NewReceiver(logger zerolog.Logger) *Receiver {
	return &Receiver{logger: logger}
}

// Receive reads framed chunk payloads for entries (already in the
// order they were requested) and dispatches each to sink, per spec.md
// §4.7 step 4.
func (r *Receiver) Receive(stream io.Reader, entries []archive.ManifestEntry, volsize, chunkSize int64, sink Sink) error {
	lastChunkAddr := chunkaddr.LastChunkAddr(volsize, chunkSize)
	maxFramedSize := chunkSize + chunkSize/1024

	for _, e := range entries {
		if e.Hash == "0" {
			if err := sink.Deliver(e.Addr, volsize, chunkSize, nil); err != nil {
				return fmt.Errorf("delivering zero hole at %s: %w", chunkaddr.Hex(e.Addr), err)
			}
			continue
		}

		var sizeBuf [4]byte
		if _, err := io.ReadFull(stream, sizeBuf[:]); err != nil {
			return fmt.Errorf("reading size prefix for chunk at %s: %w", chunkaddr.Hex(e.Addr), err)
		}
		size := int64(binary.BigEndian.Uint32(sizeBuf[:]))
		if size < 0 || size > maxFramedSize {
			return coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "chunk at %s declared size %d exceeds bound %d", chunkaddr.Hex(e.Addr), size, maxFramedSize)
		}
		if size == 0 {
			return coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "chunk at %s missing from destination", chunkaddr.Hex(e.Addr))
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(stream, payload); err != nil {
			return fmt.Errorf("reading payload for chunk at %s: %w", chunkaddr.Hex(e.Addr), err)
		}

		sum := sha256.Sum256(payload)
		if hex.EncodeToString(sum[:]) != e.Hash {
			return coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "chunk at %s hash mismatch", chunkaddr.Hex(e.Addr))
		}

		decompressed, err := decompress(payload)
		if err != nil {
			return err
		}

		wantLen := chunkSize
		if e.Addr == lastChunkAddr {
			wantLen = volsize - lastChunkAddr
		}
		if int64(len(decompressed)) != wantLen {
			return coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "chunk at %s decompressed to %d bytes, want %d", chunkaddr.Hex(e.Addr), len(decompressed), wantLen)
		}

		if err := sink.Deliver(e.Addr, volsize, chunkSize, decompressed); err != nil {
			return fmt.Errorf("delivering chunk at %s: %w", chunkaddr.Hex(e.Addr), err)
		}
	}
	return nil
}

// DiffSink implements ModeDiff: it compares each received chunk
// against the corresponding region of a live snapshot, optionally
// OR-ing mismatches into a live Delta Map for resync (spec.md §4.7
// step 5's --remap option).
type DiffSink struct {
	Live      SourceReader
	Remap     func(addr int64) // nil when --remap is not set
	Mismatches []int64
}

func (d *DiffSink) Deliver(addr, volsize, chunkSize int64, payload []byte) error {
	length := chunkaddr.ChunkLen(addr, volsize, chunkSize)
	live, err := d.Live.ReadAt(addr, length)
	if err != nil {
		return fmt.Errorf("reading live snapshot at %s: %w", chunkaddr.Hex(addr), err)
	}

	expected := payload
	if expected == nil { // zero-hash hole
		expected = make([]byte, length)
	}

	if !bytes.Equal(live, expected) {
		d.Mismatches = append(d.Mismatches, addr)
		if d.Remap != nil {
			d.Remap(addr)
		}
	}
	return nil
}

var _ Sink = (*DiffSink)(nil)
