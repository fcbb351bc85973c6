// Package chunkaddr implements chunk addressing for coldsnap volumes:
// fixed-size chunks identified by their byte offset, rendered as a
// fixed-width hex address, and split into the two-level directory tree
// the archive store uses on disk.
//
// The sharding scheme mirrors internal/domain's ComputeStoragePath in the
// teacher (two-level hash-prefix directories to keep leaf directories
// small), generalized from a content-hash prefix to an address prefix
// because chunks here are addressed by offset, not by hash.
package chunkaddr

import (
	"fmt"

	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

// MinChunkSize is the smallest legal chunk size: 512 bytes * 128.
const MinChunkSize = 512 * 128

// AddressHexDigits is the width of a rendered chunk address: 16 hex
// digits cover a full 64-bit byte offset.
const AddressHexDigits = 16

// SplitHexDigits is the number of leading hex digits of an address used
// as the high-order directory component, leaving a 7-digit leaf as
// spec.md §3 describes ("7-digit leaf" for a 64-bit address space).
const SplitHexDigits = AddressHexDigits - 7

// ValidateChunkSize reports whether C is a positive multiple of
// MinChunkSize, as spec.md §4.1 requires.
func ValidateChunkSize(c int64) error {
	if c <= 0 || c%MinChunkSize != 0 {
		return coldsnaperr.Wrap(coldsnaperr.ErrConfiguration,
			"chunk size %d must be a positive multiple of %d", c, MinChunkSize)
	}
	return nil
}

// Index returns the chunk index k = addr / C for a byte offset.
func Index(addr, chunkSize int64) int64 {
	return addr / chunkSize
}

// Addr returns the byte offset of chunk index k.
func Addr(k, chunkSize int64) int64 {
	return k * chunkSize
}

// Hex renders a byte offset as a fixed-width lowercase hex address,
// e.g. "x000000000001f000" style strings are built by callers as
// "x" + Hex(addr).
func Hex(addr int64) string {
	return fmt.Sprintf("%0*x", AddressHexDigits, addr)
}

// ParseHex parses a rendered hex address (without the "x" prefix) back
// into a byte offset.
func ParseHex(s string) (int64, error) {
	var addr int64
	n, err := fmt.Sscanf(s, "%x", &addr)
	if err != nil || n != 1 {
		return 0, coldsnaperr.Wrap(coldsnaperr.ErrDataIntegrity, "invalid chunk address %q", s)
	}
	return addr, nil
}

// SplitDir returns the high-order directory component and the file name
// ("x<addr>") for a chunk at the given address, matching spec.md §3:
// "<session>/<address[:split]>/x<address>".
func SplitDir(addr int64) (dir, file string) {
	hex := Hex(addr)
	return hex[:SplitHexDigits], "x" + hex
}

// RelPath returns the path of a chunk file relative to its session
// directory.
func RelPath(addr int64) string {
	dir, file := SplitDir(addr)
	return dir + "/" + file
}

// LastChunkAddr implements spec.md §8 invariant 4:
//
//	last_chunk_addr(volsize, C) = volsize - 1 - ((volsize - 1) mod C)
//
// It is the address of the final chunk covering a volume of the given
// size, i.e. the chunk-aligned offset nearest the end of the volume.
func LastChunkAddr(volsize, chunkSize int64) int64 {
	if volsize <= 0 {
		return 0
	}
	return volsize - 1 - ((volsize - 1) % chunkSize)
}

// NumChunks returns the number of chunks needed to cover a volume of the
// given size (the final chunk may be short).
func NumChunks(volsize, chunkSize int64) int64 {
	if volsize <= 0 {
		return 0
	}
	return (volsize + chunkSize - 1) / chunkSize
}

// ChunkLen returns the number of bytes in the chunk starting at addr for
// a volume of the given size: chunkSize, except for the final chunk
// which may be shorter.
func ChunkLen(addr, volsize, chunkSize int64) int64 {
	remaining := volsize - addr
	if remaining < chunkSize {
		return remaining
	}
	return chunkSize
}
