package snapshot

import (
	"fmt"
	"os"
	"strings"
)

// BlockDeviceReader implements sessionio.SourceReader against a local
// device node or sparse file path, the concrete form the .tock
// snapshot takes once LVMDriver has activated it (spec.md §1 excludes
// the driver itself from core scope, but reading its output is plain
// local I/O).
type BlockDeviceReader struct {
	f *os.File
}

// OpenBlockDevice opens path for random-access reads.
func OpenBlockDevice(path string) (*BlockDeviceReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot device %s: %w", path, err)
	}
	return &BlockDeviceReader{f: f}, nil
}

// ReadAt reads exactly length bytes at addr.
func (r *BlockDeviceReader) ReadAt(addr, length int64) ([]byte, error) {
	buf := make([]byte, length)
	if _, err := r.f.ReadAt(buf, addr); err != nil {
		return nil, fmt.Errorf("reading %d bytes at offset %d: %w", length, addr, err)
	}
	return buf, nil
}

// Close releases the underlying file descriptor.
func (r *BlockDeviceReader) Close() error { return r.f.Close() }

// DevicePath renders the /dev/mapper path LVM uses for a VG/LV pair,
// doubling embedded dashes as device-mapper's naming scheme requires.
func DevicePath(vg, lv string) string {
	escape := func(s string) string { return strings.ReplaceAll(s, "-", "--") }
	return fmt.Sprintf("/dev/mapper/%s-%s", escape(vg), escape(lv))
}
