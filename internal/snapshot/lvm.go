package snapshot

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/prn-tf/coldsnap/internal/transport"
)

// LVMDriver implements Driver by shelling out lvcreate/lvremove/
// lvrename/lvs through a transport.Executor, the concrete form of
// spec.md §1's "block-device/thin-pool driver" collaborator. Command
// shapes follow the original tool's lvcreate/lvremove/lvrename
// invocations against thin-pool snapshots.
type LVMDriver struct {
	Executor transport.Executor
	VGName   string
	PoolName string
}

func (d *LVMDriver) snapName(volume, suffix string) string {
	return volume + "-" + suffix
}

func (d *LVMDriver) lvPath(name string) string {
	return d.VGName + "/" + name
}

func (d *LVMDriver) run(ctx context.Context, command string) (string, error) {
	res, err := d.Executor.Run(ctx, command, nil)
	if err != nil {
		return "", fmt.Errorf("running %q: %w", command, err)
	}
	out, readErr := io.ReadAll(res.Stdout)
	waitErr := res.Wait()
	if waitErr != nil {
		return string(out), fmt.Errorf("command %q failed: %w", command, waitErr)
	}
	if readErr != nil {
		return string(out), fmt.Errorf("reading output of %q: %w", command, readErr)
	}
	return string(out), nil
}

// CreateSnapshot takes a read-only, activated thin snapshot of volume, matching sparsebak's "lvcreate -pr -kn -ay -s
// VG/VOL" sequence.
func (d *LVMDriver) CreateSnapshot(ctx context.Context, volume, suffix string) error {
	name := d.snapName(volume, suffix)
	cmd := fmt.Sprintf("lvcreate -pr -kn -ay -s %s -n %s", d.lvPath(volume), name)
	_, err := d.run(ctx, cmd)
	return err
}

// RemoveSnapshot force-removes a snapshot, matching "lvremove -f".
func (d *LVMDriver) RemoveSnapshot(ctx context.Context, volume, suffix string) error {
	name := d.snapName(volume, suffix)
	cmd := fmt.Sprintf("lvremove -f %s", d.lvPath(name))
	_, err := d.run(ctx, cmd)
	return err
}

// RenameSnapshot renames one logical volume to another's name within
// the same volume group, matching "lvrename VG/FROM TO".
func (d *LVMDriver) RenameSnapshot(ctx context.Context, volume, fromSuffix, toSuffix string) error {
	from := d.snapName(volume, fromSuffix)
	to := d.snapName(volume, toSuffix)
	cmd := fmt.Sprintf("lvrename %s %s %s", d.VGName, from, to)
	_, err := d.run(ctx, cmd)
	return err
}

// SnapshotExists checks presence via "lvs -o lv_name --noheadings",
// since lvs exits non-zero for a missing LV name rather than printing
// an empty line.
func (d *LVMDriver) SnapshotExists(ctx context.Context, volume, suffix string) (bool, error) {
	name := d.snapName(volume, suffix)
	cmd := fmt.Sprintf("lvs -o lv_name --noheadings %s 2>/dev/null", d.lvPath(name))
	out, err := d.run(ctx, cmd)
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == name, nil
}

// VolumeSize reads the snapshot's size in bytes via "lvs -o lv_size
// --units b --noheadings --nosuffix".
func (d *LVMDriver) VolumeSize(ctx context.Context, volume, suffix string) (int64, error) {
	name := d.snapName(volume, suffix)
	cmd := fmt.Sprintf("lvs -o lv_size --units b --noheadings --nosuffix %s", d.lvPath(name))
	out, err := d.run(ctx, cmd)
	if err != nil {
		return 0, err
	}
	size, parseErr := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("parsing lvs size output %q: %w", out, parseErr)
	}
	return size, nil
}

var _ Driver = (*LVMDriver)(nil)
