package snapshot

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/prn-tf/coldsnap/internal/thindelta"
	"github.com/prn-tf/coldsnap/internal/transport"
)

// ThinPool drives the metadata-snapshot reserve/release dance and the
// thin_delta invocation between a volume's .tick and .tock, following
// the original tool's get_lvm_deltas sequence: reserve a pool metadata
// snapshot once, run thin_delta per volume against it, then release it
// even on failure.
type ThinPool struct {
	Executor transport.Executor
	VGName   string
	PoolName string
}

func (p *ThinPool) tpoolDevice() string {
	return p.VGName + "-" + p.PoolName + "-tpool"
}

func (p *ThinPool) dmMessage(ctx context.Context, message string) error {
	cmd := fmt.Sprintf("dmsetup message %s 0 %s", p.tpoolDevice(), message)
	res, err := p.Executor.Run(ctx, cmd, nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, res.Stdout)
	return res.Wait()
}

// ReserveMetadataSnapshot releases any stale reservation and takes a
// fresh one, matching the original's release-then-reserve ordering
// (release is allowed to fail; the volume may have none held).
func (p *ThinPool) ReserveMetadataSnapshot(ctx context.Context) error {
	_ = p.dmMessage(ctx, "release_metadata_snap")
	return p.dmMessage(ctx, "reserve_metadata_snap")
}

// ReleaseMetadataSnapshot drops the pool metadata snapshot reservation.
func (p *ThinPool) ReleaseMetadataSnapshot(ctx context.Context) error {
	return p.dmMessage(ctx, "release_metadata_snap")
}

// Delta runs thin_delta between volume's .tick and .tock thin devices
// and parses the result, per spec.md §4.2. thin1Id/thin2Id are the
// thin-pool internal device IDs for the two snapshots (resolved by the
// caller via lvs, since that lookup is LVM-specific bookkeeping rather
// than part of the delta contract itself).
func (p *ThinPool) Delta(ctx context.Context, thin1ID, thin2ID string) ([]thindelta.Region, error) {
	metaDevice := fmt.Sprintf("/dev/mapper/%s-%s_tmeta", p.VGName, p.PoolName)
	cmd := fmt.Sprintf("thin_delta -m --thin1=%s --thin2=%s %s", thin1ID, thin2ID, metaDevice)
	res, err := p.Executor.Run(ctx, cmd, nil)
	if err != nil {
		return nil, fmt.Errorf("running thin_delta: %w", err)
	}
	regions, parseErr := thindelta.Parse(res.Stdout)
	if waitErr := res.Wait(); waitErr != nil {
		return nil, fmt.Errorf("thin_delta exited with error: %w", waitErr)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return regions, nil
}

// ThinID resolves a logical volume's thin-pool internal device ID via
// "lvs -o thin_id --noheadings".
func (p *ThinPool) ThinID(ctx context.Context, lvName string) (string, error) {
	cmd := fmt.Sprintf("lvs -o thin_id --noheadings %s/%s", p.VGName, lvName)
	res, err := p.Executor.Run(ctx, cmd, nil)
	if err != nil {
		return "", err
	}
	out, readErr := io.ReadAll(res.Stdout)
	if waitErr := res.Wait(); waitErr != nil {
		return "", fmt.Errorf("resolving thin_id for %s: %w", lvName, waitErr)
	}
	if readErr != nil {
		return "", readErr
	}
	return strings.TrimSpace(string(out)), nil
}
