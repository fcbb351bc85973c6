// Package snapshot implements the Tick/Tock Snapshot Rotator: the
// state machine that keeps at most two LVM-thin snapshots per volume
// and drives the Delta Map lifecycle around a send.
package snapshot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
	"github.com/prn-tf/coldsnap/internal/deltamap"
)

// Driver is the external collaborator spec.md §1 carves out of core
// scope: "the block-device/thin-pool driver (exposing snapshot
// creation, removal, and thin-delta)". Implementations shell out to
// `lvcreate`/`lvremove`/`lvrename`/`lvs` through the transport shim;
// thin-delta is not part of this interface (ThinPool runs it).
type Driver interface {
	CreateSnapshot(ctx context.Context, volume, snapshotSuffix string) error
	RemoveSnapshot(ctx context.Context, volume, snapshotSuffix string) error
	RenameSnapshot(ctx context.Context, volume, fromSuffix, toSuffix string) error
	SnapshotExists(ctx context.Context, volume, snapshotSuffix string) (bool, error)
	VolumeSize(ctx context.Context, volume, snapshotSuffix string) (int64, error)
}

const (
	tickSuffix = "tick"
	tockSuffix = "tock"
)

// State names the volume's position in the rotation state machine
// (spec.md §4.3's state-transition table).
type State int

const (
	// StateFresh: no .tick, no map, no sessions. The volume is new.
	StateFresh State = iota
	// StateInconsistent: map exists but .tick does not.
	StateInconsistent
	// StateReady: .tick exists. Inspect does not probe for .tock.
	StateReady
	// StateDelta: both .tick and .tock exist, ready for a send.
	// Inspect never returns it.
	StateDelta
)

// Rotator drives one volume's snapshot lifecycle.
type Rotator struct {
	driver    Driver
	deltaMap  *deltamap.Store
	logger    zerolog.Logger
	volume    string
	mapExists bool
}

// New creates a Rotator for one volume.
func New(driver Driver, deltaMap *deltamap.Store, volume string, mapExists bool, logger zerolog.Logger) *Rotator {
	return &Rotator{driver: driver, deltaMap: deltaMap, volume: volume, mapExists: mapExists, logger: logger}
}

// Inspect determines the volume's current rotation state by probing
// for .tick/.tock, per spec.md §4.3's precondition column.
func (r *Rotator) Inspect(ctx context.Context) (State, error) {
	hasTick, err := r.driver.SnapshotExists(ctx, r.volume, tickSuffix)
	if err != nil {
		return 0, fmt.Errorf("checking .tick for %s: %w", r.volume, err)
	}

	if !hasTick {
		if r.mapExists {
			return StateInconsistent, nil
		}
		return StateFresh, nil
	}
	return StateReady, nil
}

// EnsureReady brings a fresh volume up to StateReady by creating its
// first .tick snapshot ("No .tick, no map, no sessions -> create .tick
// from live volume; ready; volume marked new").
func (r *Rotator) EnsureReady(ctx context.Context) error {
	state, err := r.Inspect(ctx)
	if err != nil {
		return err
	}
	switch state {
	case StateFresh:
		if err := r.driver.CreateSnapshot(ctx, r.volume, tickSuffix); err != nil {
			return fmt.Errorf("creating initial .tick for %s: %w", r.volume, err)
		}
		r.logger.Info().Str("volume", r.volume).Msg("created baseline .tick snapshot")
		return nil
	case StateInconsistent:
		return coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "volume %s has a delta map but no .tick snapshot", r.volume)
	default:
		return nil
	}
}

// BeginDelta creates a fresh .tock for the current operation, first
// clearing any stale one left over from a prior interrupted run
// (spec.md §4.3: "Stale .tock at start -> remove it before creating
// fresh .tock").
func (r *Rotator) BeginDelta(ctx context.Context) error {
	hasTock, err := r.driver.SnapshotExists(ctx, r.volume, tockSuffix)
	if err != nil {
		return fmt.Errorf("checking .tock for %s: %w", r.volume, err)
	}
	if hasTock {
		r.logger.Warn().Str("volume", r.volume).Msg("removing stale .tock before creating fresh one")
		if err := r.driver.RemoveSnapshot(ctx, r.volume, tockSuffix); err != nil {
			return fmt.Errorf("removing stale .tock for %s: %w", r.volume, err)
		}
	}
	if err := r.driver.CreateSnapshot(ctx, r.volume, tockSuffix); err != nil {
		return fmt.Errorf("creating .tock for %s: %w", r.volume, err)
	}
	return nil
}

// CommitDataChanged performs the rotation spec.md §4.3 names for a
// successful send that actually changed data: drop .tick, promote
// .tock to .tick, and zero the Delta Map.
func (r *Rotator) CommitDataChanged(ctx context.Context, numChunks int64) error {
	if err := r.driver.RemoveSnapshot(ctx, r.volume, tickSuffix); err != nil {
		return fmt.Errorf("removing old .tick for %s: %w", r.volume, err)
	}
	if err := r.promoteTockToTick(ctx); err != nil {
		return err
	}
	if err := r.deltaMap.CommitZeroed(numChunks); err != nil {
		return fmt.Errorf("zeroing delta map for %s: %w", r.volume, err)
	}
	r.mapExists = true
	return nil
}

// CommitMonitorPass rotates .tick/.tock for a monitor-only run that
// found dirty regions: drop .tick, promote .tock to .tick. Unlike
// CommitDataChanged it never zeroes the Delta Map — monitor only folds
// deltas into the map, it never ships chunks, so the accumulated bits
// must survive into the next real send.
func (r *Rotator) CommitMonitorPass(ctx context.Context) error {
	if err := r.driver.RemoveSnapshot(ctx, r.volume, tickSuffix); err != nil {
		return fmt.Errorf("removing old .tick for %s: %w", r.volume, err)
	}
	if err := r.promoteTockToTick(ctx); err != nil {
		return err
	}
	r.mapExists = true
	return nil
}

// CommitDataUnchanged discards the throwaway .tock when a monitor or
// send pass found nothing dirty, leaving .tick as-is (spec.md §4.3:
// "After send commits, no data changed -> remove .tock; .tick
// unchanged").
func (r *Rotator) CommitDataUnchanged(ctx context.Context) error {
	if err := r.driver.RemoveSnapshot(ctx, r.volume, tockSuffix); err != nil {
		return fmt.Errorf("removing .tock for %s: %w", r.volume, err)
	}
	return nil
}

// RecoverFromInterruption implements spec.md §4.3's restart recipe for
// a send that failed after the map/session tmp were written but before
// rotation: adopt the -tmp map as current and drop any stale .tock.
// Removing a stale session-tmp directory is the caller's
// responsibility (it lives under the destination, not here).
func (r *Rotator) RecoverFromInterruption(ctx context.Context) error {
	if r.deltaMap.Exists() {
		if _, err := r.deltaMap.Load(); err != nil {
			return fmt.Errorf("adopting -tmp delta map for %s during recovery: %w", r.volume, err)
		}
	}
	hasTock, err := r.driver.SnapshotExists(ctx, r.volume, tockSuffix)
	if err != nil {
		return fmt.Errorf("checking .tock for %s during recovery: %w", r.volume, err)
	}
	if hasTock {
		if err := r.driver.RemoveSnapshot(ctx, r.volume, tockSuffix); err != nil {
			return fmt.Errorf("removing .tock for %s during recovery: %w", r.volume, err)
		}
	}
	return nil
}

// promoteTockToTick renames .tock to .tick, the single atomic
// operation spec.md §4.3 calls rotation.
func (r *Rotator) promoteTockToTick(ctx context.Context) error {
	if err := r.driver.RenameSnapshot(ctx, r.volume, tockSuffix, tickSuffix); err != nil {
		return fmt.Errorf("promoting .tock to .tick for %s: %w", r.volume, err)
	}
	return nil
}
