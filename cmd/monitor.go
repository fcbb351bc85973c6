package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/deltamap"
	"github.com/prn-tf/coldsnap/internal/snapshot"
	"github.com/prn-tf/coldsnap/internal/thindelta"
	"github.com/prn-tf/coldsnap/internal/transport"
)

// newMonitorCmd implements the supplemented "monitor" operation: it
// rotates a fresh .tock, folds the thin-pool delta into the volume's
// Delta Map, and reports the written/freed block counts, without
// writing a session (the original tool's periodic cron-driven check,
// distinct from a full send).
func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor [vols...]",
		Short: "Fold the current thin-pool delta into the Delta Map without sending",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel, err := setupCommand(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			a, err := openArchive()
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				for name := range a.Volumes {
					names = append(names, name)
				}
			}

			localExec := transport.NewLocal(logger)
			for _, name := range names {
				if err := monitorOne(ctx, a, name, localExec, logger); err != nil {
					return fmt.Errorf("volume %s: %w", name, err)
				}
			}
			return nil
		},
	}
	return cmd
}

func monitorOne(ctx context.Context, a *archive.ArchiveSet, name string, localExec transport.Executor, logger zerolog.Logger) error {
	driver := &snapshot.LVMDriver{Executor: localExec, VGName: a.SourceVG, PoolName: a.SourcePool}
	thinPool := &snapshot.ThinPool{Executor: localExec, VGName: a.SourceVG, PoolName: a.SourcePool}

	dir := volumeDir(a, name)
	store := deltamap.NewStore(dir)
	mapExists := store.Exists()

	rotator := snapshot.New(driver, store, name, mapExists, logger)
	if err := rotator.EnsureReady(ctx); err != nil {
		return err
	}

	state, err := rotator.Inspect(ctx)
	if err != nil {
		return err
	}
	if state != snapshot.StateReady {
		logger.Info().Str("volume", name).Msg("volume is not in a monitorable state, skipping")
		return nil
	}

	if err := rotator.BeginDelta(ctx); err != nil {
		return err
	}

	thin1, err := thinPool.ThinID(ctx, name+"-tick")
	if err != nil {
		return err
	}
	thin2, err := thinPool.ThinID(ctx, name+"-tock")
	if err != nil {
		return err
	}

	if err := thinPool.ReserveMetadataSnapshot(ctx); err != nil {
		return err
	}
	regions, deltaErr := thinPool.Delta(ctx, thin1, thin2)
	_ = thinPool.ReleaseMetadataSnapshot(ctx)
	if deltaErr != nil {
		return deltaErr
	}

	volsize, err := driver.VolumeSize(ctx, name, "tock")
	if err != nil {
		return err
	}

	m, err := store.Load()
	if err != nil {
		return err
	}
	if m == nil {
		m = deltamap.NewForVolume(volsize, a.ChunkSize)
	} else {
		m.Resize(chunkaddr.NumChunks(volsize, a.ChunkSize))
	}

	dataBlockSize := int64(128)
	counts, err := thindelta.Translate(m, regions, dataBlockSize, a.ChunkSize)
	if err != nil {
		return err
	}

	if err := store.BeginWrite(m); err != nil {
		return err
	}
	if err := store.Commit(); err != nil {
		return err
	}

	changed := counts.WrittenBlocks > 0 || counts.FreedBlocks > 0
	if changed {
		if err := rotator.CommitMonitorPass(ctx); err != nil {
			return err
		}
	} else {
		if err := rotator.CommitDataUnchanged(ctx); err != nil {
			return err
		}
	}

	logger.Info().Str("volume", name).
		Int64("written_blocks", counts.WrittenBlocks).
		Int64("freed_blocks", counts.FreedBlocks).
		Msg("delta folded into delta map")
	return nil
}
