package cmd

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/catalog/postgres"
	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/dedup"
	"github.com/prn-tf/coldsnap/internal/deltamap"
	"github.com/prn-tf/coldsnap/internal/lock"
	"github.com/prn-tf/coldsnap/internal/metrics"
	"github.com/prn-tf/coldsnap/internal/sessionio"
	"github.com/prn-tf/coldsnap/internal/snapshot"
	"github.com/prn-tf/coldsnap/internal/thindelta"
	"github.com/prn-tf/coldsnap/internal/transport"
)

func newSendCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "send [vols...]",
		Short: "Rotate tick/tock, compute the delta, and commit a new session",
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

			destExec, err := resolveExecutor(a.DestDescriptor, logger)
			if err != nil {
				return err
			}

			m := metrics.New()
			if cfg.MetricsListen != "" {
				go serveMetrics(cfg.MetricsListen, logger)
			}
			locker := lock.NewFileLocker(filepath.Join(a.LocalRoot, ".locks"))

			var cat *postgres.Catalog
			if cfg.CatalogDSN != "" {
				cat, err = postgres.Open(ctx, cfg.CatalogDSN)
				if err != nil {
					return fmt.Errorf("opening fleet catalog: %w", err)
				}
				defer cat.Close()
				if err := cat.EnsureSchema(ctx); err != nil {
					return err
				}
			}

			for _, name := range names {
				if err := sendOne(ctx, a, name, destExec, locker, m, logger, dryRun, cat); err != nil {
					return fmt.Errorf("volume %s: %w", name, err)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report the delta that would be sent without shipping or committing anything")
	return cmd
}

func sendOne(ctx context.Context, a *archive.ArchiveSet, name string, destExec transport.Executor, locker lock.Locker, m *metrics.Metrics, logger zerolog.Logger, dryRun bool, cat *postgres.Catalog) error {
	v, ok := a.Volumes[name]
	if !ok {
		return fmt.Errorf("volume %s not registered in archive %s", name, a.Name)
	}

	held, err := locker.Acquire(ctx, name, 30*time.Minute)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !held {
		return fmt.Errorf("volume %s is locked by another coldsnap operation", name)
	}
	defer func() { _, _ = locker.Release(ctx, name) }()

	started := time.Now()

	localExec := transport.NewLocal(logger)
	driver := &snapshot.LVMDriver{Executor: localExec, VGName: a.SourceVG, PoolName: a.SourcePool}
	thinPool := &snapshot.ThinPool{Executor: localExec, VGName: a.SourceVG, PoolName: a.SourcePool}

	dir := volumeDir(a, name)
	store := deltamap.NewStore(dir)
	mapExists := store.Exists()

	rotator := snapshot.New(driver, store, name, mapExists, logger)
	if err := rotator.EnsureReady(ctx); err != nil {
		return err
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

	deltaMap, err := store.Load()
	if err != nil {
		return err
	}
	volsize, err := driver.VolumeSize(ctx, name, "tock")
	if err != nil {
		return err
	}
	if deltaMap == nil {
		deltaMap = deltamap.NewForVolume(volsize, a.ChunkSize)
	} else {
		deltaMap.Resize(chunkaddr.NumChunks(volsize, a.ChunkSize))
	}

	dataBlockSize := int64(128) // thin pool default, matches the original tool's configured chunk/block ratio
	counts, err := thindelta.Translate(deltaMap, regions, dataBlockSize, a.ChunkSize)
	if err != nil {
		return err
	}
	logger.Info().Str("volume", name).Int64("written_blocks", counts.WrittenBlocks).Int64("freed_blocks", counts.FreedBlocks).Msg("delta computed")

	priorVolsize := int64(0)
	if last := v.LastSession(); last != nil {
		priorVolsize = last.Volsize
	}

	device, err := snapshot.OpenBlockDevice(snapshot.DevicePath(a.SourceVG, name+"-tock"))
	if err != nil {
		return err
	}
	defer device.Close()

	// Dedup operates archive-wide: the index is built from every
	// volume's sessions in chronological order, not just this volume's
	// own chain, so that two volumes writing the same block dedup
	// against each other (spec.md §3, §4.5).
	globalSessions := a.AllSessionsByLocaltime()
	volOfIndex := make([]string, len(globalSessions))
	nameOfIndex := make([]string, len(globalSessions))
	sources := make([]dedup.ManifestSource, len(globalSessions))
	for i, vs := range globalSessions {
		volOfIndex[i] = vs.Volume
		nameOfIndex[i] = vs.Session.Name
		hashes := make([]dedup.HashAddr, len(vs.Session.Manifest))
		for j, e := range vs.Session.Manifest {
			hashes[j] = dedup.HashAddr{Hash: e.Hash, Addr: e.Addr}
		}
		sources[i] = dedup.ManifestSource{SessionIndex: i, Hashes: hashes}
	}
	idx := dedup.NewMemoryIndex()
	if len(globalSessions) > a.MaxDedupSessionIndex16() {
		logger.Warn().Str("volume", name).Int("sessions", len(globalSessions)).
			Msg("archive exceeds the 16-bit dedup session index bound, sending without cross-session dedup")
	} else if err := dedup.BuildFromManifests(ctx, idx, sources); err != nil {
		return err
	}

	writer := sessionio.New(logger)
	sessionName := archive.NewSessionName(time.Now())
	newSessionIndex := len(globalSessions)
	tmpSessionName := sessionName + "-tmp"

	// ArchivePathOf resolves a dedup hit's archive-wide session index
	// back to a volume/session pair. A hit against the session
	// currently being written (this run's own dedup insertions) lands
	// on the not-yet-committed -tmp directory; everything else points
	// at an already-committed session, possibly in another volume.
	archivePathOf := func(sessionIndex int, addr int64) string {
		if sessionIndex == newSessionIndex {
			return sessionio.SourcePath(name, tmpSessionName, addr)
		}
		return sessionio.SourcePath(volOfIndex[sessionIndex], nameOfIndex[sessionIndex], addr)
	}

	entries, err := writer.Plan(ctx, sessionName, sessionio.Params{
		Volume:           v,
		Source:           device,
		DeltaMap:         deltaMap,
		PriorVolsize:     priorVolsize,
		Volsize:          volsize,
		ChunkSize:        a.ChunkSize,
		CompressionLevel: a.CompressionLevel,
		DedupIndex:       idx,
		SessionIndex:     newSessionIndex,
		ArchivePathOf:    archivePathOf,
	})
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		logger.Info().Str("volume", name).Msg("no changes to send")
		if !dryRun {
			if err := rotator.CommitDataUnchanged(ctx); err != nil {
				return err
			}
		}
		m.RecordSessionRun(name, "noop", time.Since(started).Seconds())
		return nil
	}

	if dryRun {
		logger.Info().Str("volume", name).Int("chunks", len(entries)).Msg("dry-run: would send these chunks")
		return nil
	}

	var chunksSent, bytesSent, linked, zeroHoles int64
	for _, e := range entries {
		switch e.Kind {
		case sessionio.EntryZero:
			zeroHoles++
		case sessionio.EntryLink:
			dir, file := chunkaddr.SplitDir(e.Addr)
			destPath := fmt.Sprintf("%s/%s/%s/%s", name, tmpSessionName, dir, file)
			cmd := fmt.Sprintf("mkdir -p $(dirname %s) && (ln %s %s || cp %s %s)",
				destPath, e.LinkTarget, destPath, e.LinkTarget, destPath)
			res, err := destExec.Run(ctx, cmd, nil)
			if err != nil {
				return fmt.Errorf("linking chunk at %s to %s: %w", chunkaddr.Hex(e.Addr), e.LinkTarget, err)
			}
			if err := res.Wait(); err != nil {
				return fmt.Errorf("linking chunk at %s to %s: %w", chunkaddr.Hex(e.Addr), e.LinkTarget, err)
			}
			linked++
			m.RecordChunk(name, "link", 0)
		case sessionio.EntryChunk:
			dir, file := chunkaddr.SplitDir(e.Addr)
			destPath := fmt.Sprintf("%s/%s/%s/%s", name, tmpSessionName, dir, file)
			cmd := fmt.Sprintf("mkdir -p $(dirname %s) && cat > %s", destPath, destPath)
			res, err := destExec.Run(ctx, cmd, bytes.NewReader(e.Payload))
			if err != nil {
				return fmt.Errorf("shipping chunk at %s: %w", chunkaddr.Hex(e.Addr), err)
			}
			if err := res.Wait(); err != nil {
				return fmt.Errorf("shipping chunk at %s: %w", chunkaddr.Hex(e.Addr), err)
			}
			chunksSent++
			bytesSent += int64(len(e.Payload))
			m.RecordChunk(name, "literal", int64(len(e.Payload)))
		}
	}

	renameCmd := fmt.Sprintf("mv %s/%s %s/%s", name, tmpSessionName, name, sessionName)
	res, err := destExec.Run(ctx, renameCmd, nil)
	if err != nil {
		return fmt.Errorf("committing session %s on destination: %w", sessionName, err)
	}
	if err := res.Wait(); err != nil {
		return fmt.Errorf("committing session %s on destination: %w", sessionName, err)
	}

	session := &archive.Session{
		Name:      sessionName,
		Localtime: time.Now(),
		Volsize:   volsize,
		Format:    archive.FormatFolders,
		Previous:  archive.NonePrevious,
		Manifest:  sessionio.ToManifest(entries),
	}
	if last := v.LastSession(); last != nil {
		session.Sequence = last.Sequence + 1
		session.Previous = last.Name
	}
	if err := v.AppendSession(session); err != nil {
		return err
	}

	if err := archive.SaveSessionInfo(filepath.Join(dir, sessionName), session); err != nil {
		return err
	}
	mf, err := createManifestFile(filepath.Join(dir, sessionName))
	if err != nil {
		return err
	}
	if err := archive.WriteManifest(mf, session.Manifest); err != nil {
		mf.Close()
		return err
	}
	if err := mf.Close(); err != nil {
		return err
	}

	if err := archive.SaveVolInfo(dir, v, true); err != nil {
		return err
	}
	if err := archive.CommitVolInfo(dir); err != nil {
		return err
	}
	if err := archive.SaveArchiveIni(a); err != nil {
		return err
	}

	if err := rotator.CommitDataChanged(ctx, chunkaddr.NumChunks(volsize, a.ChunkSize)); err != nil {
		return err
	}

	if cat != nil {
		if err := cat.RecordSession(ctx, name, session); err != nil {
			logger.Warn().Err(err).Str("volume", name).Str("session", sessionName).Msg("failed to mirror session into fleet catalog")
		}
	}

	m.RecordSessionRun(name, "ok", time.Since(started).Seconds())
	logger.Info().Str("volume", name).Str("session", sessionName).
		Int64("chunks_sent", chunksSent).Int64("bytes_sent", bytesSent).
		Int64("linked", linked).Int64("zero_holes", zeroHoles).Msg("session committed")
	return nil
}
