package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/deltamap"
	"github.com/prn-tf/coldsnap/internal/sessionio"
	"github.com/prn-tf/coldsnap/internal/snapshot"
)

// newDiffCmd implements spec.md §4.7's diff destination action: receive
// the latest (or --session) receive manifest and compare every chunk
// byte-for-byte against the volume's current `-tick` device, the most
// recent stable reference the rotator keeps around between sends.
// With --remap, a mismatch is OR-ed into the live Delta Map so the next
// send picks it up, the resync path spec.md §4.7 step 5 describes.
func newDiffCmd() *cobra.Command {
	var session string
	var remap bool

	cmd := &cobra.Command{
		Use:   "diff <vol>",
		Short: "Compare an archived session against the live volume",
		Args:  cobra.ExactArgs(1),
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
			v, ok := a.Volumes[args[0]]
			if !ok {
				return fmt.Errorf("volume %s not registered in archive %s", args[0], a.Name)
			}

			target := session
			if target == "" {
				last := v.LastSession()
				if last == nil {
					return fmt.Errorf("volume %s has no sessions to diff", args[0])
				}
				target = last.Name
			}
			targetSession, ok := v.Sessions[target]
			if !ok {
				return fmt.Errorf("session %s not found in volume %s", target, args[0])
			}

			lastChunkAddr := chunkaddr.LastChunkAddr(targetSession.Volsize, a.ChunkSize)
			entries, sessions, err := annotatedReceiveManifest(v, target, lastChunkAddr)
			if err != nil {
				return err
			}

			destExec, err := resolveExecutor(a.DestDescriptor, logger)
			if err != nil {
				return err
			}
			stream, err := streamManifestChunks(ctx, destExec, args[0], entries, sessions)
			if err != nil {
				return err
			}
			defer stream.Close()

			livePath := snapshot.DevicePath(a.SourceVG, args[0]+"-tick")
			live, err := snapshot.OpenBlockDevice(livePath)
			if err != nil {
				return err
			}
			defer live.Close()

			dir := volumeDir(a, args[0])
			store := deltamap.NewStore(dir)
			var m *deltamap.Map
			if remap {
				m, err = store.Load()
				if err != nil {
					return err
				}
				if m == nil {
					m = deltamap.NewForVolume(targetSession.Volsize, a.ChunkSize)
				}
			}

			sink := &sessionio.DiffSink{Live: live}
			if remap {
				sink.Remap = func(addr int64) { m.Set(chunkaddr.Index(addr, a.ChunkSize)) }
			}

			receiver := sessionio.NewReceiver(logger)
			if err := receiver.Receive(stream, entries, targetSession.Volsize, a.ChunkSize, sink); err != nil {
				return err
			}

			if remap && len(sink.Mismatches) > 0 {
				if err := store.BeginWrite(m); err != nil {
					return err
				}
				if err := store.Commit(); err != nil {
					return err
				}
			}

			logger.Info().Str("volume", args[0]).Str("session", target).
				Int("mismatches", len(sink.Mismatches)).Bool("remapped", remap).Msg("diff complete")
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "target session to diff against (defaults to the latest)")
	cmd.Flags().BoolVar(&remap, "remap", false, "OR each mismatched chunk into the live Delta Map for resync")
	return cmd
}
