package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/chunkaddr"
	"github.com/prn-tf/coldsnap/internal/sessionio"
)

func newReceiveCmd() *cobra.Command {
	var saveTo string
	var session string

	cmd := &cobra.Command{
		Use:   "receive <vol>",
		Short: "Restore a volume's state (through an optional target session) to a local file",
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
			if saveTo == "" {
				return fmt.Errorf("--save-to is required")
			}

			target := session
			if target == "" {
				last := v.LastSession()
				if last == nil {
					return fmt.Errorf("volume %s has no sessions to receive", args[0])
				}
				target = last.Name
			}
			targetSession, ok := v.Sessions[target]
			if !ok {
				return fmt.Errorf("session %s not found in volume %s", target, args[0])
			}

			entries, sessions, err := annotatedReceiveManifest(v, target, chunkaddr.LastChunkAddr(targetSession.Volsize, a.ChunkSize))
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

			sink, err := sessionio.NewFileSaveSink(saveTo, targetSession.Volsize)
			if err != nil {
				return err
			}
			defer sink.Close()

			receiver := sessionio.NewReceiver(logger)
			if err := receiver.Receive(stream, entries, targetSession.Volsize, a.ChunkSize, sink); err != nil {
				return err
			}

			logger.Info().Str("volume", args[0]).Str("session", target).Str("save_to", saveTo).Msg("volume received")
			return nil
		},
	}

	cmd.Flags().StringVar(&saveTo, "save-to", "", "local file path to write the restored volume image to")
	cmd.Flags().StringVar(&session, "session", "", "target session to restore through (defaults to the latest)")
	return cmd
}
