package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/archive"
)

func newDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <vol>",
		Short: "Unregister a volume and remove its local bookkeeping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, cancel, err := setupCommand(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			a, err := openArchive()
			if err != nil {
				return err
			}

			if err := a.DeleteVolume(args[0]); err != nil {
				return err
			}
			if err := os.RemoveAll(volumeDir(a, args[0])); err != nil {
				return fmt.Errorf("removing volume directory: %w", err)
			}
			if err := archive.SaveArchiveIni(a); err != nil {
				return fmt.Errorf("saving archive.ini: %w", err)
			}

			logger.Info().Str("volume", args[0]).Msg("volume deleted; destination chunks are not removed")
			return nil
		},
	}
	return cmd
}
