package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newArchDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arch-delete",
		Short: "Delete the local archive metadata directory",
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
			if len(a.Volumes) > 0 && !cfg.Unattended {
				return fmt.Errorf("archive %s still has %d registered volume(s); delete them first or pass -u", a.Name, len(a.Volumes))
			}

			if err := os.RemoveAll(a.LocalRoot); err != nil {
				return fmt.Errorf("removing archive root %s: %w", a.LocalRoot, err)
			}
			logger.Info().Str("archive", a.Name).Msg("archive deleted")
			return nil
		},
	}
	return cmd
}
