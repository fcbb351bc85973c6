package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/archive"
)

func newAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <vol>",
		Short: "Register a new volume in the archive",
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

			if _, err := a.AddVolume(args[0]); err != nil {
				return err
			}
			if err := archive.SaveArchiveIni(a); err != nil {
				return fmt.Errorf("saving archive.ini: %w", err)
			}

			logger.Info().Str("volume", args[0]).Msg("volume added")
			return nil
		},
	}
	return cmd
}
