package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
)

func newArchInitCmd() *cobra.Command {
	var source, dest, subdir, compression string

	cmd := &cobra.Command{
		Use:   "arch-init",
		Short: "Create a new archive rooted at --dest",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _, cancel, err := setupCommand(cmd)
			if err != nil {
				return err
			}
			defer cancel()

			vg, pool, ok := strings.Cut(source, "/")
			if !ok {
				return coldsnaperr.Wrap(coldsnaperr.ErrConfiguration, "--source must be VG/POOL, got %q", source)
			}

			algo, level, err := parseCompression(compression)
			if err != nil {
				return err
			}

			a := archive.New(dest, archiveRoot(), cfg.ChunkSize(), algo, level, vg, pool, dest)
			a.Subdir = subdir
			if err := archive.SaveArchiveIni(a); err != nil {
				return fmt.Errorf("saving archive.ini: %w", err)
			}

			logger.Info().Str("archive", a.Name).Str("dest", dest).Msg("archive initialized")
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "source volume group/thin pool, VG/POOL")
	cmd.Flags().StringVar(&dest, "dest", "", "destination descriptor, <scheme>://[sys/]path")
	cmd.Flags().StringVar(&subdir, "subdir", "", "destination subdirectory")
	cmd.Flags().StringVar(&compression, "compression", "zlib:6", "compression algorithm, zlib[:level] or none")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

// parseCompression parses "zlib[:level]" or "none" per spec.md §6.
func parseCompression(s string) (archive.CompressionAlgo, int, error) {
	name, levelStr, hasLevel := strings.Cut(s, ":")
	switch name {
	case "none":
		return archive.CompressionNone, 0, nil
	case "zlib":
		if !hasLevel {
			return archive.CompressionZlib, 6, nil
		}
		level, err := strconv.Atoi(levelStr)
		if err != nil || level < 0 || level > 9 {
			return "", 0, coldsnaperr.Wrap(coldsnaperr.ErrConfiguration, "invalid zlib compression level %q", levelStr)
		}
		return archive.CompressionZlib, level, nil
	default:
		return "", 0, coldsnaperr.Wrap(coldsnaperr.ErrConfiguration, "unrecognized --compression %q", s)
	}
}
