package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/archive"
	"github.com/prn-tf/coldsnap/internal/catalog/postgres"
	"github.com/prn-tf/coldsnap/internal/coldsnaperr"
	"github.com/prn-tf/coldsnap/internal/merge"
	"github.com/prn-tf/coldsnap/internal/transport"
)

func newPruneCmd() *cobra.Command {
	var session string
	var allBefore string

	cmd := &cobra.Command{
		Use:   "prune <vol>",
		Short: "Merge a contiguous session range into the session that follows it",
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

			t1, t2, err := resolvePruneRange(v, session, allBefore)
			if err != nil {
				return err
			}

			targetName, err := merge.ShouldMerge(v, t1, t2)
			if err != nil {
				return err
			}

			plan, err := merge.Build(v, t1, t2, a.ChunkSize)
			if err != nil {
				return err
			}

			destExec, err := resolveExecutor(a.DestDescriptor, logger)
			if err != nil {
				return err
			}
			if err := runMergeCommands(ctx, plan, destExec, args[0]); err != nil {
				return err
			}
			// The merge target's directory (t1) now holds every surviving
			// chunk; it replaces target's own directory to become the
			// surviving session's home, both on the destination and in the
			// local metadata mirror.
			replaceCmd := fmt.Sprintf("rm -rf %s/%s && mv %s/%s %s/%s", args[0], targetName, args[0], t1, args[0], targetName)
			res, err := destExec.Run(ctx, replaceCmd, nil)
			if err != nil {
				return fmt.Errorf("replacing destination directory %s with merged %s: %w", targetName, t1, err)
			}
			if err := res.Wait(); err != nil {
				return fmt.Errorf("replacing destination directory %s with merged %s: %w", targetName, t1, err)
			}

			if err := merge.Apply(v, plan, targetName); err != nil {
				return err
			}

			dir := volumeDir(a, args[0])
			if err := os.RemoveAll(filepath.Join(dir, targetName)); err != nil {
				return fmt.Errorf("clearing local directory for %s: %w", targetName, err)
			}
			if err := os.Rename(filepath.Join(dir, t1), filepath.Join(dir, targetName)); err != nil {
				return fmt.Errorf("renaming local directory %s to %s: %w", t1, targetName, err)
			}

			mf, err := createManifestFile(filepath.Join(dir, targetName))
			if err != nil {
				return err
			}
			if err := archive.WriteManifest(mf, plan.NewManifest); err != nil {
				mf.Close()
				return err
			}
			if err := mf.Close(); err != nil {
				return err
			}
			if err := archive.SaveVolInfo(dir, v, false); err != nil {
				return err
			}
			if err := archive.SaveArchiveIni(a); err != nil {
				return err
			}

			if cfg.CatalogDSN != "" {
				cat, err := postgres.Open(ctx, cfg.CatalogDSN)
				if err != nil {
					logger.Warn().Err(err).Msg("failed to open fleet catalog for prune mirroring")
				} else {
					if err := cat.DeleteSessions(ctx, args[0], plan.PrunedNames); err != nil {
						logger.Warn().Err(err).Str("volume", args[0]).Msg("failed to mirror pruned sessions into fleet catalog")
					}
					cat.Close()
				}
			}

			logger.Info().Str("volume", args[0]).Strs("pruned", plan.PrunedNames).Msg("sessions pruned")
			return nil
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "session range to prune, T1,T2")
	cmd.Flags().StringVar(&allBefore, "all-before", "", "prune every prunable session strictly before T")
	return cmd
}

func resolvePruneRange(v *archive.Volume, session, allBefore string) (t1, t2 string, err error) {
	switch {
	case session != "":
		parts := strings.SplitN(session, ",", 2)
		if len(parts) != 2 {
			return "", "", coldsnaperr.Wrap(coldsnaperr.ErrConfiguration, "--session must be T1,T2, got %q", session)
		}
		return parts[0], parts[1], nil
	case allBefore != "":
		idx := v.IndexOf(allBefore)
		if idx <= 0 {
			return "", "", coldsnaperr.Wrap(coldsnaperr.ErrPrecondition, "--all-before %q has no prunable sessions preceding it", allBefore)
		}
		return v.SessionOrder[0], v.SessionOrder[idx-1], nil
	default:
		return "", "", coldsnaperr.Wrap(coldsnaperr.ErrConfiguration, "prune requires --session T1,T2 or --all-before T")
	}
}

// runMergeCommands executes a merge plan's destination-side rename and
// remove commands (spec.md §4.6 step 6) in plan order. A remove deletes
// the merge target's file at an address whose newest entry is the zero
// hash. Each address gets at most one command, so the relative order
// of renames and removes does not matter.
func runMergeCommands(ctx context.Context, plan merge.Plan, destExec transport.Executor, volume string) error {
	for _, c := range plan.Commands {
		var shellCmd string
		switch c.Kind {
		case merge.CommandRename:
			source := volume + "/" + c.Source
			target := volume + "/" + c.Target
			shellCmd = fmt.Sprintf("mkdir -p $(dirname %s) && mv %s %s", target, source, target)
		case merge.CommandRemove:
			shellCmd = fmt.Sprintf("rm -f %s/%s", volume, c.Target)
		}
		res, err := destExec.Run(ctx, shellCmd, nil)
		if err != nil {
			return fmt.Errorf("running merge command for chunk at addr %d: %w", c.Addr, err)
		}
		if err := res.Wait(); err != nil {
			return fmt.Errorf("merge command failed for chunk at addr %d: %w", c.Addr, err)
		}
	}
	return nil
}
