package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "list [vols...]",
		Short: "List registered volumes and their archive state",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, _, cancel, err := setupCommand(cmd)
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
				sort.Strings(names)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			if verbose {
				fmt.Fprintln(w, "VOLUME\tSESSIONS\tCURRENT SIZE\tLAST SESSION")
			} else {
				fmt.Fprintln(w, "VOLUME\tSESSIONS")
			}
			for _, name := range names {
				v, ok := a.Volumes[name]
				if !ok {
					return fmt.Errorf("volume %s not found in archive %s", name, a.Name)
				}
				if verbose {
					last := "-"
					if s := v.LastSession(); s != nil {
						last = s.Localtime.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", name, len(v.SessionOrder), v.CurrentSize, last)
				} else {
					fmt.Fprintf(w, "%s\t%d\n", name, len(v.SessionOrder))
				}
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show session count, current size, and last session time per volume")
	return cmd
}
