// Package cmd implements coldsnap's cobra-based CLI surface (spec.md
// §6), the out-of-scope "top-level argument parser" collaborator
// spec.md §1 names — rebuilt here since the teacher ships no CLI
// entrypoint of its own, following the retrieval pack's root-command
// idiom (hemzaz-freightliner's cmd/root.go).
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/prn-tf/coldsnap/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "coldsnap",
	Short: "Incremental, content-addressed snapshot backup for thin-provisioned volumes",
	Long: `coldsnap captures successive point-in-time states of thin-provisioned
logical volumes, ships only the changed chunks to a remote archive, and
can verify, restore, diff, and prune that archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Exit codes follow spec.md §6: 0 on
// success or clean no-op, 1 on any fatal error with a one-line message
// on stderr.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cfg = config.NewDefault()
	cfg.AddFlagsToCommand(rootCmd)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newArchInitCmd())
	rootCmd.AddCommand(newArchDeleteCmd())
	rootCmd.AddCommand(newAddCmd())
	rootCmd.AddCommand(newDeleteCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newMonitorCmd())
	rootCmd.AddCommand(newSendCmd())
	rootCmd.AddCommand(newPruneCmd())
	rootCmd.AddCommand(newReceiveCmd())
	rootCmd.AddCommand(newVerifyCmd())
	rootCmd.AddCommand(newDiffCmd())
}

// setupCommand binds the env/config overlay, builds a logger at the
// configured level, and wires a context that cancels on SIGINT/SIGTERM.
func setupCommand(cmd *cobra.Command) (zerolog.Logger, context.Context, context.CancelFunc, error) {
	if err := cfg.BindEnv(cmd); err != nil {
		return zerolog.Logger{}, nil, nil, err
	}

	logger := createLogger(cfg.LogLevel)
	base := cmd.Context()
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigCh:
			logger.Warn().Msg("received termination signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	return logger, ctx, cancel, nil
}

func createLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
