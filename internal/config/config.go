// Package config binds coldsnap's CLI-level defaults/env overlay
// (spec.md's out-of-scope "top-level CLI config file and flag
// parser" collaborator, SPEC_FULL.md §2.3). The archive's own
// persisted config (archive.ini, volinfo, session info) is a
// different, in-scope concern owned by internal/archive.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds the CLI-level settings every coldsnap subcommand reads:
// where archives live, how chatty logging is, and the send defaults a
// command-line flag can override.
type Config struct {
	LogLevel      string
	ArchiveDir    string
	ChunkFactor   int // chunk size = ChunkFactor * 65536 bytes (spec.md §2)
	Compression   int // zlib level 0-9
	Unattended    bool
	MetricsListen string // empty disables the local metrics endpoint
	CatalogDSN    string // empty disables the fleet Postgres catalog
}

// NewDefault returns a Config with spec.md's stated defaults.
func NewDefault() *Config {
	return &Config{
		LogLevel:    "info",
		ArchiveDir:  ExpandHomeDir("~/.coldsnap"),
		ChunkFactor: 1,
		Compression: 6,
		Unattended:  false,
	}
}

// AddFlagsToCommand registers the persistent, every-subcommand flags.
func (c *Config) AddFlagsToCommand(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&c.ArchiveDir, "archive-dir", c.ArchiveDir, "root directory holding archive.ini and per-volume archive state")
	cmd.PersistentFlags().IntVar(&c.ChunkFactor, "chunk-factor", c.ChunkFactor, "chunk size as a multiple of 65536 bytes")
	cmd.PersistentFlags().IntVar(&c.Compression, "compression", c.Compression, "zlib compression level (0-9)")
	cmd.PersistentFlags().BoolVarP(&c.Unattended, "unattended", "u", c.Unattended, "fail instead of prompting on ambiguous state")
	cmd.PersistentFlags().StringVar(&c.MetricsListen, "metrics-listen", c.MetricsListen, "address to serve Prometheus metrics on (empty disables)")
	cmd.PersistentFlags().StringVar(&c.CatalogDSN, "catalog-dsn", c.CatalogDSN, "optional Postgres DSN for the fleet session catalog")
}

// BindEnv layers environment-variable and config-file overrides on top
// of flag defaults via viper, the way freightliner/gastrolog bind
// cobra flags into a config struct (SPEC_FULL.md §2.3). Flags the user
// actually passed on the command line still win: viper only fills gaps
// the flag parser left at its default.
func (c *Config) BindEnv(cmd *cobra.Command) error {
	v := viper.New()
	v.SetEnvPrefix("COLDSNAP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if cfgFile := os.Getenv("COLDSNAP_CONFIG"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	if err := v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	c.LogLevel = v.GetString("log-level")
	c.ArchiveDir = ExpandHomeDir(v.GetString("archive-dir"))
	c.ChunkFactor = v.GetInt("chunk-factor")
	c.Compression = v.GetInt("compression")
	c.Unattended = v.GetBool("unattended")
	c.MetricsListen = v.GetString("metrics-listen")
	c.CatalogDSN = v.GetString("catalog-dsn")
	return nil
}

// ChunkSize returns the configured chunk size in bytes.
func (c *Config) ChunkSize() int64 { return int64(c.ChunkFactor) * 65536 }

// ExpandHomeDir expands a leading ~ to the user's home directory.
func ExpandHomeDir(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
