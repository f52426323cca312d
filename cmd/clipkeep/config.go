package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipkeep/internal/history"
	"go.klb.dev/clipkeep/internal/listener"
	"go.klb.dev/clipkeep/internal/logging"
)

// envReplacer maps flag names like max-entries to CLIPKEEP_MAX_ENTRIES.
var envReplacer = strings.NewReplacer("-", "_")

// bindViper wires a command's flags into a viper instance with the standard
// config file search order and CLIPKEEP_* env var prefix.
//
// Precedence (lowest → highest): defaults → config file → CLIPKEEP_* env vars → flags
func bindViper(cmd *cobra.Command, v *viper.Viper) error {
	configFlag, _ := cmd.Flags().GetString("config")
	if configFlag != "" {
		v.SetConfigFile(configFlag)
	} else {
		v.SetConfigName("clipkeep")
		v.SetConfigType("toml")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "clipkeep"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("config: %w", err)
		}
	}

	v.SetEnvPrefix("CLIPKEEP")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	return nil
}

// addLoggingFlags adds the standard logging flags to a command.
func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-background", false, "run interactively: tinter logs + debug level")
	cmd.Flags().String("log-format", "auto", "log format: auto|text|json")
	cmd.Flags().String("log-level", "", "log level: debug|info|warn|error (default: info for service, debug for interactive)")
	cmd.Flags().String("log-file", "", "append logs to this file instead of stderr")
}

// addConfigFlag adds the --config flag to a command.
func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to config file (overrides auto-discovery)")
}

// addSocketFlag adds the --socket flag shared by the daemon and its clients.
func addSocketFlag(cmd *cobra.Command) {
	cmd.Flags().String("socket", "", "IPC endpoint (default: per-OS socket or named pipe)")
}

// addStoreFlags adds the history storage flags to the daemon.
func addStoreFlags(cmd *cobra.Command) {
	d := history.DefaultOptions()
	f := cmd.Flags()
	f.String("data-dir", defaultDataDir(), "directory holding the history database")
	f.String("db", "", "database path (default: <data-dir>/clipboard_history.db)")
	f.Int("max-entries", d.MaxEntries, "number of entries kept; pinned entries are never evicted")
	f.Int("max-content-length", d.MaxContentLength, "text entries are truncated to this many characters")
	f.Int("max-image-bytes", listener.DefaultOptions().MaxImageBytes, "bitmaps larger than this are not recorded")
	f.Duration("expire-after", d.ExpireAfter, "unpinned entries older than this are purged")
}

// setupLogging reads logging flags from viper and configures slog. The
// returned closer releases the log file, if any.
func setupLogging(v *viper.Viper) (func(), error) {
	interactive := v.GetBool("no-background") || logging.IsTTY(os.Stderr)
	c, err := resolveLogging(interactive, v.GetString("log-format"), v.GetString("log-level"), v.GetString("log-file"))
	if err != nil {
		return nil, err
	}
	return func() { _ = c.Close() }, nil
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, "clipkeep")
}

// dbPath resolves the database location from the db and data-dir keys.
func dbPath(v *viper.Viper) string {
	if p := v.GetString("db"); p != "" {
		return p
	}
	return filepath.Join(v.GetString("data-dir"), "clipboard_history.db")
}

func storeOptions(v *viper.Viper) history.Options {
	return history.Options{
		MaxEntries:       v.GetInt("max-entries"),
		MaxContentLength: v.GetInt("max-content-length"),
		ExpireAfter:      v.GetDuration("expire-after"),
		Now:              time.Now,
	}
}
