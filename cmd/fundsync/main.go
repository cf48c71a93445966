package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Mschirtzinger/fundsync/internal/config"
	"github.com/Mschirtzinger/fundsync/internal/telemetry"
)

var (
	configFile string
	verbose    bool

	cfg               *config.Config
	logOutput         io.Writer = os.Stderr
	shutdownTelemetry           = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "fundsync",
	Short: "Keep fund watchlists in sync across devices",
	Long: `fundsync keeps a device's fund watchlist, favorites, groups, positions and
display preferences in a local database and reconciles them with your account's
cloud copy whenever you are signed in.

Edits always land locally first, so fundsync works offline. Signing in folds the
device's offline changes into the cloud copy without discarding either side.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		v := config.New()
		if err := config.BindFlags(v, cmd.Flags()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		loaded, err := config.Load(v, configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded

		logOutput = newLogOutput(cfg.Log, verbose || cmd.Annotations["logs"] == "stderr")

		shutdown, err := telemetry.Setup(cmd.Context(), telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			Endpoint:    cfg.Telemetry.Endpoint,
			ServiceName: "fundsync",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: tracing disabled: %v\n", err)
		}
		shutdownTelemetry = shutdown
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := shutdownTelemetry(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to flush traces: %v\n", err)
		}
	},
}

// newLogOutput picks where component loggers write. A configured log file
// always wins and is rotated; otherwise logs go to stderr only when asked
// for, so one-shot commands print just their result.
func newLogOutput(lc config.LogConfig, toStderr bool) io.Writer {
	if lc.File != "" {
		return &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSizeMB,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAgeDays,
			Compress:   true,
		}
	}
	if toStderr {
		return os.Stderr
	}
	return io.Discard
}

// newLogger returns a component logger with the given bracketed prefix.
func newLogger(component string) *log.Logger {
	return log.New(logOutput, "["+component+"] ", log.LstdFlags)
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default $HOME/.fundsync/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", config.DefaultDataDir(), "directory holding the local database and session")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log sync activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
