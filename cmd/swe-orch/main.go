package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "swe-orch",
		Short: "Automated issue resolution and benchmark harness",
		Long: `swe-orch asks a chat model to produce unified-diff patches for GitHub issues.
It retrieves relevant source context, runs one of three solving strategies
(single_shot, plan_solve, react), and evaluates whole benchmark splits with
checkpointed, resumable batches and a Pass@1 proxy score.`,
		Version:      version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(os.Stderr, verbose)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// setupLogging installs a text handler on terminals and JSON otherwise
func setupLogging(w *os.File, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(newHandler(w, isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()), level))
	slog.SetDefault(logger)
	return logger
}

func newHandler(w io.Writer, terminal bool, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
