package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/hlink/internal/task"
	"github.com/bamsammich/hlink/internal/ui"
)

var version = "dev"

func main() {
	// Worker mode: re-exec'd child running one job for the parent runtime.
	// Must be checked before cobra to avoid flag conflicts.
	if len(os.Args) == 2 && os.Args[1] == task.WorkerModeFlag {
		// The parent owns the terminal; only problems reach stderr.
		slog.SetDefault(slog.New(ui.NewLogHandler(os.Stderr, slog.LevelWarn)))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		err := task.RunWorker(ctx, os.Stdin, os.Stdout)
		stop()

		if err != nil {
			slog.Error("worker failed", "error", err)
			os.Exit(1) //nolint:gocritic // exitAfterDefer: no defers active at this point
		}
		return
	}

	os.Exit(run())
}

func run() int {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "hlink",
		Short: "Mirror media trees into a destination with hardlinks",
		Long: `hlink mirrors the files of a source tree into a destination tree as
hardlinks, remembers what it linked, and offers destinations whose source
disappeared for deletion.

Tasks are defined as [[task]] tables in the config file.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.close() },
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgPath, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/hlink/config.toml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "suppress all output except errors")
	flags.StringVar(&a.logFile, "log", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(
		newRunCmd(a),
		newStartCmd(a),
		newPruneCmd(a),
		newTasksCmd(a),
		newServeCmd(a),
		newCancelCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		docsCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		a.close()
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.err)
			}
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

// exitError carries a specific process exit code: 1 when a run completed
// with per-file failures, 2 for fatal errors.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error { return e.err }
