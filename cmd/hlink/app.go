package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/record"
	"github.com/bamsammich/hlink/internal/task"
	"github.com/bamsammich/hlink/internal/ui"
)

// app holds what every subcommand shares: flags, logging and config.
type app struct {
	holder  *config.Holder
	logger  *slog.Logger
	logOut  *os.File
	cfgPath string
	logFile string
	verbose bool
	quiet   bool
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	textHandler := ui.NewLogHandler(os.Stderr, ui.LogLevel(a.quiet, a.verbose))
	var logHandler slog.Handler = textHandler
	if a.logFile != "" {
		lf, err := os.Create(a.logFile)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logOut = lf
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	a.logger = slog.New(logHandler)
	slog.SetDefault(a.logger)

	if !cmd.Flags().Changed("config") {
		a.cfgPath = config.Path()
	}
	cfg, err := config.LoadFile(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", a.cfgPath, err)
	}
	a.holder = config.NewHolder(a.cfgPath, cfg)
	a.logger.Debug("config loaded", "path", a.cfgPath, "tasks", len(cfg.Tasks))
	return nil
}

func (a *app) close() {
	if a.logOut != nil {
		a.logOut.Close() //nolint:errcheck // log file teardown
		a.logOut = nil
	}
}

func (a *app) config() config.Config {
	return a.holder.Get()
}

// openStore opens the record database named by the config.
func (a *app) openStore() (*record.Store, error) {
	return record.Open(a.config().StatePath())
}

// newRuntime builds a runtime over store using the configured worker mode.
func (a *app) newRuntime(store *record.Store) (*task.Runtime, error) {
	cfg := a.config()
	throttle, err := cfg.Throttle()
	if err != nil {
		return nil, err
	}

	var spawner task.Spawner = task.InProcess{Logger: a.logger}
	if cfg.WorkerMode() == config.WorkerProcess {
		spawner = task.Process{Logger: a.logger}
	}
	a.logger.Debug("runtime ready", "worker", cfg.WorkerMode(), "state", store.Path())

	return task.New(task.Options{
		Store:    store,
		Lookup:   a.holder.Lookup,
		Spawner:  spawner,
		Logger:   a.logger,
		Throttle: throttle,
	}), nil
}
