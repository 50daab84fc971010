package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/hlink/internal/event"
	"github.com/bamsammich/hlink/internal/ui"
)

func newRunCmd(a *app) *cobra.Command {
	var noProgress bool
	cmd := &cobra.Command{
		Use:   "run <task>",
		Short: "Run a task and show its progress",
		Long: `Run a task, streaming per-file results and a progress bar.

Ctrl-C cancels the run: links already made stay in place and the run is not
recorded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.runTask(args[0], noProgress)
		},
	}
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the progress bar")
	return cmd
}

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start <task>",
		Short: "Run a task and print only its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return a.startTask(args[0])
		},
	}
}

func (a *app) runTask(name string, noProgress bool) error {
	t, err := a.holder.Lookup(name)
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	rt, err := a.newRuntime(store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !a.quiet {
		fmt.Fprint(os.Stderr, ui.StartReport(t, a.cfgPath))
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:     os.Stdout,
		ErrWriter:  os.Stderr,
		Logger:     a.logger,
		Task:       name,
		DestRoot:   t.Dest,
		Columns:    ui.TermWidth(os.Stderr),
		IsTTY:      ui.IsTTY(os.Stderr),
		Quiet:      a.quiet,
		Verbose:    a.verbose,
		NoProgress: noProgress,
	})

	events := make(chan event.Event, 256)
	var last event.Event
	err = rt.Run(ctx, name, func(ev event.Event) {
		events <- ev
		if ev.Type.Terminal() {
			last = ev
			close(events)
		}
	})
	if err != nil {
		return err
	}

	runErr := presenter.Run(events)
	if !a.quiet {
		if s := presenter.Summary(); s != "" {
			fmt.Fprint(os.Stderr, s)
		}
	}
	if runErr != nil {
		return &exitError{code: 2, err: runErr}
	}
	if last.Summary != nil {
		return exitFor(*last.Summary)
	}
	return nil
}

func (a *app) startTask(name string) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	rt, err := a.newRuntime(store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := rt.Start(ctx, name)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &exitError{code: 2, err: err}
		}
		return err
	}
	if !a.quiet {
		fmt.Fprint(os.Stderr, ui.EndReport(name, summary))
	}
	return exitFor(summary)
}

// exitFor maps a completed run to its exit status.
func exitFor(s event.Summary) error {
	if s.Failed > 0 {
		return &exitError{code: 1}
	}
	return nil
}
