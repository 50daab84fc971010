package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bamsammich/hlink/internal/ui"
)

func newPruneCmd(a *app) *cobra.Command {
	var yes, discard bool
	cmd := &cobra.Command{
		Use:   "prune <task>",
		Short: "Review and delete destinations whose source is gone",
		Long: `List the destinations recorded by the last run of a task whose source no
longer exists, then delete them together with any directories left empty.

Without --yes the deletion is confirmed interactively. --discard forgets the
list without deleting anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if yes && discard {
				return errors.New("--yes and --discard are mutually exclusive")
			}
			return a.prune(args[0], yes, discard, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "delete without asking")
	cmd.Flags().BoolVar(&discard, "discard", false, "forget the pending deletions without deleting")
	return cmd
}

func (a *app) prune(name string, yes, discard bool, in io.Reader, out io.Writer) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	rt, err := a.newRuntime(store)
	if err != nil {
		return err
	}
	ctx := context.Background()

	pending, err := rt.ListPendingDeletions(ctx, name)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "nothing to prune")
		return nil
	}

	t, err := a.holder.Lookup(name)
	if err != nil {
		return err
	}
	for _, p := range pending {
		fmt.Fprintln(out, ui.StripRoot(t.Dest, p))
	}

	if discard {
		if _, err := rt.CancelDeletion(ctx, name); err != nil {
			return err
		}
		fmt.Fprintf(out, "forgot %d pending deletion(s)\n", len(pending))
		return nil
	}

	if !yes {
		if !ui.IsTTY(os.Stdin) && in == os.Stdin {
			fmt.Fprintln(out, "not a terminal; rerun with --yes to delete or --discard to forget")
			return nil
		}
		if !confirm(in, out, fmt.Sprintf("delete %d file(s) under %s?", len(pending), t.Dest)) {
			fmt.Fprintln(out, "kept")
			return nil
		}
	}

	if _, err := rt.ConfirmDeletion(ctx, name); err != nil {
		return &exitError{code: 1, err: err}
	}
	fmt.Fprintf(out, "deleted %d file(s)\n", len(pending))
	return nil
}

// confirm asks a yes/no question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
