package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/record"
)

func newTasksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List configured tasks with their recorded state",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return listTasks(context.Background(), os.Stdout, a.config().Tasks, store)
		},
	}
}

func listTasks(ctx context.Context, w io.Writer, tasks []config.Task, store *record.Store) error {
	if len(tasks) == 0 {
		fmt.Fprintf(w, "no tasks configured; add [[task]] tables to %s\n", config.Path())
		return nil
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		rec, err := store.Load(ctx, t.Name)
		if err != nil {
			return err
		}
		pending, err := store.Pending(ctx, t.Name)
		if err != nil {
			return err
		}
		schedule := t.Schedule
		if schedule == "" {
			schedule = "-"
		}
		rows = append(rows, []string{
			t.Name,
			t.Source,
			t.Dest,
			schedule,
			strconv.Itoa(rec.Len()),
			strconv.Itoa(len(pending)),
		})
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TASK", "SOURCE", "DEST", "SCHEDULE", "LINKS", "PENDING").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	fmt.Fprintln(w, tbl.Render())
	return nil
}
