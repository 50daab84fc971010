package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/event"
)

//nolint:gochecknoglobals // shared render styles
var (
	labelStyle = lipgloss.NewStyle().Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#2E7D32", Dark: "#A6E3A1"})
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C62828", Dark: "#F38BA8"})
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#EF6C00", Dark: "#F9E2AF"})
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

// StartReport describes the task about to run. configPath may be empty.
func StartReport(t config.Task, configPath string) string {
	mode := "blacklist"
	if t.ExtMode == "whitelist" {
		mode = "whitelist"
	}
	exts := "(all)"
	if len(t.Extensions) > 0 {
		exts = strings.Join(t.Extensions, ", ")
	}
	cache := "no"
	if t.OpenCache {
		cache = "yes"
	}

	rows := [][2]string{
		{"task", t.Name},
		{"source", t.Source},
		{"dest", t.Dest},
		{mode, exts},
		{"save mode", t.SaveModeName()},
		{"cache", cache},
	}
	if len(t.Exclude) > 0 {
		rows = append(rows, [2]string{"exclude", strings.Join(t.Exclude, ", ")})
	}
	if configPath != "" {
		rows = append(rows, [2]string{"config", configPath})
	}

	var b strings.Builder
	for _, r := range rows {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", r[0])), r[1])
	}
	return b.String()
}

// EndReport lists the totals of a finished run and its failures grouped by
// reason.
func EndReport(task string, s event.Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s  %s %s  %s %s  %s %s\n",
		labelStyle.Render("total"), FormatCount(s.Total()),
		labelStyle.Render("linked"), okStyle.Render(FormatCount(s.Linked)),
		labelStyle.Render("skipped"), FormatCount(s.Skipped),
		labelStyle.Render("failed"), failStyle.Render(FormatCount(s.Failed)),
	)
	if s.Filtered > 0 {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("filtered"), FormatCount(s.Filtered))
	}

	for _, reason := range s.Reasons() {
		paths := s.Failures[reason]
		fmt.Fprintf(&b, "%s (%d)\n", failStyle.Render(reason), len(paths))
		for _, p := range paths {
			fmt.Fprintf(&b, "  %s\n", dimStyle.Render(p))
		}
	}
	if n := len(s.Pending); n > 0 {
		fmt.Fprintf(&b, "%s\n", warnStyle.Render(fmt.Sprintf(
			"%d destination(s) no longer have a source; run 'hlink prune %s' to review", n, task)))
	}
	if s.Failed > 0 {
		fmt.Fprintf(&b, "%s\n", warnStyle.Render("some files were not linked; fix the reasons above and run again"))
	}
	fmt.Fprintf(&b, "%s %ds\n", labelStyle.Render("elapsed"), CeilSeconds(s.Elapsed))
	return b.String()
}
