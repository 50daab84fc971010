package ui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatRate formats an entries-per-second rate.
func FormatRate(perSec float64) string {
	switch {
	case perSec <= 0 || math.IsNaN(perSec) || math.IsInf(perSec, 0):
		return "0/s"
	case perSec < 10:
		return fmt.Sprintf("%.2f/s", perSec)
	case perSec < 100:
		return fmt.Sprintf("%.1f/s", perSec)
	default:
		return FormatCount(int64(math.Round(perSec))) + "/s"
	}
}

// FormatETA formats a duration as a human-readable ETA string.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	return FormatDuration(d)
}

// FormatCount formats an integer with comma separators.
func FormatCount(n int64) string {
	return humanize.Comma(n)
}

// FormatDuration formats elapsed time concisely.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// CeilSeconds is the whole number of seconds d spans, rounded up.
func CeilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}

// StripRoot returns path relative to root when it lies below it.
func StripRoot(root, path string) string {
	if root == "" {
		return path
	}
	rel := strings.TrimPrefix(path, strings.TrimSuffix(root, "/")+"/")
	if rel == path || rel == "" {
		return path
	}
	return rel
}
