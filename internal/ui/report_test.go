package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/event"
)

func TestStartReport(t *testing.T) {
	r := StartReport(config.Task{
		Name:       "movies",
		Source:     "/src",
		Dest:       "/out",
		ExtMode:    "whitelist",
		Extensions: []string{"mkv", "mp4"},
		OpenCache:  true,
	}, "/etc/hlink/config.toml")

	assert.Contains(t, r, "movies")
	assert.Contains(t, r, "/src")
	assert.Contains(t, r, "/out")
	assert.Contains(t, r, "whitelist")
	assert.Contains(t, r, "mkv, mp4")
	assert.Contains(t, r, "yes")
	assert.Contains(t, r, "/etc/hlink/config.toml")
}

func TestStartReportDefaults(t *testing.T) {
	r := StartReport(config.Task{Name: "movies"}, "")
	assert.Contains(t, r, "blacklist")
	assert.Contains(t, r, "(all)")
	assert.Contains(t, r, "no")
	assert.NotContains(t, r, "config")
}

func TestEndReport(t *testing.T) {
	r := EndReport("movies", event.Summary{
		Linked:  10,
		Skipped: 2,
		Failed:  3,
		Failures: map[string][]string{
			"permission denied": {"/src/a", "/src/b"},
			"conflict":          {"/src/c"},
		},
		Pending: []string{"/out/old"},
		Elapsed: 1500 * time.Millisecond,
	})

	assert.Contains(t, r, "15")
	assert.Contains(t, r, "permission denied (2)")
	assert.Contains(t, r, "conflict (1)")
	assert.Contains(t, r, "/src/a")
	assert.Contains(t, r, "hlink prune movies")
	assert.Contains(t, r, "2s")
	assert.Less(t, strings.Index(r, "conflict"), strings.Index(r, "permission denied"))
}

func TestEndReportClean(t *testing.T) {
	r := EndReport("movies", event.Summary{Linked: 1})
	assert.NotContains(t, r, "prune")
	assert.NotContains(t, r, "fix the reasons")
}

