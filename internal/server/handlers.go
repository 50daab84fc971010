package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bamsammich/hlink/internal/event"
)

type taskInfo struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	Dest     string `json:"dest"`
	Schedule string `json:"schedule,omitempty"`
	Running  bool   `json:"running"`
}

type sessionInfo struct {
	Started   time.Time `json:"started"`
	ID        string    `json:"id"`
	Task      string    `json:"task"`
	Processed int64     `json:"processed"`
	Total     int64     `json:"total"`
}

func (s *Server) handleList(c *gin.Context) {
	tasks := s.catalog.Tasks()
	out := make([]taskInfo, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskInfo{
			Name:     t.Name,
			Source:   t.Source,
			Dest:     t.Dest,
			Schedule: t.Schedule,
			Running:  s.rt.Running(t.Name),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGet(c *gin.Context) {
	name, ok := taskName(c)
	if !ok {
		return
	}
	t, err := s.catalog.Lookup(name)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleCheckConfig(c *gin.Context) {
	name, ok := taskName(c)
	if !ok {
		return
	}
	t, err := s.catalog.Lookup(name)
	if err != nil {
		abort(c, err)
		return
	}
	if err := t.Validate(); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

func (s *Server) handleSessions(c *gin.Context) {
	sessions := s.rt.Sessions()
	out := make([]sessionInfo, 0, len(sessions))
	for _, si := range sessions {
		out = append(out, sessionInfo(si))
	}
	c.JSON(http.StatusOK, out)
}

// handleRun starts a task. alive=0 blocks until the run ends and answers
// with its summary; otherwise the request must be a websocket upgrade and
// the run's events are streamed to it.
func (s *Server) handleRun(c *gin.Context) {
	name, ok := taskName(c)
	if !ok {
		return
	}
	// Runs outlive the request; /task/cancel stops them.
	ctx := context.WithoutCancel(c.Request.Context())

	if c.DefaultQuery("alive", "1") == "0" {
		summary, err := s.rt.Start(ctx, name)
		if err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, newSummary(summary))
		return
	}
	s.stream(ctx, c, name)
}

func (s *Server) handleCancel(c *gin.Context) {
	name, ok := taskName(c)
	if !ok {
		return
	}
	cancelled, err := s.rt.Cancel(name)
	if err != nil && !cancelled {
		abort(c, err)
		return
	}
	if err != nil {
		s.logger.Warn("cancel finished with error", "task", name, "error", err)
	}
	c.JSON(http.StatusOK, true)
}

func (s *Server) handleListFiles(c *gin.Context) {
	name, ok := taskName(c)
	if !ok {
		return
	}
	paths, err := s.rt.ListPendingDeletions(c.Request.Context(), name)
	if err != nil {
		abort(c, err)
		return
	}
	if paths == nil {
		paths = []string{}
	}
	c.JSON(http.StatusOK, paths)
}

// handleDeleteFiles confirms the pending deletions of a task, or discards
// them when cancel is set.
func (s *Server) handleDeleteFiles(c *gin.Context) {
	name, ok := taskName(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if c.Query("cancel") != "" {
		if _, err := s.rt.CancelDeletion(ctx, name); err != nil {
			abort(c, err)
			return
		}
		c.JSON(http.StatusOK, true)
		return
	}
	if _, err := s.rt.ConfirmDeletion(ctx, name); err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, true)
}

type summary struct {
	Failures map[string][]string `json:"failures"`
	Pending  []string            `json:"pending"`
	Total    int64               `json:"total"`
	Linked   int64               `json:"linked"`
	Skipped  int64               `json:"skipped"`
	Failed   int64               `json:"failed"`
	Filtered int64               `json:"filtered"`
	Elapsed  float64             `json:"elapsed_seconds"`
}

func newSummary(s event.Summary) *summary {
	out := &summary{
		Failures: s.Failures,
		Pending:  s.Pending,
		Total:    s.Total(),
		Linked:   s.Linked,
		Skipped:  s.Skipped,
		Failed:   s.Failed,
		Filtered: s.Filtered,
		Elapsed:  s.Elapsed.Seconds(),
	}
	if out.Failures == nil {
		out.Failures = map[string][]string{}
	}
	if out.Pending == nil {
		out.Pending = []string{}
	}
	return out
}
