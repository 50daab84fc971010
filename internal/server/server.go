// Package server exposes the task runtime over HTTP. Runs can be started
// synchronously or streamed to a websocket client.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/errs"
	"github.com/bamsammich/hlink/internal/task"
)

const shutdownTimeout = 10 * time.Second

// Catalog lists the configured tasks.
type Catalog interface {
	Lookup(name string) (config.Task, error)
	Tasks() []config.Task
}

// Options configures a Server.
type Options struct {
	Runtime *task.Runtime
	Catalog Catalog
	Logger  *slog.Logger
}

// Server routes HTTP requests to the task runtime.
type Server struct {
	rt      *task.Runtime
	catalog Catalog
	logger  *slog.Logger
	engine  *gin.Engine
}

// New builds the router.
func New(opts Options) *Server {
	s := &Server{
		rt:      opts.Runtime,
		catalog: opts.Catalog,
		logger:  opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	g := gin.New()
	g.Use(s.logRequests(), gin.Recovery())

	g.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	t := g.Group("/task")
	t.GET("/list", gzip.Gzip(gzip.DefaultCompression), s.handleList)
	t.GET("", s.handleGet)
	t.GET("/check_config", s.handleCheckConfig)
	t.GET("/run", s.handleRun)
	t.GET("/cancel", s.handleCancel)
	t.GET("/sessions", gzip.Gzip(gzip.DefaultCompression), s.handleSessions)
	t.GET("/files", gzip.Gzip(gzip.DefaultCompression), s.handleListFiles)
	t.DELETE("/files", s.handleDeleteFiles)

	s.engine = g
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. Live runs are left to the runtime.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("server listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}

// abort writes err as a JSON error with a status matching its class.
func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), gin.H{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyRunning), errors.Is(err, errs.ErrNotRunning):
		return http.StatusConflict
	case errs.IsKind(err, errs.KindConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// taskName reads the required name query parameter.
func taskName(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing name parameter"})
		return "", false
	}
	return name, true
}
