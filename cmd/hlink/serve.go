package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/schedule"
	"github.com/bamsammich/hlink/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	var noWatch bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task API and run scheduled tasks",
		Long: `Serve the HTTP task API:

  GET    /task/list                  configured tasks
  GET    /task?name=                 one task's configuration
  GET    /task/check_config?name=    validate a task
  GET    /task/run?name=&alive=      run a task (alive=0 waits for the
                                     summary, otherwise a websocket stream)
  GET    /task/cancel?name=          cancel a running task
  GET    /task/sessions              live runs
  GET    /task/files?name=           pending deletions
  DELETE /task/files?name=&cancel=   confirm (or discard) pending deletions

Tasks with a schedule are started on it. The config file is reloaded when it
changes unless --no-watch is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("listen") {
				listen = a.config().Listen()
			}
			return a.serve(listen, !noWatch)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:5000", "listen address (host:port)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not reload the config file when it changes")
	return cmd
}

func (a *app) serve(listen string, watch bool) error {
	stateDir := a.config().StateDir()
	if d, ok := liveServer(stateDir); ok {
		return fmt.Errorf("hlink serve is already running (pid %d on %s)", d.PID, d.Addr)
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

	sched := schedule.New(ctx, rt, a.logger)
	if err := sched.Sync(a.config().Tasks); err != nil {
		a.logger.Warn("some schedules were not registered", "error", err)
	}
	sched.Start()
	defer sched.Stop()

	if watch {
		err := a.holder.Watch(ctx, a.logger, func(cfg config.Config) {
			notify(daemon.SdNotifyReloading)
			if err := sched.Sync(cfg.Tasks); err != nil {
				a.logger.Warn("some schedules were not registered", "error", err)
			}
			notify(daemon.SdNotifyReady)
		})
		if err != nil {
			a.logger.Warn("config watch unavailable", "error", err)
		}
	}

	if !a.verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := server.New(server.Options{Runtime: rt, Catalog: a.holder, Logger: a.logger})

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listen, err)
	}

	if err := config.WriteServerDiscovery(stateDir, config.ServerDiscovery{
		Addr: ln.Addr().String(),
		PID:  os.Getpid(),
	}); err != nil {
		a.logger.Warn("failed to write server discovery file", "error", err)
	}
	defer config.RemoveServerDiscovery(stateDir)

	go func() {
		// The listener is bound; connections queue until Serve accepts them.
		notify(daemon.SdNotifyReady)
		<-ctx.Done()
		notify(daemon.SdNotifyStopping)
	}()

	err = srv.Serve(ctx, ln)
	for _, s := range rt.Sessions() {
		rt.Cancel(s.Task) //nolint:errcheck // shutting down
	}
	return err
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task>",
		Short: "Cancel a task running in hlink serve",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			d, ok := liveServer(a.config().StateDir())
			if !ok {
				return errors.New("no running hlink server found")
			}
			if err := cancelRemote(context.Background(), d.Addr, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "cancelled %s\n", args[0])
			return nil
		},
	}
}

// notify reports state to systemd when running as a notify service.
func notify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		slog.Debug("sd_notify failed", "state", state, "error", err)
	}
}

// liveServer reads the discovery file and reports whether the server it names
// is still alive. A file left behind by a dead server is removed.
func liveServer(stateDir string) (config.ServerDiscovery, bool) {
	d, err := config.ReadServerDiscovery(stateDir)
	if err != nil {
		return config.ServerDiscovery{}, false
	}
	alive, err := process.PidExists(int32(d.PID)) //nolint:gosec // G115: pids fit in int32
	if err != nil || !alive {
		slog.Debug("removing stale server discovery file", "pid", d.PID, "addr", d.Addr)
		config.RemoveServerDiscovery(stateDir)
		return config.ServerDiscovery{}, false
	}
	return d, true
}

// cancelRemote asks the server at addr to cancel name.
func cancelRemote(ctx context.Context, addr, name string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	u := url.URL{Scheme: "http", Host: addr, Path: "/task/cancel", RawQuery: url.Values{"name": {name}}.Encode()}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach server at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck // best-effort error detail
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return errors.New(e.Error)
	}
	return fmt.Errorf("server answered %s", resp.Status)
}
