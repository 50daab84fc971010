package task

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/bamsammich/hlink/internal/config"
	"github.com/bamsammich/hlink/internal/engine"
	"github.com/bamsammich/hlink/internal/errs"
	"github.com/bamsammich/hlink/internal/event"
)

// WorkerModeFlag is the hidden CLI flag that makes hlink run a single job
// read from stdin and stream its events to stdout.
const WorkerModeFlag = "--worker-mode"

// DefaultKillTimeout is how long Terminate waits after SIGTERM before it
// sends SIGKILL.
const DefaultKillTimeout = 5 * time.Second

// Process runs each job in a child hlink process started with
// WorkerModeFlag.
type Process struct {
	Logger *slog.Logger
	// Executable defaults to the running binary.
	Executable string
	// Args defaults to []string{WorkerModeFlag}.
	Args []string
	// Env is appended to the parent's environment.
	Env         []string
	KillTimeout time.Duration
}

// Spawn starts the child, sends it the job and begins decoding its output.
//
//nolint:ireturn // spawners return the Worker interface
func (p Process) Spawn(_ context.Context, job Job) (Worker, error) {
	executable := p.Executable
	if executable == "" {
		var err error
		if executable, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}
	args := p.Args
	if args == nil {
		args = []string{WorkerModeFlag}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	taskData, err := config.EncodeTask(job.Task)
	if err != nil {
		return nil, err
	}
	jm := jobMsg{Task: taskData, Previous: job.Previous}
	payload, err := jm.MarshalMsg(nil)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	cmd := exec.Command(executable, args...) //nolint:gosec // re-exec of our own binary
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{}
	setPdeathsig(cmd.SysProcAttr)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}
	logger.Debug("started worker", "task", job.Task.Name, "pid", cmd.Process.Pid)

	w := &processWorker{
		cmd:         cmd,
		logger:      logger,
		events:      make(chan event.Event, eventBuffer),
		done:        make(chan struct{}),
		killTimeout: p.KillTimeout,
	}
	if w.killTimeout <= 0 {
		w.killTimeout = DefaultKillTimeout
	}
	go w.read(stdout)

	go func() {
		defer stdin.Close()
		if err := writeFrame(stdin, msgJob, payload); err != nil {
			logger.Debug("send job to worker", "pid", cmd.Process.Pid, "error", err)
		}
	}()

	return w, nil
}

type processWorker struct {
	err         error
	cmd         *exec.Cmd
	logger      *slog.Logger
	events      chan event.Event
	done        chan struct{}
	res         engine.Result
	killTimeout time.Duration
	termMu      sync.Mutex
}

func (w *processWorker) Events() <-chan event.Event { return w.events }

func (w *processWorker) Wait() (engine.Result, error) {
	<-w.done
	return w.res, w.err
}

// Terminate sends SIGTERM, waits up to the kill timeout for the child to
// exit, then sends SIGKILL.
func (w *processWorker) Terminate() error {
	w.termMu.Lock()
	defer w.termMu.Unlock()

	select {
	case <-w.done:
		return nil
	default:
	}

	pid := w.cmd.Process.Pid
	if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal worker %d: %w", pid, err)
	}

	timer := time.NewTimer(w.killTimeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
	}

	w.logger.Warn("worker ignored SIGTERM, killing", "pid", pid)
	if err := w.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker %d: %w", pid, err)
	}
	return nil
}

// read decodes frames until the child closes stdout, then reaps it.
func (w *processWorker) read(r io.Reader) {
	defer close(w.done)

	br := bufio.NewReader(r)
	var gotResult bool
	for {
		typ, payload, err := readFrame(br)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.err = fmt.Errorf("read worker output: %w", err)
			}
			break
		}
		switch typ {
		case msgEvent:
			ev, _, err := readEvent(payload)
			if err != nil {
				w.logger.Debug("drop malformed worker event", "error", err)
				continue
			}
			w.events <- ev
		case msgResult:
			var rm resultMsg
			if _, err := rm.UnmarshalMsg(payload); err != nil {
				w.err = fmt.Errorf("decode worker result: %w", err)
				continue
			}
			w.res = rm.Result
			gotResult = true
		case msgError:
			var em errorMsg
			if _, err := em.UnmarshalMsg(payload); err != nil {
				w.err = fmt.Errorf("decode worker error: %w", err)
				continue
			}
			w.err = em.toError()
		default:
			w.logger.Debug("unknown worker message", "type", typ)
		}
	}
	close(w.events)

	waitErr := w.cmd.Wait()
	if w.err == nil && !gotResult {
		if waitErr == nil {
			waitErr = io.ErrUnexpectedEOF
		}
		w.err = fmt.Errorf("worker exited without a result: %w", waitErr)
	}
}

func newErrorMsg(err error) errorMsg {
	return errorMsg{
		Message:  err.Error(),
		Kind:     int(errs.KindOf(err)),
		Canceled: errors.Is(err, context.Canceled),
	}
}

func (m errorMsg) toError() error {
	if m.Canceled {
		return context.Canceled
	}
	return &errs.Error{Kind: errs.Kind(m.Kind), Msg: m.Message}
}

// RunWorker is the worker-mode entry point. It reads one job from r, runs
// it and writes the events followed by a result or error frame to w.
func RunWorker(ctx context.Context, r io.Reader, w io.Writer) error {
	typ, payload, err := readFrame(r)
	if err != nil {
		return fmt.Errorf("read job: %w", err)
	}
	if typ != msgJob {
		return fmt.Errorf("unexpected message type 0x%02x", typ)
	}
	var jm jobMsg
	if _, err := jm.UnmarshalMsg(payload); err != nil {
		return fmt.Errorf("decode job: %w", err)
	}
	t, err := config.DecodeTask(jm.Task)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	events := make(chan event.Event, eventBuffer)
	writeErr := make(chan error, 1)
	go func() {
		var first error
		var buf []byte
		for ev := range events {
			if first != nil {
				continue
			}
			buf = appendEvent(buf[:0], ev)
			if err := writeFrame(bw, msgEvent, buf); err != nil {
				first = err
				continue
			}
			// Flush once the queue drains so the parent sees progress promptly.
			if len(events) == 0 {
				first = bw.Flush()
			}
		}
		writeErr <- first
	}()

	res, runErr := engine.Run(ctx, engine.Config{
		Events:   events,
		Logger:   slog.Default(),
		Previous: jm.Previous,
		Task:     t,
	})
	close(events)
	if err := <-writeErr; err != nil {
		return fmt.Errorf("write events: %w", err)
	}

	if runErr != nil {
		em := newErrorMsg(runErr)
		out, _ := em.MarshalMsg(nil) //nolint:errcheck // MarshalMsg never fails
		if err := writeFrame(bw, msgError, out); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
		return runErr
	}

	rm := resultMsg{Result: res}
	out, _ := rm.MarshalMsg(nil) //nolint:errcheck // MarshalMsg never fails
	if err := writeFrame(bw, msgResult, out); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
