package procmon

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Handle is the supervisor-side view of one spawned child: the OS process, its two
// output drains and the liveness flags read across goroutines.
type Handle struct {
	Key string

	cmd      *exec.Cmd
	argsFile string
	closers  []func() error

	terminated  atomic.Bool
	pingEnabled atomic.Bool
	restart     atomic.Bool

	done    chan struct{}
	exitErr error

	drains     errgroup.Group
	retireOnce sync.Once
	retireErr  error
}

func newHandle(key string, cmd *exec.Cmd) *Handle {
	h := &Handle{
		Key:  key,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	h.pingEnabled.Store(true)
	return h
}

// wait runs the single OS-level blocking wait for the process. It must be started
// exactly once, right after the process was spawned.
func (h *Handle) wait() {
	err := h.cmd.Wait()
	h.exitErr = err
	h.terminated.Store(true)
	close(h.done)
}

// Done is closed once the OS process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) PID() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return -1
	}
	return h.cmd.Process.Pid
}

// Terminated reports whether the process was observed or forced dead. It never goes
// back to false.
func (h *Handle) Terminated() bool {
	return h.terminated.Load()
}

func (h *Handle) markTerminated() {
	h.terminated.Store(true)
}

// Alive reports whether the process is neither marked terminated nor reaped.
func (h *Handle) Alive() bool {
	if h.terminated.Load() {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *Handle) PingEnabled() bool {
	return h.pingEnabled.Load()
}

func (h *Handle) DisablePing() {
	h.pingEnabled.Store(false)
}

// RequestRestart raises the restart flag polled by the restart watcher.
func (h *Handle) RequestRestart() {
	h.restart.Store(true)
}

func (h *Handle) RestartRequested() bool {
	return h.restart.Load()
}

// ExitCode returns the exit code once the process has been reaped, -1 before that or
// when it was killed by a signal.
func (h *Handle) ExitCode() int {
	select {
	case <-h.done:
	default:
		return -1
	}
	if h.exitErr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(h.exitErr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// HardKill forcibly kills the process group without any graceful protocol. It returns
// false when the process was already dead, so calling it twice is safe.
func (h *Handle) HardKill() bool {
	if h.cmd == nil || h.cmd.Process == nil {
		h.terminated.Store(true)
		return false
	}
	select {
	case <-h.done:
		h.terminated.Store(true)
		return false
	default:
	}
	if !h.terminated.CompareAndSwap(false, true) {
		return false
	}
	if err := killProcessGroup(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Warn("Supervisor: hard kill failed", slog.String("key", h.Key), slog.Int("pid", h.PID()), slog.String("err", err.Error()))
	}
	return true
}

// Retire joins the output drains and removes transient launch files. Only meaningful
// after the process exited; later calls return the first result.
func (h *Handle) Retire() error {
	h.retireOnce.Do(func() {
		errs := []error{h.drains.Wait()}
		for _, c := range h.closers {
			errs = append(errs, c())
		}
		if h.argsFile != "" {
			if err := os.Remove(h.argsFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		h.retireErr = errors.Join(errs...)
	})
	return h.retireErr
}
