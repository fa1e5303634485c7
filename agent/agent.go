// Package agent is the child half of the supervision contract. A supervised worker
// reads its argument file, serves the control endpoints the supervisor polls, reports
// readiness, and shuts itself down when asked to or when the supervisor stops pinging.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	PathPing      = "/procmon/ping"
	PathReady     = "/procmon/ready"
	PathTerminate = "/procmon/terminate"
	PathRestart   = "/procmon/restart"
)

type PingResponse struct {
	Key string `json:"key"`
	PID int    `json:"pid"`
}

type ReadyResponse struct {
	Ready bool `json:"ready"`
}

type RestartResponse struct {
	Restart bool `json:"restart"`
}

// Agent serves the control endpoints for one supervised child.
type Agent struct {
	args   Args
	app    *fiber.App
	logger *slog.Logger

	ready    atomic.Bool
	restart  atomic.Bool
	lastPing atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	reason   atomic.Value

	exit func(code int)
}

func New(args Args) *Agent {
	a := &Agent{
		args:   args,
		logger: slog.Default().With(slog.String("key", args.Key)),
		stop:   make(chan struct{}),
		exit:   os.Exit,
	}
	a.lastPing.Store(time.Now().UnixNano())
	a.app = fiber.New(fiber.Config{DisableStartupMessage: true})
	a.app.Get(PathPing, a.handlePing)
	a.app.Get(PathReady, a.handleReady)
	a.app.Post(PathTerminate, a.handleTerminate)
	a.app.Get(PathRestart, a.handleRestart)
	return a
}

func (a *Agent) Args() Args { return a.args }

// App exposes the fiber application, mostly for app.Test in tests.
func (a *Agent) App() *fiber.App { return a.app }

// MarkReady tells the supervisor the application finished initializing.
func (a *Agent) MarkReady() {
	if a.ready.CompareAndSwap(false, true) {
		a.logger.Info("Child: ready")
	}
}

// RequestRestart asks the supervisor to restart the whole batch.
func (a *Agent) RequestRestart() {
	a.restart.Store(true)
}

// SetExitFunc replaces os.Exit as the way Run forces the process down when the
// application overruns TerminateTimeout.
func (a *Agent) SetExitFunc(exit func(code int)) {
	a.exit = exit
}

// Done is closed when the child should terminate.
func (a *Agent) Done() <-chan struct{} {
	return a.stop
}

// Reason returns why Done was closed, or nil while the agent is still running.
func (a *Agent) Reason() error {
	if v := a.reason.Load(); v != nil {
		return v.(error)
	}
	return nil
}

var (
	ErrTerminateRequested = errors.New("termination requested by supervisor")
	ErrSupervisorLost     = errors.New("no ping from supervisor")
)

func (a *Agent) shutdown(reason error) {
	a.stopOnce.Do(func() {
		a.reason.Store(reason)
		a.logger.Info("Child: shutting down", slog.String("reason", reason.Error()))
		close(a.stop)
	})
}

// Serve listens on the control address until ctx is cancelled or the agent is told to
// stop. Unless NoAutokill is set it also stops once pings have been missing for longer
// than PingTimeout.
func (a *Agent) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.args.ControlAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.args.ControlAddr, err)
	}
	return a.ServeListener(ctx, ln)
}

func (a *Agent) ServeListener(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.app.Listener(ln)
	}()
	if !a.args.NoAutokill && a.args.PingTimeout > 0 {
		go a.watchdog(ctx)
	}
	select {
	case <-ctx.Done():
		a.shutdown(ctx.Err())
	case <-a.stop:
	case err := <-errCh:
		a.shutdown(err)
		return err
	}
	if err := a.app.Shutdown(); err != nil {
		a.logger.Warn("Child: control server shutdown error", slog.String("err", err.Error()))
	}
	return <-errCh
}

func (a *Agent) watchdog(ctx context.Context) {
	interval := a.args.PingInterval
	if interval <= 0 || interval > a.args.PingTimeout {
		interval = a.args.PingTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-ticker.C:
			last := time.Unix(0, a.lastPing.Load())
			if since := time.Since(last); since > a.args.PingTimeout {
				a.logger.Error("Child: lost contact with supervisor", slog.Duration("since", since))
				a.shutdown(ErrSupervisorLost)
				return
			}
		}
	}
}

func (a *Agent) handlePing(c *fiber.Ctx) error {
	a.lastPing.Store(time.Now().UnixNano())
	return c.JSON(PingResponse{Key: a.args.Key, PID: os.Getpid()})
}

func (a *Agent) handleReady(c *fiber.Ctx) error {
	return c.JSON(ReadyResponse{Ready: a.ready.Load()})
}

func (a *Agent) handleTerminate(c *fiber.Ctx) error {
	// Respond first; Done fires right after so the server can drain this request.
	go a.shutdown(ErrTerminateRequested)
	return c.SendStatus(fiber.StatusAccepted)
}

func (a *Agent) handleRestart(c *fiber.Ctx) error {
	return c.JSON(RestartResponse{Restart: a.restart.Load()})
}

// Run is the entry point for a supervised worker. It loads the argument file from the
// command line and hands over to Agent.Run.
func Run(fn func(ctx context.Context, a *Agent) error) error {
	path, ok := ArgsPath(os.Args[1:])
	if !ok {
		return fmt.Errorf("missing %s on command line", ArgsFlag)
	}
	args, err := ReadArgs(path)
	if err != nil {
		return err
	}
	return New(args).Run(fn)
}

// Run serves the control endpoints and runs fn with a context that is cancelled on
// SIGINT/SIGTERM, on a terminate request, or when the supervisor is lost. fn should call
// MarkReady once it is able to serve. After a terminate request or a lost supervisor,
// fn has TerminateTimeout to return before the process is forced to exit.
func (a *Agent) Run(fn func(ctx context.Context, a *Agent) error) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigC)

	var (
		forceMu  sync.Mutex
		force    *time.Timer
		returned bool
	)
	defer func() {
		forceMu.Lock()
		returned = true
		if force != nil {
			force.Stop()
		}
		forceMu.Unlock()
	}()
	go func() {
		select {
		case <-sigC:
			slog.Info("Child: shutdown signal received, cancelling context")
			cancel()
		case <-a.Done():
			cancel()
			forceMu.Lock()
			if d := a.args.TerminateTimeout; d > 0 && !returned {
				force = time.AfterFunc(d, func() {
					a.logger.Error("Child: did not stop within terminate timeout, exiting", slog.Duration("timeout", d))
					a.exit(1)
				})
			}
			forceMu.Unlock()
		case <-ctx.Done():
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- a.Serve(ctx) }()

	fnErr := fn(ctx, a)
	cancel()
	if err := <-serveErr; err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
