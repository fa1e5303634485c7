// Package procmon supervises a small fixed set of long-running worker processes on one
// host. Workers are started one after another and each must report ready before the
// next is launched. Liveness is tracked through a blocking OS wait plus a heartbeat over
// an out-of-band ControlChannel. The death of any worker, a signal, or an explicit Stop
// tears every worker down, gracefully first and then by force.
package procmon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// State is the supervisor lifecycle state. Transitions only move forward; StateStopped
// is terminal for a start cycle.
type State int32

const (
	StateInit State = iota
	StateStarting
	StateStarted
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateStarting:
		return "STARTING"
	case StateStarted:
		return "STARTED"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

type Supervisor struct {
	id       string
	channel  ControlChannel
	launcher Launcher
	timeouts Timeouts
	logger   *slog.Logger
	exit     func(code int)

	handleSignals bool
	watchRestart  bool
	watchFiles    map[string][]string

	state         atomic.Int32
	restarting    atomic.Bool
	stopRequested atomic.Bool
	restartMu     sync.Mutex

	mu              sync.Mutex
	commands        []*Command
	handles         []*Handle
	launched        []*Handle
	restartWatcher  *RestartWatcher
	watchers        []chan struct{}
	generation      int
	coordinatorDone chan struct{}
	cycleCancel     context.CancelFunc
}

type Option func(*Supervisor)

func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

func WithTimeouts(t Timeouts) Option {
	return func(s *Supervisor) { s.timeouts = t.withDefaults() }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithExitFunc replaces os.Exit as the last step of Stop.
func WithExitFunc(exit func(code int)) Option {
	return func(s *Supervisor) { s.exit = exit }
}

// WithSignals controls whether Start installs the SIGINT/SIGTERM shutdown hook and the
// SIGHUP restart hook. Enabled by default.
func WithSignals(enabled bool) Option {
	return func(s *Supervisor) { s.handleSignals = enabled }
}

// WithRestartWatcher enables polling handles for restart requests once started.
func WithRestartWatcher(enabled bool) Option {
	return func(s *Supervisor) { s.watchRestart = enabled }
}

// WithWatchFiles raises a restart request on the child named key whenever one of paths
// changes.
func WithWatchFiles(key string, paths ...string) Option {
	return func(s *Supervisor) {
		if s.watchFiles == nil {
			s.watchFiles = make(map[string][]string)
		}
		s.watchFiles[key] = append(s.watchFiles[key], paths...)
	}
}

// New creates a supervisor speaking to its children over channel. Without
// WithLauncher an ExecLauncher on port 0 without a log directory is used.
func New(channel ControlChannel, opts ...Option) *Supervisor {
	s := &Supervisor{
		id:            uuid.NewString(),
		channel:       channel,
		timeouts:      DefaultTimeouts(),
		exit:          os.Exit,
		handleSignals: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slog.String("supervisor", s.id))
	if s.launcher == nil {
		s.launcher = NewExecLauncher(s.timeouts, 0, "")
	}
	return s
}

func (s *Supervisor) ID() string { return s.id }

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) casState(from, to State) bool {
	if s.state.CompareAndSwap(int32(from), int32(to)) {
		stateGauge.Set(float64(to))
		return true
	}
	return false
}

// Start launches cmds in order and waits for each to report ready before launching the
// next. On any failure everything already running is torn down before the error is
// returned.
func (s *Supervisor) Start(ctx context.Context, cmds []*Command) error {
	if len(cmds) == 0 {
		return invalidArgument("empty command list")
	}
	seen := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Key]; dup {
			return invalidArgument("duplicate command key %q", c.Key)
		}
		seen[c.Key] = struct{}{}
	}
	if !s.casState(StateInit, StateStarting) {
		return illegalState("cannot start supervisor in state %s", s.State())
	}

	cycleCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.commands = slices.Clone(cmds)
	s.cycleCancel = cancel
	s.mu.Unlock()
	if s.handleSignals {
		s.installSignalHook(cycleCtx)
	}
	if len(s.watchFiles) > 0 {
		if err := startFileWatcher(cycleCtx, s, s.watchFiles); err != nil {
			s.logger.Warn("Supervisor: file watcher disabled", slog.String("err", err.Error()))
		}
	}

	started := time.Now()
	for _, c := range cmds {
		h, err := s.startOne(ctx, cycleCtx, c)
		if err != nil {
			s.logger.Error("Supervisor: startup failed, stopping all children", slog.String("key", c.Key), slog.String("err", err.Error()))
			if h != nil {
				h.HardKill()
			}
			s.shutdown()
			return err
		}
	}

	if !s.casState(StateStarting, StateStarted) {
		s.shutdown()
		return illegalState("stop requested during startup")
	}
	s.logger.Info("Supervisor: all children started", slog.Int("children", len(cmds)), slog.Duration("took", time.Since(started)))
	s.mu.Lock()
	if s.watchRestart {
		w := newRestartWatcher(s, s.timeouts.RestartPoll)
		s.restartWatcher = w
		go w.Run(cycleCtx)
	}
	s.mu.Unlock()
	return nil
}

// StopRestartWatcher stops polling for restart requests, for this start cycle and
// every later one. It returns once the watcher has stopped.
func (s *Supervisor) StopRestartWatcher() {
	s.mu.Lock()
	s.watchRestart = false
	w := s.restartWatcher
	s.restartWatcher = nil
	s.mu.Unlock()
	if w != nil {
		w.Stop()
		<-w.Done()
	}
}

func (s *Supervisor) startOne(ctx, cycleCtx context.Context, c *Command) (*Handle, error) {
	if st := s.State(); st != StateStarting {
		return nil, illegalState("supervisor is %s before launching %q", st, c.Key)
	}
	h, err := s.launcher.Launch(ctx, c)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.launched = append(s.launched, h)
	s.watchers = append(s.watchers, done)
	s.mu.Unlock()
	go s.watch(h, done)
	if c.Debug {
		h.DisablePing()
	} else {
		go s.heartbeat(cycleCtx, h)
	}

	err = callBounded(ctx, s.timeouts.Connect, func(ctx context.Context) error {
		return s.channel.Connect(ctx, c, h)
	})
	if err != nil {
		return h, asChannelError(c.Key, "connect", err)
	}
	s.register(h)
	s.logger.Info("Supervisor: connected to child", slog.String("key", c.Key), slog.Int("pid", h.PID()))

	if err := s.awaitReady(ctx, c, h); err != nil {
		return h, err
	}
	s.logger.Info("Supervisor: child ready", slog.String("key", c.Key))
	return h, nil
}

func (s *Supervisor) awaitReady(ctx context.Context, c *Command, h *Handle) error {
	ticker := time.NewTicker(s.timeouts.ReadyPoll)
	defer ticker.Stop()
	for {
		if h.Terminated() {
			return &StartupError{Key: c.Key}
		}
		if st := s.State(); st != StateStarting {
			return &StartupError{Key: c.Key, Err: illegalState("supervisor is %s", st)}
		}
		var ready bool
		err := callBounded(ctx, s.timeouts.Ready, func(ctx context.Context) error {
			r, err := s.channel.IsReady(ctx, h)
			ready = r
			return err
		})
		if err != nil {
			if h.Terminated() {
				return &StartupError{Key: c.Key}
			}
			return asChannelError(c.Key, "ready", err)
		}
		if ready {
			return nil
		}
		select {
		case <-ctx.Done():
			return &StartupError{Key: c.Key, Err: ctx.Err()}
		case <-h.Done():
		case <-ticker.C:
		}
	}
}

// register adds h to the running set. Only connected handles are registered, so a
// child that never connected takes no part in shutdown ordering.
func (s *Supervisor) register(h *Handle) {
	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()
}

func (s *Supervisor) runningHandles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.handles)
}

// Stop tears down every child and exits the host process. It is idempotent, never
// fails, and returns (when exit is stubbed) only once the supervisor is STOPPED.
func (s *Supervisor) Stop() {
	s.stop(0)
}

func (s *Supervisor) stop(code int) {
	s.stopRequested.Store(true)
	s.shutdown()
	s.exit(code)
}

// shutdown is Stop without the final exit. Restart and failed starts use it directly.
func (s *Supervisor) shutdown() {
	s.terminateAsync()

	s.mu.Lock()
	done := s.coordinatorDone
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	// Launched covers children that were still connecting when the stop came in.
	s.mu.Lock()
	launched := slices.Clone(s.launched)
	s.mu.Unlock()
	for _, h := range launched {
		if h.HardKill() {
			s.logger.Warn("Supervisor: child still alive after shutdown, killed", slog.String("key", h.Key))
			forcedKills.WithLabelValues("sweep").Inc()
		}
	}

	for {
		cur := s.State()
		if cur == StateStopped || s.casState(cur, StateStopped) {
			break
		}
	}

	s.mu.Lock()
	cancel := s.cycleCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// terminateAsync moves the supervisor to STOPPING and starts the shutdown coordinator.
// It reports whether this call performed the transition.
func (s *Supervisor) terminateAsync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		cur := s.State()
		if cur == StateStopping || cur == StateStopped {
			return false
		}
		if s.casState(cur, StateStopping) {
			break
		}
	}
	done := make(chan struct{})
	s.coordinatorDone = done
	handles := slices.Clone(s.handles)
	s.logger.Info("Supervisor: stopping", slog.Int("children", len(handles)))
	go func() {
		defer close(done)
		s.coordinate(handles)
	}()
	return true
}

// AwaitTermination blocks until every liveness watcher has observed its process exit.
// A restart in progress is waited out. Safe to call from several goroutines.
func (s *Supervisor) AwaitTermination() {
	for {
		s.mu.Lock()
		watchers := slices.Clone(s.watchers)
		gen := s.generation
		s.mu.Unlock()
		awaitAll(watchers)

		if s.restarting.Load() {
			s.restartMu.Lock()
			s.restartMu.Unlock()
			continue
		}
		s.mu.Lock()
		same := gen == s.generation
		s.mu.Unlock()
		if same {
			return
		}
	}
}

func awaitAll(chs []chan struct{}) {
	for _, ch := range chs {
		<-ch
	}
}

// Restart stops every child and starts the same command list again from scratch. It
// does not exit the host process.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.restartMu.Lock()
	defer s.restartMu.Unlock()
	if s.stopRequested.Load() {
		return illegalState("supervisor was stopped")
	}
	s.mu.Lock()
	cmds := slices.Clone(s.commands)
	s.mu.Unlock()
	if len(cmds) == 0 {
		return illegalState("supervisor was never started")
	}

	s.logger.Info("Supervisor: restarting all children")
	s.restarting.Store(true)
	s.shutdown()
	s.mu.Lock()
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()
	awaitAll(watchers)

	s.mu.Lock()
	s.handles = nil
	s.launched = nil
	s.restartWatcher = nil
	s.watchers = nil
	s.coordinatorDone = nil
	s.cycleCancel = nil
	s.generation++
	s.mu.Unlock()
	s.state.Store(int32(StateInit))
	stateGauge.Set(float64(StateInit))
	s.restarting.Store(false)
	restartCounter.Inc()

	return s.Start(ctx, cmds)
}

func (s *Supervisor) installSignalHook(ctx context.Context) {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigC)
		for {
			select {
			case sig := <-sigC:
				if sig == syscall.SIGHUP {
					s.logger.Info("Supervisor: SIGHUP received, restarting children")
					go s.restartOrStop()
					return
				}
				s.logger.Info("Supervisor: shutdown signal received, tearing down children and exiting", slog.String("signal", sig.String()))
				s.Stop()
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Supervisor) restartOrStop() {
	if err := s.Restart(context.Background()); err != nil {
		s.logger.Error("Supervisor: restart failed", slog.String("err", err.Error()))
		s.stop(1)
	}
}

// ChildStatus is a point-in-time view of one running child.
type ChildStatus struct {
	Key         string `json:"key"`
	PID         int    `json:"pid"`
	Terminated  bool   `json:"terminated"`
	PingEnabled bool   `json:"pingEnabled"`
	ExitCode    int    `json:"exitCode"`
}

type Snapshot struct {
	ID       string        `json:"id"`
	State    string        `json:"state"`
	Children []ChildStatus `json:"children"`
}

func (s *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{ID: s.id, State: s.State().String()}
	for _, h := range s.runningHandles() {
		snap.Children = append(snap.Children, ChildStatus{
			Key:         h.Key,
			PID:         h.PID(),
			Terminated:  h.Terminated(),
			PingEnabled: h.PingEnabled(),
			ExitCode:    h.ExitCode(),
		})
	}
	return snap
}

// callBounded runs fn on its own goroutine and gives up after d, so an unresponsive
// channel implementation cannot stall the caller.
func callBounded(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- fn(ctx) }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func asChannelError(key, op string, err error) error {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return err
	}
	return &ChannelError{Key: key, Op: op, Err: err}
}
