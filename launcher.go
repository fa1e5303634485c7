package procmon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"

	"github.com/mitchellh/go-linereader"
	"github.com/natefinch/lumberjack"

	"github.com/oarkflow/procmon/agent"
)

// Launcher turns a Command into a running process wrapped in a Handle.
type Launcher interface {
	Launch(ctx context.Context, cmd *Command) (*Handle, error)
}

// ExecLauncher spawns commands as OS processes and drains their output into slog and,
// when LogDir is set, into a rotating file per command.
type ExecLauncher struct {
	Timeouts Timeouts
	BasePort int
	LogDir   string
	Logger   *slog.Logger
}

func NewExecLauncher(timeouts Timeouts, basePort int, logDir string) *ExecLauncher {
	return &ExecLauncher{
		Timeouts: timeouts.withDefaults(),
		BasePort: basePort,
		LogDir:   logDir,
		Logger:   slog.Default(),
	}
}

func (l *ExecLauncher) Launch(ctx context.Context, c *Command) (*Handle, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	path := c.Path
	if path == "" {
		bin, err := os.Executable()
		if err != nil {
			return nil, &LaunchError{Key: c.Key, Err: fmt.Errorf("unable to get executable path: %w", err)}
		}
		path = bin
	}
	argsFile, err := l.writeArgs(c)
	if err != nil {
		return nil, &LaunchError{Key: c.Key, Err: err}
	}
	sink, err := l.sink(c)
	if err != nil {
		_ = os.Remove(argsFile)
		return nil, &LaunchError{Key: c.Key, Err: err}
	}

	argv := slices.Clone(c.Options)
	if c.Module != "" {
		argv = append(argv, c.Module)
	}
	argv = append(argv, agent.ArgsFlag, argsFile)

	cmd := exec.Command(path, argv...)
	cmd.Dir = c.Dir
	cmd.Env = c.envList()
	cmd.SysProcAttr = sysProcAttr()

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = os.Remove(argsFile)
		return nil, &LaunchError{Key: c.Key, Err: err}
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdoutR, stdoutW)
		_ = os.Remove(argsFile)
		return nil, &LaunchError{Key: c.Key, Err: err}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		_ = os.Remove(argsFile)
		return nil, &LaunchError{Key: c.Key, Err: err}
	}
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)

	h := newHandle(c.Key, cmd)
	h.argsFile = argsFile
	var out io.Writer
	if sink != nil {
		out = sink
		h.closers = append(h.closers, sink.Close)
	}
	if c.Debug {
		h.DisablePing()
	}
	go h.wait()

	logger := l.logger().With(slog.String("key", c.Key), slog.Int("pid", cmd.Process.Pid))
	h.drains.Go(func() error { return drain(stdoutR, logger.With(slog.String("stream", "stdout")), out) })
	h.drains.Go(func() error { return drain(stderrR, logger.With(slog.String("stream", "stderr")), out) })

	if err := ctx.Err(); err != nil {
		h.HardKill()
		go func() {
			<-h.Done()
			_ = h.Retire()
		}()
		return nil, &LaunchError{Key: c.Key, Err: err}
	}
	logger.Info("Supervisor: spawned child process", slog.String("path", path))
	childStarted.Inc()
	return h, nil
}

// writeArgs stores the settings the child reads at startup, including the values it
// needs to police itself when the supervisor goes away.
func (l *ExecLauncher) writeArgs(c *Command) (string, error) {
	dir := c.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "procmon-args-*.yaml")
	if err != nil {
		return "", fmt.Errorf("create argument file: %w", err)
	}
	args := agent.Args{
		Key:              c.Key,
		NoAutokill:       c.Debug,
		PingTimeout:      l.Timeouts.PingTimeout,
		PingInterval:     l.Timeouts.PingInterval,
		TerminateTimeout: l.Timeouts.Terminate,
		ControlAddr:      controlAddr(c, l.BasePort),
		Resources:        c.Resources,
		Values:           c.Args,
	}
	if err := agent.WriteArgs(f, args); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write argument file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (l *ExecLauncher) sink(c *Command) (*lumberjack.Logger, error) {
	if l.LogDir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(l.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("create child log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   filepath.Join(l.LogDir, c.Key+".log"),
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}, nil
}

func (l *ExecLauncher) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// drain copies child output line by line until the stream closes.
func drain(r *os.File, logger *slog.Logger, sink io.Writer) error {
	lr := linereader.New(r)
	for line := range lr.Ch {
		logger.Info(line)
		if sink != nil {
			_, _ = fmt.Fprintln(sink, line)
		}
	}
	return r.Close()
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func controlAddr(c *Command, basePort int) string {
	return fmt.Sprintf("127.0.0.1:%d", c.ControlPort(basePort))
}
