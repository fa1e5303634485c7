package procmon

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
)

// Command describes one child process to launch. It is built once before Start and is
// never mutated after the process is spawned. An empty Path re-executes the current
// binary, which suits programs that embed the supervisor and branch on
// agent.Supervised.
type Command struct {
	Key       string
	Dir       string
	Path      string
	Options   []string
	Module    string
	Resources []string
	Args      map[string]string
	Env       map[string]string
	TempDir   string
	Index     int
	Debug     bool
}

type CommandOption func(*Command) error

// NewCommand builds a Command whose environment is seeded from the current process
// environment. Options are applied in order.
func NewCommand(key string, opts ...CommandOption) (*Command, error) {
	c := &Command{
		Key:  key,
		Args: make(map[string]string),
		Env:  environ(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Command) Validate() error {
	if c == nil {
		return invalidArgument("nil command")
	}
	if strings.TrimSpace(c.Key) == "" {
		return invalidArgument("command key is empty")
	}
	if c.Index < 0 {
		return invalidArgument("command %q has negative launch index %d", c.Key, c.Index)
	}
	return nil
}

// ControlPort derives the child's private control port so that siblings never collide.
func (c *Command) ControlPort(base int) int {
	return base + c.Index
}

func (c *Command) envList() []string {
	env := make([]string, 0, len(c.Env))
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

func WithDir(dir string) CommandOption {
	return func(c *Command) error {
		c.Dir = dir
		return nil
	}
}

func WithPath(path string) CommandOption {
	return func(c *Command) error {
		c.Path = path
		return nil
	}
}

func WithOptions(options ...string) CommandOption {
	return func(c *Command) error {
		c.Options = append(c.Options, options...)
		return nil
	}
}

// WithOptionString splits a space-joined option string, discarding empty tokens.
func WithOptionString(options string) CommandOption {
	return func(c *Command) error {
		c.Options = append(c.Options, splitOptions(options)...)
		return nil
	}
}

func WithModule(module string) CommandOption {
	return func(c *Command) error {
		c.Module = module
		return nil
	}
}

func WithResources(resources ...string) CommandOption {
	return func(c *Command) error {
		c.Resources = append(c.Resources, resources...)
		return nil
	}
}

func WithArg(name, value string) CommandOption {
	return func(c *Command) error {
		if name == "" {
			return invalidArgument("command %q: empty argument name", c.Key)
		}
		c.Args[name] = value
		return nil
	}
}

func WithEnv(name, value string) CommandOption {
	return func(c *Command) error {
		if name == "" {
			return invalidArgument("command %q: empty environment variable name", c.Key)
		}
		c.Env[name] = value
		return nil
	}
}

// WithEnvFiles overlays variables read from dotenv files, later files winning.
func WithEnvFiles(paths ...string) CommandOption {
	return func(c *Command) error {
		for _, p := range paths {
			vars, err := godotenv.Read(p)
			if err != nil {
				return invalidArgument("command %q: env file %s: %v", c.Key, p, err)
			}
			maps.Copy(c.Env, vars)
		}
		return nil
	}
}

func WithTempDir(dir string) CommandOption {
	return func(c *Command) error {
		c.TempDir = dir
		return nil
	}
}

func WithIndex(index int) CommandOption {
	return func(c *Command) error {
		c.Index = index
		return nil
	}
}

// WithDebug marks the command as unsupervised: no heartbeat, and the child is told not
// to kill itself when pings stop.
func WithDebug(debug bool) CommandOption {
	return func(c *Command) error {
		c.Debug = debug
		return nil
	}
}

// Sequence hands out launch indices. The caller owns it and threads it through the
// construction of a command batch.
type Sequence struct {
	next atomic.Int64
}

func (s *Sequence) Next() int {
	return int(s.next.Add(1) - 1)
}

// Option returns a CommandOption that assigns the next index.
func (s *Sequence) Option() CommandOption {
	return func(c *Command) error {
		c.Index = s.Next()
		return nil
	}
}

func splitOptions(s string) []string {
	fields := strings.Split(s, " ")
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func environ() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			m[parts[0]] = parts[1]
		}
	}
	return m
}
