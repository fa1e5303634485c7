package procmon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultBasePort      = 17100
	defaultLogDir        = "./log/procmon"
	defaultSupervisorLog = defaultLogDir + "/supervisor.log"
	defaultPIDFile       = "/tmp/procmon.pid"
)

// Config is the on-disk description of a supervised batch, in YAML or JSON.
type Config struct {
	BasePort      int             `yaml:"basePort" json:"basePort"`
	LogDir        string          `yaml:"logDir" json:"logDir"`
	LogFile       string          `yaml:"logFile" json:"logFile"`
	PIDFile       string          `yaml:"pidFile" json:"pidFile"`
	MetricsAddr   string          `yaml:"metricsAddr" json:"metricsAddr"`
	RestartWatch  bool            `yaml:"restartWatch" json:"restartWatch"`
	Timeouts      TimeoutsConfig  `yaml:"timeouts" json:"timeouts"`
	CommandConfig []CommandConfig `yaml:"commands" json:"commands"`
}

// TimeoutsConfig holds durations as strings such as "5s" or "250ms".
type TimeoutsConfig struct {
	Connect      string `yaml:"connect" json:"connect"`
	Ready        string `yaml:"ready" json:"ready"`
	Terminate    string `yaml:"terminate" json:"terminate"`
	PingTimeout  string `yaml:"pingTimeout" json:"pingTimeout"`
	PingInterval string `yaml:"pingInterval" json:"pingInterval"`
	ConnectRetry string `yaml:"connectRetry" json:"connectRetry"`
	ReadyPoll    string `yaml:"readyPoll" json:"readyPoll"`
	RestartPoll  string `yaml:"restartPoll" json:"restartPoll"`
}

type CommandConfig struct {
	Key          string            `yaml:"key" json:"key"`
	Dir          string            `yaml:"dir" json:"dir"`
	Path         string            `yaml:"path" json:"path"`
	Options      []string          `yaml:"options" json:"options"`
	OptionString string            `yaml:"optionString" json:"optionString"`
	Module       string            `yaml:"module" json:"module"`
	Resources    []string          `yaml:"resources" json:"resources"`
	Args         map[string]string `yaml:"args" json:"args"`
	Env          map[string]string `yaml:"env" json:"env"`
	EnvFiles     []string          `yaml:"envFiles" json:"envFiles"`
	TempDir      string            `yaml:"tempDir" json:"tempDir"`
	Debug        bool              `yaml:"debug" json:"debug"`
	Watch        []string          `yaml:"watch" json:"watch"`
}

// LoadConfig reads a YAML or JSON config, chosen by file extension, and fills in
// defaults.
func LoadConfig(configPath string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // Remove UTF-8 BOM if present
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	default:
		return nil, fmt.Errorf("failed to load config from %s: unsupported format", configPath)
	}
	cfg.applyDefaults()
	if len(cfg.CommandConfig) == 0 {
		return nil, invalidArgument("no commands specified in %s", configPath)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BasePort == 0 {
		c.BasePort = defaultBasePort
	}
	if c.LogDir == "" {
		c.LogDir = defaultLogDir
	}
	if c.LogFile == "" {
		c.LogFile = defaultSupervisorLog
	}
	if c.PIDFile == "" {
		c.PIDFile = defaultPIDFile
	}
}

// ParseTimeouts converts the configured strings, leaving defaults for empty ones.
func (c *Config) ParseTimeouts() (Timeouts, error) {
	var t Timeouts
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"connect", c.Timeouts.Connect, &t.Connect},
		{"ready", c.Timeouts.Ready, &t.Ready},
		{"terminate", c.Timeouts.Terminate, &t.Terminate},
		{"pingTimeout", c.Timeouts.PingTimeout, &t.PingTimeout},
		{"pingInterval", c.Timeouts.PingInterval, &t.PingInterval},
		{"connectRetry", c.Timeouts.ConnectRetry, &t.ConnectRetry},
		{"readyPoll", c.Timeouts.ReadyPoll, &t.ReadyPoll},
		{"restartPoll", c.Timeouts.RestartPoll, &t.RestartPoll},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return t, invalidArgument("timeouts.%s: %v", f.name, err)
		}
		*f.dst = d
	}
	return t.withDefaults(), nil
}

// Commands builds the command batch in file order, assigning launch indices from a
// fresh Sequence. Every configured command needs a path; re-executing the supervisor's
// own binary is left to library callers.
func (c *Config) Commands() ([]*Command, error) {
	var seq Sequence
	cmds := make([]*Command, 0, len(c.CommandConfig))
	for _, cc := range c.CommandConfig {
		if cc.Path == "" {
			return nil, invalidArgument("command %q: path is required", cc.Key)
		}
		opts := []CommandOption{
			seq.Option(),
			WithDir(cc.Dir),
			WithPath(cc.Path),
			WithOptions(cc.Options...),
			WithOptionString(cc.OptionString),
			WithModule(cc.Module),
			WithResources(cc.Resources...),
			WithEnvFiles(cc.EnvFiles...),
			WithTempDir(cc.TempDir),
			WithDebug(cc.Debug),
		}
		for k, v := range cc.Env {
			opts = append(opts, WithEnv(k, v))
		}
		for k, v := range cc.Args {
			opts = append(opts, WithArg(k, v))
		}
		cmd, err := NewCommand(cc.Key, opts...)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// SupervisorOptions turns the config into options for New.
func (c *Config) SupervisorOptions() ([]Option, error) {
	t, err := c.ParseTimeouts()
	if err != nil {
		return nil, err
	}
	opts := []Option{
		WithTimeouts(t),
		WithLauncher(NewExecLauncher(t, c.BasePort, c.LogDir)),
		WithRestartWatcher(c.RestartWatch),
	}
	for _, cc := range c.CommandConfig {
		if len(cc.Watch) > 0 {
			opts = append(opts, WithWatchFiles(cc.Key, cc.Watch...))
		}
	}
	return opts, nil
}
