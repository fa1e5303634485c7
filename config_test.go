package procmon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

const yamlConfig = `
basePort: 18000
metricsAddr: ":9999"
restartWatch: true
timeouts:
  connect: 3s
  terminate: 750ms
commands:
  - key: store
    path: go
    options: [run, ./examples/worker]
    args:
      port: "3001"
    watch: [./examples/worker/main.go]
  - key: api
    path: go
    optionString: "run  ./examples/worker"
    debug: true
`

const jsonConfig = `{
  "basePort": 18000,
  "metricsAddr": ":9999",
  "restartWatch": true,
  "timeouts": {"connect": "3s", "terminate": "750ms"},
  "commands": [
    {"key": "store", "path": "go", "options": ["run", "./examples/worker"],
     "args": {"port": "3001"}, "watch": ["./examples/worker/main.go"]},
    {"key": "api", "path": "go", "optionString": "run  ./examples/worker", "debug": true}
  ]
}`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_YAMLAndJSONAgree(t *testing.T) {
	want := &Config{
		BasePort:     18000,
		LogDir:       defaultLogDir,
		LogFile:      defaultSupervisorLog,
		PIDFile:      defaultPIDFile,
		MetricsAddr:  ":9999",
		RestartWatch: true,
		Timeouts:     TimeoutsConfig{Connect: "3s", Terminate: "750ms"},
		CommandConfig: []CommandConfig{
			{
				Key:     "store",
				Path:    "go",
				Options: []string{"run", "./examples/worker"},
				Args:    map[string]string{"port": "3001"},
				Watch:   []string{"./examples/worker/main.go"},
			},
			{Key: "api", Path: "go", OptionString: "run  ./examples/worker", Debug: true},
		},
	}
	for _, tc := range []struct{ name, content string }{
		{"procmon.yaml", yamlConfig},
		{"procmon.json", "\xef\xbb\xbf" + jsonConfig},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LoadConfig(writeConfig(t, tc.name, tc.content))
			assert.NilError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "empty.yaml", "basePort: 1\n"))
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))

	cfg, err := LoadConfig(writeConfig(t, "nopath.yaml", "commands:\n  - key: a\n"))
	assert.NilError(t, err)
	_, err = cfg.Commands()
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))
	assert.ErrorContains(t, err, "path is required")

	_, err = LoadConfig(writeConfig(t, "procmon.toml", "x = 1\n"))
	assert.ErrorContains(t, err, "unsupported format")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Assert(t, errors.Is(err, os.ErrNotExist))
}

func TestConfig_ParseTimeouts(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "procmon.yaml", yamlConfig))
	assert.NilError(t, err)

	got, err := cfg.ParseTimeouts()
	assert.NilError(t, err)
	want := DefaultTimeouts()
	want.Connect = 3 * time.Second
	want.Terminate = 750 * time.Millisecond
	assert.DeepEqual(t, got, want)

	cfg.Timeouts.Ready = "soon"
	_, err = cfg.ParseTimeouts()
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))
	assert.ErrorContains(t, err, "timeouts.ready")
}

func TestConfig_Commands(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "procmon.yaml", yamlConfig))
	assert.NilError(t, err)

	cmds, err := cfg.Commands()
	assert.NilError(t, err)
	assert.Equal(t, len(cmds), 2)

	store, api := cmds[0], cmds[1]
	assert.Equal(t, store.Index, 0)
	assert.Equal(t, store.ControlPort(cfg.BasePort), 18000)
	assert.DeepEqual(t, store.Options, []string{"run", "./examples/worker"})
	assert.Equal(t, store.Args["port"], "3001")
	assert.Equal(t, api.Index, 1)
	assert.DeepEqual(t, api.Options, []string{"run", "./examples/worker"})
	assert.Assert(t, api.Debug)

	opts, err := cfg.SupervisorOptions()
	assert.NilError(t, err)
	s := New(nil, opts...)
	assert.Equal(t, s.timeouts.Connect, 3*time.Second)
	assert.Assert(t, s.watchRestart)
	assert.DeepEqual(t, s.watchFiles, map[string][]string{"store": {"./examples/worker/main.go"}})
	l, ok := s.launcher.(*ExecLauncher)
	assert.Assert(t, ok)
	assert.Equal(t, l.BasePort, 18000)
}
