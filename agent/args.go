package agent

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ArgsFlag precedes the path of the argument file on a supervised child's command line.
const ArgsFlag = "--procmon-args"

// Args is the content of the transient argument file handed to every child.
type Args struct {
	Key              string            `yaml:"key"`
	NoAutokill       bool              `yaml:"noAutokill"`
	PingTimeout      time.Duration     `yaml:"pingTimeout"`
	PingInterval     time.Duration     `yaml:"pingInterval"`
	TerminateTimeout time.Duration     `yaml:"terminateTimeout"`
	ControlAddr      string            `yaml:"controlAddr"`
	Resources        []string          `yaml:"resources,omitempty"`
	Values           map[string]string `yaml:"args,omitempty"`
}

func WriteArgs(w io.Writer, a Args) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return err
	}
	return enc.Close()
}

func ReadArgs(path string) (Args, error) {
	var a Args
	data, err := os.ReadFile(path)
	if err != nil {
		return a, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if err := yaml.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("parse argument file %s: %w", path, err)
	}
	if a.Key == "" {
		return a, fmt.Errorf("argument file %s: missing key", path)
	}
	if a.ControlAddr == "" {
		return a, fmt.Errorf("argument file %s: missing controlAddr", path)
	}
	return a, nil
}

// ArgsPath finds the argument file on a command line. It accepts both
// "--procmon-args path" and "--procmon-args=path".
func ArgsPath(argv []string) (string, bool) {
	for i, arg := range argv {
		if arg == ArgsFlag && i+1 < len(argv) {
			return argv[i+1], true
		}
		if len(arg) > len(ArgsFlag)+1 && arg[:len(ArgsFlag)+1] == ArgsFlag+"=" {
			return arg[len(ArgsFlag)+1:], true
		}
	}
	return "", false
}

// Supervised reports whether this process was started by a supervisor.
func Supervised() bool {
	_, ok := ArgsPath(os.Args[1:])
	return ok
}
