package agent

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

func TestArgsFile(t *testing.T) {
	want := Args{
		Key:              "store",
		NoAutokill:       true,
		PingTimeout:      10 * time.Second,
		PingInterval:     2 * time.Second,
		TerminateTimeout: 5 * time.Second,
		ControlAddr:      "127.0.0.1:17101",
		Resources:        []string{"lib/a.jar", "lib/b.jar"},
		Values:           map[string]string{"port": "3001"},
	}
	var buf bytes.Buffer
	assert.NilError(t, WriteArgs(&buf, want))

	path := filepath.Join(t.TempDir(), "args.yaml")
	assert.NilError(t, os.WriteFile(path, append([]byte("\xef\xbb\xbf"), buf.Bytes()...), 0o644))

	got, err := ReadArgs(path)
	assert.NilError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestReadArgs_RequiresKeyAndAddress(t *testing.T) {
	dir := t.TempDir()
	noKey := filepath.Join(dir, "nokey.yaml")
	assert.NilError(t, os.WriteFile(noKey, []byte("controlAddr: 127.0.0.1:1\n"), 0o644))
	_, err := ReadArgs(noKey)
	assert.ErrorContains(t, err, "missing key")

	noAddr := filepath.Join(dir, "noaddr.yaml")
	assert.NilError(t, os.WriteFile(noAddr, []byte("key: a\n"), 0o644))
	_, err = ReadArgs(noAddr)
	assert.ErrorContains(t, err, "missing controlAddr")
}

func TestArgsPath(t *testing.T) {
	path, ok := ArgsPath([]string{"-v", ArgsFlag, "/tmp/a.yaml"})
	assert.Assert(t, ok)
	assert.Equal(t, path, "/tmp/a.yaml")

	path, ok = ArgsPath([]string{ArgsFlag + "=/tmp/b.yaml"})
	assert.Assert(t, ok)
	assert.Equal(t, path, "/tmp/b.yaml")

	_, ok = ArgsPath([]string{"run", ArgsFlag})
	assert.Assert(t, !ok)
}
