package procmon

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"
)

func TestNewCommand_RejectsEmptyKey(t *testing.T) {
	_, err := NewCommand("  ")
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewCommand("a", WithIndex(-1))
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))

	var c *Command
	assert.Assert(t, errors.Is(c.Validate(), ErrInvalidArgument))
}

func TestNewCommand_SeedsEnvironment(t *testing.T) {
	t.Setenv("PROCMON_TEST_SEED", "from-parent")

	c, err := NewCommand("a", WithEnv("PROCMON_TEST_OVERRIDE", "x"))
	assert.NilError(t, err)
	assert.Equal(t, c.Env["PROCMON_TEST_SEED"], "from-parent")
	assert.Equal(t, c.Env["PROCMON_TEST_OVERRIDE"], "x")
	assert.Assert(t, slices.Contains(c.envList(), "PROCMON_TEST_OVERRIDE=x"))
}

func TestNewCommand_EmptyNames(t *testing.T) {
	_, err := NewCommand("a", WithEnv("", "x"))
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))

	_, err = NewCommand("a", WithArg("", "x"))
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))
}

func TestWithOptionString_DropsEmptyTokens(t *testing.T) {
	c, err := NewCommand("a",
		WithOptions("-Xmx1g"),
		WithOptionString("  run   ./worker  -v "),
	)
	assert.NilError(t, err)
	assert.DeepEqual(t, c.Options, []string{"-Xmx1g", "run", "./worker", "-v"})

	c, err = NewCommand("b", WithOptionString(""))
	assert.NilError(t, err)
	assert.Equal(t, len(c.Options), 0)
}

func TestWithEnvFiles_LaterFilesWin(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.env")
	second := filepath.Join(dir, "second.env")
	assert.NilError(t, os.WriteFile(first, []byte("A=1\nB=1\n"), 0o644))
	assert.NilError(t, os.WriteFile(second, []byte("B=2\n"), 0o644))

	c, err := NewCommand("a", WithEnvFiles(first, second), WithEnv("C", "3"))
	assert.NilError(t, err)
	got := map[string]string{"A": c.Env["A"], "B": c.Env["B"], "C": c.Env["C"]}
	if diff := cmp.Diff(map[string]string{"A": "1", "B": "2", "C": "3"}, got); diff != "" {
		t.Fatalf("env mismatch (-want +got):\n%s", diff)
	}

	_, err = NewCommand("a", WithEnvFiles(filepath.Join(dir, "missing.env")))
	assert.Assert(t, errors.Is(err, ErrInvalidArgument))
}

func TestSequence_AssignsIncreasingIndices(t *testing.T) {
	var seq Sequence
	a, err := NewCommand("a", seq.Option())
	assert.NilError(t, err)
	b, err := NewCommand("b", seq.Option())
	assert.NilError(t, err)
	assert.Equal(t, seq.Next(), 2)

	assert.Equal(t, a.Index, 0)
	assert.Equal(t, b.Index, 1)
	assert.Equal(t, a.ControlPort(17100), 17100)
	assert.Equal(t, b.ControlPort(17100), 17101)
}
