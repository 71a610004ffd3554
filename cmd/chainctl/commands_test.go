package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTargets(t *testing.T) {
	t.Run("keeps file order", func(t *testing.T) {
		state, err := parseTargets([]byte("j3: 0.5\nj1: 1\nj2: -2.25\n"))
		require.NoError(t, err)
		assert.Equal(t, []string{"j3", "j1", "j2"}, state.Names())
		sample, ok := state.Lookup("j2")
		require.True(t, ok)
		assert.Equal(t, -2.25, sample.Position)
	})

	t.Run("rejects non-numeric positions", func(t *testing.T) {
		_, err := parseTargets([]byte("j1: up\n"))
		assert.ErrorContains(t, err, "position of joint j1")
	})

	t.Run("rejects lists", func(t *testing.T) {
		_, err := parseTargets([]byte("- 1\n- 2\n"))
		assert.ErrorContains(t, err, "mapping")
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		_, err := parseTargets([]byte("j1: 1\nj1: 2\n"))
		assert.Error(t, err)
	})
}

func TestChainsCommand(t *testing.T) {
	path := writeFile(t, "chains.yaml", `
mqtt:
  broker: tcp://localhost:1883
chains:
  - name: arm
    topic: arm_controller
    joints: [j1, j2]
  - name: head
    topic: head_controller
    planning_group: head_group
    joints: [j3]
`)

	out, err := executeCLI(t, "--config", path, "chains")
	require.NoError(t, err)
	assert.Contains(t, out, "arm (topic arm_controller, direct): j1, j2")
	assert.Contains(t, out, "head (topic head_controller, planned via head_group): j3")
}

func TestCommandsRejectBadConfig(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		out, err := executeCLI(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "chains")
		require.Error(t, err)
		assert.Contains(t, out, "Invalid configuration")
	})

	t.Run("arm chains need the module", func(t *testing.T) {
		path := writeFile(t, "chains.yaml", "chains:\n  - name: arm\n    arm: so101\n    joints: [j1]\n")
		_, err := executeCLI(t, "--config", path, "settle")
		assert.ErrorContains(t, err, "only available inside the viam module")
	})

	t.Run("move needs a target file", func(t *testing.T) {
		_, err := executeCLI(t, "move")
		assert.Error(t, err)
	})
}
