package executil

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealExecutor_Run(t *testing.T) {
	exec := &RealExecutor{}
	ctx := context.Background()

	t.Run("successful command", func(t *testing.T) {
		out, err := exec.Run(ctx, "echo", "hello")
		require.NoError(t, err)
		assert.Equal(t, "hello\n", string(out))
	})

	t.Run("command not found", func(t *testing.T) {
		_, err := exec.Run(ctx, "nonexistent-command-12345")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exec nonexistent-command-12345")
	})

	t.Run("command fails", func(t *testing.T) {
		_, err := exec.Run(ctx, "false")
		require.Error(t, err)
	})
}

func TestRealExecutor_StderrExcludedFromOutput(t *testing.T) {
	ctx := context.Background()

	out, err := (&RealExecutor{}).Run(ctx, "sh", "-c", "echo out; echo warning >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", string(out))
}

func TestRealExecutor_StderrInError(t *testing.T) {
	ctx := context.Background()

	_, err := (&RealExecutor{}).Run(ctx, "sh", "-c", "echo 'fatal: bad thing' >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fatal: bad thing")

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, "original ExitError should be preserved via wrapping")
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestRealExecutor_StderrCappedAtMaxLen(t *testing.T) {
	ctx := context.Background()

	long := strings.Repeat("A", maxStderrLen*2)
	_, err := (&RealExecutor{}).Run(ctx, "sh", "-c", "printf '%s' '"+long+"' >&2; exit 1")
	require.Error(t, err)

	assert.Contains(t, err.Error(), strings.Repeat("A", maxStderrLen))
	assert.NotContains(t, err.Error(), strings.Repeat("A", maxStderrLen+1))
}

func TestRealExecutor_RunDir(t *testing.T) {
	exec := &RealExecutor{}
	ctx := context.Background()

	t.Run("runs in specified directory", func(t *testing.T) {
		dir := t.TempDir()
		out, err := exec.RunDir(ctx, dir, "pwd")
		require.NoError(t, err)
		assert.Contains(t, string(out), strings.TrimPrefix(dir, "/private"))
	})

	t.Run("invalid directory", func(t *testing.T) {
		_, err := exec.RunDir(ctx, "/nonexistent-dir-12345", "pwd")
		require.Error(t, err)
	})
}

func TestRecordingExecutor(t *testing.T) {
	ctx := context.Background()

	t.Run("records commands", func(t *testing.T) {
		exec := &RecordingExecutor{}

		_, _ = exec.Run(ctx, "git", "diff", "main")
		_, _ = exec.RunDir(ctx, "/tmp/repo", "git", "rev-parse", "HEAD")

		require.Len(t, exec.Commands, 2)
		assert.Equal(t, "git", exec.Commands[0].Cmd)
		assert.Equal(t, []string{"diff", "main"}, exec.Commands[0].Args)
		assert.Empty(t, exec.Commands[0].Dir)
		assert.Equal(t, "/tmp/repo", exec.Commands[1].Dir)
		assert.Equal(t, "git rev-parse", exec.Commands[1].Key())
	})

	t.Run("subcommand output wins over command output", func(t *testing.T) {
		exec := &RecordingExecutor{}
		exec.Set("git", "generic")
		exec.Set("git rev-parse", "abc123\n")

		out, err := exec.Run(ctx, "git", "rev-parse", "HEAD")
		require.NoError(t, err)
		assert.Equal(t, "abc123\n", string(out))

		out, err = exec.Run(ctx, "git", "status")
		require.NoError(t, err)
		assert.Equal(t, "generic", string(out))
	})

	t.Run("returns configured error", func(t *testing.T) {
		expectedErr := errors.New("command failed")
		exec := &RecordingExecutor{}
		exec.Fail("git diff", expectedErr)

		_, err := exec.Run(ctx, "git", "diff")
		assert.Equal(t, expectedErr, err)

		exec.Fail("git diff", nil)
		_, err = exec.Run(ctx, "git", "diff")
		assert.NoError(t, err)
	})

	t.Run("count and reset", func(t *testing.T) {
		exec := &RecordingExecutor{}

		_, _ = exec.Run(ctx, "git", "diff")
		_, _ = exec.Run(ctx, "git", "diff")
		_, _ = exec.Run(ctx, "git", "rev-parse")
		assert.Equal(t, 2, exec.Count("git diff"))
		assert.Equal(t, 3, exec.Count("git"))

		exec.Reset()
		assert.Empty(t, exec.Commands)
	})
}
