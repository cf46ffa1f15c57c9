package ptyproc

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectOutput(t *testing.T, h *Handle, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var sb strings.Builder
	for time.Now().Before(deadline) {
		chunk, ok := h.TryRead()
		if ok {
			sb.Write(chunk)
			continue
		}
		time.Sleep(5 * time.Millisecond)
	}
	return sb.String()
}

func TestSpawnEchoAndExit(t *testing.T) {
	h, err := Spawn("/bin/sh", []string{"-c", "echo hello-argus; exit 0"}, t.TempDir(), []string{"TERM=xterm"}, 24, 80)
	require.NoError(t, err)

	out := collectOutput(t, h, 2*time.Second)
	assert.Contains(t, out, "hello-argus")

	err = h.Wait()
	assert.NoError(t, err)
	assert.False(t, h.IsAlive())
}

func TestWriteToStdin(t *testing.T) {
	h, err := Spawn("/bin/cat", nil, t.TempDir(), []string{"TERM=xterm"}, 24, 80)
	require.NoError(t, err)

	require.NoError(t, h.Write([]byte("ping\n")))
	out := collectOutput(t, h, time.Second)
	assert.Contains(t, out, "ping")

	require.NoError(t, h.Kill())
}

func TestKillEscalatesAfterGrace(t *testing.T) {
	h, err := Spawn("/bin/sh", []string{"-c", "trap '' TERM; sleep 5"}, t.TempDir(), nil, 24, 80)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, h.Kill())
	elapsed := time.Since(start)

	assert.False(t, h.IsAlive())
	assert.GreaterOrEqual(t, elapsed, killGrace)
	assert.Less(t, elapsed, 3*time.Second)
}

func TestResizeAfterExitReturnsErrExited(t *testing.T) {
	h, err := Spawn("/bin/sh", []string{"-c", "exit 0"}, t.TempDir(), nil, 24, 80)
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	err = h.Resize(30, 100)
	assert.ErrorIs(t, err, ErrExited)
}
