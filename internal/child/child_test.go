package child

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, c *Child, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		status, _, err := c.ExitStatusUnchecked()
		require.NoError(t, err)
		if status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("status never reached %v", want)
}

func TestSpawnAndExit(t *testing.T) {
	c := New("true", "/bin/true", nil, KindPrimary, nil)
	require.NoError(t, c.Spawn(false, nil))
	waitForStatus(t, c, Exited, time.Second)

	status, code, err := c.ExitStatusUnchecked()
	require.NoError(t, err)
	require.Equal(t, Exited, status)
	require.Equal(t, 0, code)

	c.Reset()
	require.False(t, c.IsRunning())
}

func TestIsRunningWhileAlive(t *testing.T) {
	c := New("sleep", "/bin/sleep", []string{"5"}, KindPrimary, nil)
	require.NoError(t, c.Spawn(false, nil))
	require.True(t, c.IsRunning())

	require.NoError(t, c.SendSignal(syscall.SIGKILL))
	waitForStatus(t, c, Exited, time.Second)
	c.Reset()
}

func TestResetPanicsOnLiveHandle(t *testing.T) {
	c := New("sleep", "/bin/sleep", []string{"5"}, KindPrimary, nil)
	require.NoError(t, c.Spawn(false, nil))
	require.Panics(t, func() { c.Reset() })

	require.NoError(t, c.SendSignal(syscall.SIGKILL))
	waitForStatus(t, c, Exited, time.Second)
	c.Reset()
}

func TestExitStatusUnchecked_NoHandle(t *testing.T) {
	c := New("never-spawned", "/bin/true", nil, KindPrimary, nil)
	status, _, err := c.ExitStatusUnchecked()
	require.Error(t, err)
	require.Equal(t, ProbeError, status)
}

func TestSpawnError(t *testing.T) {
	c := New("missing", "/no/such/binary-xyz", nil, KindPrimary, nil)
	err := c.Spawn(false, nil)
	require.Error(t, err)
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
}

func TestLoggerPipeline(t *testing.T) {
	logger := New("cat", "/bin/cat", nil, KindLogger, nil)
	require.NoError(t, logger.Spawn(true, nil))

	primary := New("echo", "/bin/echo", []string{"hello"}, KindPrimary, nil)
	require.NoError(t, primary.Spawn(false, logger))

	waitForStatus(t, primary, Exited, time.Second)
	primary.Reset()

	require.NoError(t, logger.SendSignal(syscall.SIGKILL))
	waitForStatus(t, logger, Exited, time.Second)
	logger.Reset()
}
