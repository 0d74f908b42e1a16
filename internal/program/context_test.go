package program

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"overseerd/internal/config"
)

func newSpec(name string) config.ProgramSpec {
	return config.ProgramSpec{
		Name:            name,
		Command:         "/bin/sleep",
		Args:            []string{"5"},
		Autostart:       true,
		Autorestart:     true,
		SigkillDelaySec: 1,
		StartWaitSec:    0,
	}
}

func waitUntil(t *testing.T, timeout time.Duration, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never became true")
}

func TestAllProgramsAreRunningAndStopped(t *testing.T) {
	ctx := New(newSpec("svc"), nil)
	require.False(t, ctx.AllProgramsAreRunning())
	require.True(t, ctx.AllProgramsAreStopped())

	require.NoError(t, ctx.Primary.Spawn(false, nil))
	require.True(t, ctx.AllProgramsAreRunning())
	require.False(t, ctx.AllProgramsAreStopped())

	ctx.SendSignalToAllRunningPrograms(syscall.SIGKILL)
	waitUntil(t, time.Second, ctx.AllProgramsAreStopped)
	ctx.Reset()
}

func TestGracefulTerminationEscalatesToSigkill(t *testing.T) {
	spec := newSpec("svc")
	spec.SigkillDelaySec = 0 // boundary: SIGKILL on the very next call
	ctx := New(spec, nil)
	require.NoError(t, ctx.Primary.Spawn(false, nil))

	now := time.Now()
	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now)
	require.NotNil(t, ctx.SigtermTime)

	// Second call, sigkill_delay_secs=0, escalates immediately.
	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now)
	waitUntil(t, time.Second, ctx.AllProgramsAreStopped)
	ctx.Reset()
}

func TestOnSigkillFiresOnceAcrossRepeatedEscalationTicks(t *testing.T) {
	spec := newSpec("svc")
	spec.SigkillDelaySec = 0
	spec.Command = "/bin/sleep" // the latch counts escalation steps, whether or not the child already died from SIGTERM
	ctx := New(spec, nil)

	var fired int
	ctx.OnSigkill = func() { fired++ }

	require.NoError(t, ctx.Primary.Spawn(false, nil))
	now := time.Now()

	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now) // sends SIGTERM, records SigtermTime
	require.Equal(t, 0, fired)

	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now) // first escalation to SIGKILL
	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now) // still in the same sweep
	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now)
	require.Equal(t, 1, fired)

	waitUntil(t, time.Second, ctx.AllProgramsAreStopped)
	ctx.Reset()

	// A fresh termination sweep after Reset fires again.
	require.NoError(t, ctx.Primary.Spawn(false, nil))
	now = time.Now()
	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now)
	ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now)
	require.Equal(t, 2, fired)
	waitUntil(t, time.Second, ctx.AllProgramsAreStopped)
	ctx.Reset()
}

func TestClose(t *testing.T) {
	ctx := New(newSpec("svc"), nil)
	require.NoError(t, ctx.Primary.Spawn(false, nil))
	require.True(t, ctx.AllProgramsAreRunning())

	ctx.Close()
	waitUntil(t, time.Second, ctx.AllProgramsAreStopped)
	ctx.Reset()
}
