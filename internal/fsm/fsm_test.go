package fsm

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"overseerd/internal/config"
	"overseerd/internal/program"
)

func tick(f *FSM, base time.Time, n int, step time.Duration) time.Time {
	now := base
	for i := 0; i < n; i++ {
		now = now.Add(step)
		f.Update(now)
	}
	return now
}

// Scenario 1: two failed restart attempts then give up.
func TestScenario_ExhaustsRestartsThenExits(t *testing.T) {
	spec := config.ProgramSpec{
		Name: "flaky", Command: "/bin/true",
		Autostart: true, Autorestart: true,
		NumRestartAttempts: 2, BackoffDelaySec: 0, StartWaitSec: 0,
		SigkillDelaySec: 1,
	}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)
	restarts := 0
	f.OnRestart = func() { restarts++ }

	base := time.Now()
	require.Equal(t, StateStarting, f.State())

	seen := map[State]bool{}
	now := base
	for i := 0; i < 200 && f.State() != StateExited; i++ {
		now = now.Add(50 * time.Millisecond)
		f.Update(now)
		seen[f.State()] = true
		time.Sleep(5 * time.Millisecond) // let /bin/true exit before the next poll
	}

	require.Equal(t, StateExited, f.State())
	require.True(t, seen[StateStarting])
	require.True(t, seen[StateBackoff])
	// Entering Exited clears NumRestarts, so count Backoff entries instead.
	require.Equal(t, 2, restarts)
}

// Scenario 2: Running -> Stopping -> Stopped on client Stop.
func TestScenario_StopFromRunning(t *testing.T) {
	spec := config.ProgramSpec{
		Name: "server", Command: "/bin/sleep", Args: []string{"3600"},
		Autostart: true, Autorestart: true,
		NumRestartAttempts: 4, BackoffDelaySec: 1, StartWaitSec: 0,
		SigkillDelaySec: 1,
	}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)

	now := time.Now()
	now = tick(f, now, 1, time.Millisecond) // enters Starting, spawns primary
	require.Eventually(t, func() bool {
		now = now.Add(10 * time.Millisecond)
		f.Update(now)
		return f.State() == StateRunning
	}, time.Second, time.Millisecond)

	result := f.React(EventStop, now)
	require.True(t, result.OK)
	require.Equal(t, StateStopping, f.State())

	require.Eventually(t, func() bool {
		now = now.Add(50 * time.Millisecond)
		f.Update(now)
		return f.State() == StateStopped
	}, 3*time.Second, time.Millisecond)

}

// Scenario 4: a failing pre-command means the primary is
// never spawned, and repeated failures exhaust into Exited.
func TestScenario_PreCommandFailureNeverSpawnsPrimary(t *testing.T) {
	spec := config.ProgramSpec{
		Name:    "guarded",
		Command: "/bin/sleep", Args: []string{"3600"},
		PreCommand:         &config.PreCommand{Command: "/bin/false", TimeoutSec: 1},
		Autostart:          true,
		Autorestart:        true,
		NumRestartAttempts: 1,
		BackoffDelaySec:    0,
		StartWaitSec:       0,
		SigkillDelaySec:    1,
	}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)

	now := time.Now()
	for i := 0; i < 400 && f.State() != StateExited; i++ {
		now = now.Add(20 * time.Millisecond)
		f.Update(now)
	}
	require.Equal(t, StateExited, f.State())
	require.False(t, ctx.Primary.IsRunning())
	require.True(t, ctx.PrimaryStart.IsZero())
}

func TestBoundary_BackoffDelayZeroAdvancesNextTick(t *testing.T) {
	spec := config.ProgramSpec{
		Name: "svc", Command: "/bin/true",
		Autostart: true, Autorestart: true,
		NumRestartAttempts: 4, BackoffDelaySec: 0, StartWaitSec: 0, SigkillDelaySec: 1,
	}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)

	now := time.Now()
	require.Eventually(t, func() bool {
		now = now.Add(10 * time.Millisecond)
		f.Update(now)
		return f.State() == StateBackoff
	}, time.Second, time.Millisecond)

	// Children from the failed run must fully drain before Backoff honors
	// the (zero) delay and proceeds.
	require.Eventually(t, func() bool {
		now = now.Add(10 * time.Millisecond)
		f.Update(now)
		return f.State() == StateStarting
	}, time.Second, time.Millisecond)
}

func TestBoundary_NumRestartAttemptsZeroExitsImmediately(t *testing.T) {
	spec := config.ProgramSpec{
		Name: "svc", Command: "/bin/true",
		Autostart: true, Autorestart: true,
		NumRestartAttempts: 0, BackoffDelaySec: 1, StartWaitSec: 0, SigkillDelaySec: 1,
	}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)

	now := time.Now()
	require.Eventually(t, func() bool {
		now = now.Add(10 * time.Millisecond)
		f.Update(now)
		return f.State() == StateExited
	}, time.Second, time.Millisecond)
	require.Equal(t, 0, ctx.NumRestarts)
}

func TestBoundary_AutostartFalseStartsStopped(t *testing.T) {
	spec := config.ProgramSpec{Name: "svc", Command: "/bin/true", Autostart: false}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)
	require.Equal(t, StateStopped, f.State())
	f.Update(time.Now())
	require.Equal(t, StateStopped, f.State())
	require.False(t, ctx.Primary.IsRunning())
}

func TestIdempotence_StartWhileRunningIsNoop(t *testing.T) {
	spec := config.ProgramSpec{
		Name: "svc", Command: "/bin/sleep", Args: []string{"3600"},
		Autostart: true, Autorestart: true, NumRestartAttempts: 4,
		BackoffDelaySec: 1, StartWaitSec: 0, SigkillDelaySec: 1,
	}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)

	now := time.Now()
	require.Eventually(t, func() bool {
		now = now.Add(10 * time.Millisecond)
		f.Update(now)
		return f.State() == StateRunning
	}, time.Second, time.Millisecond)

	result := f.React(EventStart, now)
	require.True(t, result.OK)
	require.Equal(t, "Already running", result.Message)
	require.Equal(t, StateRunning, f.State())

	require.NoError(t, ctx.Primary.SendSignal(syscall.SIGKILL))
	require.Eventually(t, func() bool {
		now = now.Add(50 * time.Millisecond)
		f.Update(now)
		return f.State() == StateStopped || f.State() == StateExited || f.State() == StateBackoff
	}, time.Second, time.Millisecond)
}

func TestIdempotence_StopWhileStoppedIsNoop(t *testing.T) {
	spec := config.ProgramSpec{Name: "svc", Command: "/bin/true", Autostart: false}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)
	result := f.React(EventStop, time.Now())
	require.True(t, result.OK)
	require.Equal(t, "Already stopped", result.Message)
	require.Equal(t, StateStopped, f.State())
}

func TestCannotStartWhileStopping(t *testing.T) {
	spec := config.ProgramSpec{
		Name: "svc", Command: "/bin/sleep", Args: []string{"3600"},
		Autostart: true, Autorestart: true, NumRestartAttempts: 4,
		BackoffDelaySec: 1, StartWaitSec: 0, SigkillDelaySec: 30,
	}
	ctx := program.New(spec, nil)
	f := New(ctx, nil)

	now := time.Now()
	require.Eventually(t, func() bool {
		now = now.Add(10 * time.Millisecond)
		f.Update(now)
		return f.State() == StateRunning
	}, time.Second, time.Millisecond)

	f.React(EventStop, now)
	require.Equal(t, StateStopping, f.State())

	result := f.React(EventStart, now)
	require.False(t, result.OK)
	require.Equal(t, "Cannot start while stopping", result.Message)
	require.Equal(t, StateStopping, f.State())

	require.NoError(t, ctx.Primary.SendSignal(syscall.SIGKILL))
}
