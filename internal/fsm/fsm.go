// Package fsm implements the per-program state machine: seven states,
// transitions driven by a periodic tick and by external Start/Stop/Restart
// events. States are represented as a tagged variant with a single switch
// per callback, rather than a heap-allocated object per state.
package fsm

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"overseerd/internal/child"
	"overseerd/internal/program"
)

// State is one of the seven tags a ProgramFSM can be in.
type State int

const (
	StateStopped State = iota
	StateExited
	StateBackoff
	StateStarting
	StateRunning
	StateStopping
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateExited:
		return "exited"
	case StateBackoff:
		return "backoff"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExiting:
		return "exiting"
	default:
		return "unknown"
	}
}

// Event is one of the three external control events a client can send.
type Event int

const (
	EventStart Event = iota
	EventStop
	EventRestart
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Result is the per-program outcome of a React call.
type Result struct {
	OK      bool
	Message string
}

// FSM is a program.Context plus the current state tag.
type FSM struct {
	Name string
	ctx  *program.Context
	log  *zap.Logger

	state   State
	entered bool

	// Starting bring-up progress, reset on every entry to StateStarting.
	loggerPreCommandDone bool
	preCommandDone       bool

	// Backoff timing, reset on every entry to StateBackoff.
	backoffEnterTime time.Time
	skipBackoffDelay bool

	// OnRestart, if set, is called every time the FSM enters Backoff.
	// Used by internal/metrics; left nil in tests.
	OnRestart func()
}

// New constructs an FSM for ctx. The initial state is Starting if
// ctx.Spec.Autostart, else Stopped; the entry hook for that
// initial state does not fire until the first Update or React call.
func New(ctx *program.Context, log *zap.Logger) *FSM {
	if log == nil {
		log = zap.NewNop()
	}
	initial := StateStopped
	if ctx.Spec.Autostart {
		initial = StateStarting
	}
	return &FSM{Name: ctx.Spec.Name, ctx: ctx, log: log, state: initial}
}

// State returns the current state tag.
func (f *FSM) State() State { return f.state }

// Context exposes the underlying program.Context, mainly for tests and
// introspection; the tick loop and dispatcher only need Update/React/State.
func (f *FSM) Context() *program.Context { return f.ctx }

// Update advances time-based transitions. It is called once per program
// per tick by the tick loop.
func (f *FSM) Update(now time.Time) {
	f.ensureEntered(now)
	f.transition(f.tick(now), now)
}

// React applies an external Start/Stop/Restart event and returns the
// per-program result. now is threaded through explicitly (rather than
// read from time.Now()) so tests can drive the FSM deterministically.
func (f *FSM) React(ev Event, now time.Time) Result {
	f.ensureEntered(now)
	result, next := f.reactLocked(ev, now)
	f.transition(next, now)
	return result
}

func (f *FSM) ensureEntered(now time.Time) {
	if f.entered {
		return
	}
	f.entered = true
	f.enter(f.state, now)
}

func (f *FSM) transition(to State, now time.Time) {
	if to == f.state {
		return
	}
	from := f.state
	f.exit(from, now)
	f.log.Info("program state transition",
		zap.String("program", f.Name), zap.String("from", from.String()), zap.String("to", to.String()),
		zap.Uint64("generation", f.ctx.Generation))
	f.state = to
	f.enter(to, now)
}

// enter runs the entry hook for s: NumRestarts resets to 0 on entry to
// Stopped, Exited, Running, Stopping, Exiting.
func (f *FSM) enter(s State, now time.Time) {
	switch s {
	case StateStarting:
		f.loggerPreCommandDone = false
		f.preCommandDone = false
	case StateBackoff:
		f.ctx.NumRestarts++
		f.backoffEnterTime = now
		f.skipBackoffDelay = false
		f.ctx.SigtermTime = nil
		if f.OnRestart != nil {
			f.OnRestart()
		}
	case StateRunning:
		f.ctx.NumRestarts = 0
	case StateStopping, StateExiting:
		f.ctx.SigtermTime = nil
		f.ctx.NumRestarts = 0
	case StateStopped, StateExited:
		f.ctx.NumRestarts = 0
		f.ctx.Reset()
	}
}

// exit runs the exit hook for s: ShouldRestart clears on exit from
// Stopping/Exiting.
func (f *FSM) exit(s State, now time.Time) {
	switch s {
	case StateBackoff:
		// A Stop can leave Backoff while previous-run children are still
		// draining; Stopping then reaps them on its own exit.
		if f.ctx.AllProgramsAreStopped() {
			f.ctx.Reset()
		}
	case StateStopping, StateExiting:
		f.ctx.ShouldRestart = false
		f.ctx.Reset()
	}
}

func (f *FSM) tick(now time.Time) State {
	switch f.state {
	case StateStopped, StateExited:
		return f.state
	case StateBackoff:
		return f.tickBackoff(now)
	case StateStarting:
		return f.tickStarting(now)
	case StateRunning:
		return f.tickRunning()
	case StateStopping:
		return f.tickTerminating(now, StateStopped)
	case StateExiting:
		return f.tickTerminating(now, StateExited)
	default:
		return f.state
	}
}

// backoffOrExiting implements the shared decision point used by every
// failure path: retry via Backoff while attempts remain, otherwise give
// up into Exited/Exiting.
func (f *FSM) backoffOrExiting() State {
	if f.ctx.Spec.Autorestart && uint32(f.ctx.NumRestarts) < f.ctx.Spec.NumRestartAttempts {
		return StateBackoff
	}
	if f.ctx.AllProgramsAreStopped() {
		return StateExited
	}
	return StateExiting
}

func (f *FSM) tickRunning() State {
	if !f.ctx.AllProgramsAreRunning() {
		return f.backoffOrExiting()
	}
	return StateRunning
}

// tickBackoff first drains any children still alive from the previous
// run, then waits out the backoff delay (or skips it if a client
// re-armed via Start/Restart).
func (f *FSM) tickBackoff(now time.Time) State {
	if !f.ctx.AllProgramsAreStopped() {
		f.ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now)
		return StateBackoff
	}
	if f.skipBackoffDelay {
		return StateStarting
	}
	if now.Sub(f.backoffEnterTime) >= f.ctx.Spec.BackoffDelay() {
		return StateStarting
	}
	return StateBackoff
}

// tickTerminating implements the shared Stopping/Exiting tick discipline:
// run the graceful-termination protocol, re-check, and land on done (or
// Starting if should_restart was set) once everything is stopped.
func (f *FSM) tickTerminating(now time.Time, done State) State {
	if f.ctx.AllProgramsAreStopped() {
		if f.ctx.ShouldRestart {
			return StateStarting
		}
		return done
	}
	f.ctx.SendSigtermOrSigkillSignalToAllRunningPrograms(now)
	if f.ctx.AllProgramsAreStopped() {
		if f.ctx.ShouldRestart {
			return StateStarting
		}
		return done
	}
	return f.state
}

// tickStarting implements the ordered bring-up sequence: logger
// pre-command, primary pre-command, spawn (logger then primary, wired
// stdout+stderr into the logger's stdin), then, from the following tick
// on, poll primary before logger against their start-wait windows.
func (f *FSM) tickStarting(now time.Time) State {
	c := f.ctx

	if c.Spec.Logger != nil && c.Spec.Logger.PreCommand != nil && !f.loggerPreCommandDone {
		passed, failed := f.runPreCommand(c.LoggerPreCommand, &c.LoggerPreCommandStart, c.Spec.Logger.PreCommand.Timeout(), now)
		if failed {
			return f.backoffOrExiting()
		}
		if !passed {
			return StateStarting
		}
		f.loggerPreCommandDone = true
	}

	if c.Spec.PreCommand != nil && !f.preCommandDone {
		passed, failed := f.runPreCommand(c.PreCommand, &c.PreCommandStart, c.Spec.PreCommand.Timeout(), now)
		if failed {
			return f.backoffOrExiting()
		}
		if !passed {
			return StateStarting
		}
		f.preCommandDone = true
	}

	if c.Spec.Logger != nil && c.LoggerStart.IsZero() {
		if err := c.Logger.Spawn(true, nil); err != nil {
			f.log.Warn("logger spawn failed", zap.String("program", f.Name), zap.Error(err))
			return f.backoffOrExiting()
		}
		c.LoggerStart = now
	}

	if c.PrimaryStart.IsZero() {
		var target *child.Child
		if c.Spec.Logger != nil {
			target = c.Logger
		}
		if err := c.Primary.Spawn(false, target); err != nil {
			f.log.Warn("primary spawn failed", zap.String("program", f.Name), zap.Error(err))
			return f.backoffOrExiting()
		}
		c.PrimaryStart = now
		c.Generation++
		// Like the pre-commands, a freshly spawned process is first polled
		// on the next tick, so one that exits at once fails its start.
		return StateStarting
	}

	passed, failed := f.pollStartup(c.Primary, c.PrimaryStart, c.Spec.StartWait(), now)
	if failed {
		return f.backoffOrExiting()
	}
	if !passed {
		return StateStarting
	}

	if c.Spec.Logger != nil {
		loggerPassed, loggerFailed := f.pollStartup(c.Logger, c.LoggerStart, c.Spec.Logger.StartWait(), now)
		if loggerFailed {
			return f.backoffOrExiting()
		}
		if !loggerPassed {
			return StateStarting
		}
	}

	return StateRunning
}

// runPreCommand lazily spawns a pre-command on first call (start is the
// IsZero sentinel) and polls it thereafter, returning passed=true only on
// a clean exit, and failed=true on spawn error, non-zero exit, probe
// error, or elapsed timeout.
func (f *FSM) runPreCommand(c *child.Child, start *time.Time, timeout time.Duration, now time.Time) (passed, failed bool) {
	if start.IsZero() {
		if err := c.Spawn(false, nil); err != nil {
			f.log.Warn("pre-command spawn failed", zap.String("program", f.Name), zap.Error(err))
			return false, true
		}
		*start = now
		return false, false
	}

	status, code, err := c.ExitStatusUnchecked()
	if err != nil {
		f.log.Warn("pre-command probe error", zap.String("program", f.Name), zap.Error(err))
		return false, true
	}
	switch status {
	case child.Exited:
		c.Reset()
		if code != 0 {
			f.log.Warn("pre-command exited non-zero", zap.String("program", f.Name), zap.Int("code", code))
			return false, true
		}
		return true, false
	case child.NotExited:
		if now.Sub(*start) > timeout {
			f.log.Warn("pre-command timed out", zap.String("program", f.Name))
			return false, true
		}
		return false, false
	default:
		return false, true
	}
}

// pollStartup reports whether c has survived startWait since start
// without exiting. failed is true on an unexpected exit or probe error.
func (f *FSM) pollStartup(c *child.Child, start time.Time, startWait time.Duration, now time.Time) (passed, failed bool) {
	status, code, err := c.ExitStatusUnchecked()
	if err != nil {
		f.log.Warn("startup probe error", zap.String("program", f.Name), zap.Error(err))
		return false, true
	}
	switch status {
	case child.Exited:
		f.log.Warn("process exited during startup", zap.String("program", f.Name), zap.Int("code", code))
		return false, true
	case child.NotExited:
		return now.Sub(start) >= startWait, false
	default:
		return false, true
	}
}

func (f *FSM) reactLocked(ev Event, now time.Time) (Result, State) {
	switch f.state {
	case StateStopped:
		return f.reactQuiescent(ev, "stopped")
	case StateExited:
		return f.reactQuiescent(ev, "exited")
	case StateBackoff:
		return f.reactBackoff(ev)
	case StateStarting:
		return f.reactStarting(ev)
	case StateRunning:
		return f.reactRunning(ev)
	case StateStopping:
		return f.reactTerminating(ev, StateStopping)
	case StateExiting:
		return f.reactTerminating(ev, StateExiting)
	default:
		return Result{OK: false, Message: fmt.Sprintf("unknown state %v", f.state)}, f.state
	}
}

// reactQuiescent implements Stopped/Exited's React.
func (f *FSM) reactQuiescent(ev Event, label string) (Result, State) {
	switch ev {
	case EventStart:
		return Result{OK: true}, StateStarting
	case EventRestart:
		return Result{OK: true, Message: "restarting from " + label}, StateStarting
	case EventStop:
		return Result{OK: true, Message: "Already " + label}, f.state
	default:
		return Result{OK: false, Message: "unknown event"}, f.state
	}
}

func (f *FSM) reactRunning(ev Event) (Result, State) {
	switch ev {
	case EventStart:
		return Result{OK: true, Message: "Already running"}, StateRunning
	case EventStop:
		f.ctx.ShouldRestart = false
		return Result{OK: true}, StateStopping
	case EventRestart:
		f.ctx.ShouldRestart = true
		return Result{OK: true}, StateStopping
	default:
		return Result{OK: false, Message: "unknown event"}, f.state
	}
}

// reactBackoff implements Backoff's React: Start/Restart reset the
// counter and either re-enter Starting immediately or arm
// skipBackoffDelay; Stop tears down.
func (f *FSM) reactBackoff(ev Event) (Result, State) {
	switch ev {
	case EventStart, EventRestart:
		f.ctx.NumRestarts = 0
		if f.ctx.AllProgramsAreStopped() {
			return Result{OK: true}, StateStarting
		}
		f.skipBackoffDelay = true
		return Result{OK: true}, StateBackoff
	case EventStop:
		return Result{OK: true}, StateStopping
	default:
		return Result{OK: false, Message: "unknown event"}, f.state
	}
}

// reactStarting treats a Start event while Starting as a "reset counter"
// no-op; Stop/Restart tear down through Stopping, matching the rest of
// the FSM's teardown-before-restart shape.
func (f *FSM) reactStarting(ev Event) (Result, State) {
	switch ev {
	case EventStart:
		f.ctx.NumRestarts = 0
		return Result{OK: true}, StateStarting
	case EventStop:
		f.ctx.ShouldRestart = false
		return Result{OK: true}, StateStopping
	case EventRestart:
		f.ctx.ShouldRestart = true
		return Result{OK: true}, StateStopping
	default:
		return Result{OK: false, Message: "unknown event"}, f.state
	}
}

func (f *FSM) reactTerminating(ev Event, current State) (Result, State) {
	switch ev {
	case EventStart:
		return Result{OK: false, Message: "Cannot start while " + current.String()}, current
	case EventStop:
		f.ctx.ShouldRestart = false
		return Result{OK: true}, current
	case EventRestart:
		f.ctx.ShouldRestart = true
		return Result{OK: true}, current
	default:
		return Result{OK: false, Message: "unknown event"}, current
	}
}
