// Package program bundles a primary Child with its optional side-cars
// (pre-command, logger, logger pre-command) and implements the
// graceful-termination protocol shared by every terminating FSM state.
package program

import (
	"syscall"
	"time"

	"go.uber.org/zap"

	"overseerd/internal/child"
	"overseerd/internal/config"
)

// Context owns one primary Child plus up to three side-cars. At most one
// set of children is live at any moment.
type Context struct {
	Spec config.ProgramSpec
	log  *zap.Logger

	Primary           *child.Child
	PreCommand        *child.Child // nil if Spec.PreCommand == nil
	Logger            *child.Child // nil if Spec.Logger == nil
	LoggerPreCommand  *child.Child // nil if Spec.Logger == nil || Spec.Logger.PreCommand == nil

	// NumRestarts counts consecutive Backoff entries since the last reset.
	NumRestarts int
	// ShouldRestart records a Restart request made while tearing down.
	ShouldRestart bool
	// SigtermTime is when SIGTERM was first sent in the current
	// termination sweep; nil before the first send. Lives on Context, not
	// per-state, so a Running -> Backoff transition reuses the same
	// termination bookkeeping as Stopping/Exiting.
	SigtermTime *time.Time
	// sigkillSent marks that SIGKILL has already been sent in the current
	// termination sweep, so OnSigkill fires once per sweep rather than
	// once per tick the child spends resisting SIGKILL.
	sigkillSent bool

	// Generation increments every time the Starting state spawns a fresh
	// primary process and is attached to state-transition log lines, so
	// successive runs of one program can be told apart in logs. Probe
	// results are not checked against it.
	Generation uint64

	// Per side-car/primary start times, read by the Starting state to
	// gate each bring-up step on its timeout or start-wait window.
	PreCommandStart       time.Time
	LoggerPreCommandStart time.Time
	LoggerStart           time.Time
	PrimaryStart          time.Time

	// OnSigkill, if set, is called every time the termination protocol
	// escalates from SIGTERM to SIGKILL. Used by internal/metrics; left
	// nil in tests.
	OnSigkill func()
}

// New builds a Context for spec with all Children constructed but not yet
// spawned.
func New(spec config.ProgramSpec, log *zap.Logger) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Context{Spec: spec, log: log}
	c.Primary = child.New(spec.Name, spec.Command, spec.Args, child.KindPrimary, log)
	if spec.PreCommand != nil {
		c.PreCommand = child.New(spec.Name+":pre", spec.PreCommand.Command, spec.PreCommand.Args, child.KindPreCommand, log)
	}
	if spec.Logger != nil {
		c.Logger = child.New(spec.Name+":logger", spec.Logger.Command, spec.Logger.Args, child.KindLogger, log)
		if spec.Logger.PreCommand != nil {
			c.LoggerPreCommand = child.New(spec.Name+":logger:pre", spec.Logger.PreCommand.Command, spec.Logger.PreCommand.Args, child.KindLoggerPreCommand, log)
		}
	}
	return c
}

// children returns every configured Child, primary first.
func (c *Context) children() []*child.Child {
	out := []*child.Child{c.Primary}
	if c.PreCommand != nil {
		out = append(out, c.PreCommand)
	}
	if c.Logger != nil {
		out = append(out, c.Logger)
	}
	if c.LoggerPreCommand != nil {
		out = append(out, c.LoggerPreCommand)
	}
	return out
}

// AllProgramsAreRunning reports whether the primary and, if configured,
// the logger are both running. Pre-commands are not part of the steady
// state so they are excluded.
func (c *Context) AllProgramsAreRunning() bool {
	if !c.Primary.IsRunning() {
		return false
	}
	if c.Logger != nil && !c.Logger.IsRunning() {
		return false
	}
	return true
}

// AllProgramsAreStopped reports whether every configured child (primary,
// pre-command, logger, logger pre-command) is not running.
func (c *Context) AllProgramsAreStopped() bool {
	for _, ch := range c.children() {
		if ch.IsRunning() {
			return false
		}
	}
	return true
}

// Reset clears all side-car timers and reaps every child whose handle has
// a terminal status. It is a precondition violation (and will panic via
// child.Reset) to call this while any child is still live.
func (c *Context) Reset() {
	for _, ch := range c.children() {
		ch.Reset()
	}
	c.SigtermTime = nil
	c.sigkillSent = false
	c.PreCommandStart = time.Time{}
	c.LoggerPreCommandStart = time.Time{}
	c.LoggerStart = time.Time{}
	c.PrimaryStart = time.Time{}
}

// Close force-kills every configured child immediately, bypassing the
// graceful SIGTERM/SIGKILL sequence. Called once from daemon shutdown
// teardown so no live child outlives the process.
func (c *Context) Close() {
	for _, ch := range c.children() {
		ch.Close()
	}
}

// SendSignalToAllRunningPrograms delivers sig to every currently-running
// child, logging (and ignoring) individual signal failures.
func (c *Context) SendSignalToAllRunningPrograms(sig syscall.Signal) {
	for _, ch := range c.children() {
		if !ch.IsRunning() {
			continue
		}
		if err := ch.SendSignal(sig); err != nil {
			c.log.Warn("signal delivery failed", zap.String("program", c.Spec.Name), zap.Error(err))
		}
	}
}

// SendSigtermOrSigkillSignalToAllRunningPrograms implements the
// graceful-termination protocol: on the first
// call after entering a terminating state, SIGTERM is sent to every live
// child and SigtermTime is recorded; on later calls, once
// now-SigtermTime >= Spec.SigkillDelay, SIGKILL is sent to every child
// still alive. OnSigkill fires once per termination sweep, on the
// SIGTERM-to-SIGKILL escalation edge, not on every tick spent waiting for
// a child to die.
func (c *Context) SendSigtermOrSigkillSignalToAllRunningPrograms(now time.Time) {
	if c.SigtermTime == nil {
		c.SendSignalToAllRunningPrograms(syscall.SIGTERM)
		t := now
		c.SigtermTime = &t
		return
	}
	if now.Sub(*c.SigtermTime) >= c.Spec.SigkillDelay() {
		c.SendSignalToAllRunningPrograms(syscall.SIGKILL)
		if !c.sigkillSent {
			c.sigkillSent = true
			if c.OnSigkill != nil {
				c.OnSigkill()
			}
		}
	}
}
