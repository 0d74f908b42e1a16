// Package child owns a single spawned OS process: launch, signal, reap,
// and wait-status probing. A Child is the leaf building block the rest of
// the supervision core is built on.
package child

import (
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Kind labels which role a Child plays inside a program.Context, purely
// for log readability ("stopping logger pre-command for web" reads better
// than an anonymous handle).
type Kind int

const (
	KindPrimary Kind = iota
	KindPreCommand
	KindLogger
	KindLoggerPreCommand
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "primary"
	case KindPreCommand:
		return "pre_command"
	case KindLogger:
		return "logger"
	case KindLoggerPreCommand:
		return "logger_pre_command"
	default:
		return "unknown"
	}
}

// Status is the outcome of a non-blocking probe of a Child's OS handle.
type Status int

const (
	// NotExited means the handle exists and has no terminal status yet.
	NotExited Status = iota
	// Exited means the handle's process has a recorded exit code.
	Exited
	// ProbeError means the probe itself failed; callers treat this the
	// same as "not running".
	ProbeError
)

// SpawnError wraps an OS error encountered launching a command.
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string { return fmt.Sprintf("spawn %s: %v", e.Name, e.Err) }
func (e *SpawnError) Unwrap() error { return e.Err }

// SignalError wraps a failure delivering a signal to a live handle.
type SignalError struct {
	Name string
	Sig  syscall.Signal
	Err  error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("signal %s to %s: %v", e.Sig, e.Name, e.Err)
}
func (e *SignalError) Unwrap() error { return e.Err }

// Child owns at most one live OS process handle. The zero value is a
// Child with no live handle; use New to get a logger-equipped instance.
type Child struct {
	Name    string
	Command string
	Args    []string
	Kind    Kind

	log *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdinPipe *io.PipeWriter // retained write end when Spawn(pipeStdin=true)
	exited    bool
	exitCode  int
}

// New constructs a Child ready to be spawned. log may be nil, in which
// case a no-op logger is used.
func New(name, command string, args []string, kind Kind, log *zap.Logger) *Child {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Child{Name: name, Command: command, Args: args, Kind: kind, log: log}
	runtime.SetFinalizer(c, finalizeChild)
	return c
}

// finalizeChild is the last-resort safety net against leaking a process
// if a Child is garbage collected without an explicit Reset/Close: a
// still-live handle is force-killed and errors are swallowed.
func finalizeChild(c *Child) {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

// stdinWriter exposes the retained stdin pipe so another Child's Spawn
// can wire its stdout/stderr into it (the primary-into-logger pipeline).
func (c *Child) stdinWriter() io.Writer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdinPipe == nil {
		return nil
	}
	return c.stdinPipe
}

// Spawn launches the configured command. If pipeStdin is true, the
// child's stdin is a pipe this Child retains so callers can later spawn
// another process whose output feeds this one's stdin. If
// parentStdinTarget is non-nil, this Child's stdout and stderr are both
// wired to that target's retained stdin pipe, implementing the
// primary-into-logger pipeline.
//
// Any prior dead handle is reaped and cleared before spawning.
func (c *Child) Spawn(pipeStdin bool, parentStdinTarget *Child) error {
	c.mu.Lock()
	if c.cmd != nil && c.exited {
		c.clearLocked()
	}
	c.mu.Unlock()

	cmd := exec.Command(c.Command, c.Args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}

	if parentStdinTarget != nil {
		w := parentStdinTarget.stdinWriter()
		if w == nil {
			return &SpawnError{Name: c.Name, Err: fmt.Errorf("parent stdin target %s has no retained stdin pipe", parentStdinTarget.Name)}
		}
		cmd.Stdout = w
		cmd.Stderr = w
	}

	var pw *io.PipeWriter
	if pipeStdin {
		pr, w := io.Pipe()
		cmd.Stdin = pr
		pw = w
	}

	if err := cmd.Start(); err != nil {
		return &SpawnError{Name: c.Name, Err: err}
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdinPipe = pw
	c.exited = false
	c.exitCode = 0
	c.mu.Unlock()

	c.log.Info("spawned child",
		zap.String("name", c.Name), zap.String("kind", c.Kind.String()),
		zap.Int("pid", cmd.Process.Pid))
	return nil
}

// SendSignal delivers sig to the live handle's process group.
func (c *Child) SendSignal(sig syscall.Signal) error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return &SignalError{Name: c.Name, Sig: sig, Err: fmt.Errorf("no live handle")}
	}
	// Negative pid signals the whole process group, reaching grandchildren
	// spawned by a shell wrapper too.
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return &SignalError{Name: c.Name, Sig: sig, Err: err}
	}
	return nil
}

// IsRunning is a non-blocking probe. It returns true only if the handle
// exists and has no terminal status yet; any probe error is treated as
// "not running".
func (c *Child) IsRunning() bool {
	status, _, _ := c.ExitStatusUnchecked()
	return status == NotExited
}

// ExitStatusUnchecked returns the current probe result without consuming
// the handle.
func (c *Child) ExitStatusUnchecked() (status Status, exitCode int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return ProbeError, 0, fmt.Errorf("%s: no live handle", c.Name)
	}
	if c.exited {
		return Exited, c.exitCode, nil
	}

	var ws syscall.WaitStatus
	pid, werr := syscall.Wait4(c.cmd.Process.Pid, &ws, syscall.WNOHANG, nil)
	if werr != nil {
		return ProbeError, 0, fmt.Errorf("%s: wait4: %w", c.Name, werr)
	}
	if pid == 0 {
		return NotExited, 0, nil
	}

	c.exited = true
	switch {
	case ws.Exited():
		c.exitCode = ws.ExitStatus()
	case ws.Signaled():
		c.exitCode = 128 + int(ws.Signal())
	}
	return Exited, c.exitCode, nil
}

// Reset reaps a terminated handle and clears it. It panics if the handle
// is still running: calling Reset on a live child is an invariant
// violation by the caller.
func (c *Child) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return
	}
	if !c.exited {
		panic(fmt.Sprintf("child: Reset called on live handle %s", c.Name))
	}
	c.clearLocked()
}

// clearLocked drops the handle; callers must hold c.mu.
func (c *Child) clearLocked() {
	if c.stdinPipe != nil {
		_ = c.stdinPipe.Close()
		c.stdinPipe = nil
	}
	c.cmd = nil
	c.exited = false
	c.exitCode = 0
}

// Close force-kills a still-live handle immediately, bypassing the
// SIGTERM/SIGKILL sequence. Called from program.Context.Close on daemon
// shutdown, in addition to the finalizer safety net.
func (c *Child) Close() {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
