// Package config defines the ProgramSpec data model handed to the
// supervision core and the loader that produces it from a YAML document.
package config

import "time"

// PreCommand is a short-lived helper that must exit 0 before the process
// it guards is spawned.
type PreCommand struct {
	Command    string
	Args       []string
	TimeoutSec uint32
}

// Timeout returns the configured pre-command timeout.
func (p PreCommand) Timeout() time.Duration {
	return time.Duration(p.TimeoutSec) * time.Second
}

// Logger describes the optional side-car logger process.
type Logger struct {
	Command      string
	Args         []string
	StartWaitSec uint32
	PreCommand   *PreCommand
}

// StartWait returns the configured start-wait duration.
func (l Logger) StartWait() time.Duration {
	return time.Duration(l.StartWaitSec) * time.Second
}

// ProgramSpec is the immutable, validated configuration for one supervised
// program, with all defaults already resolved. It is
// produced exclusively by Load and never mutated by the core.
type ProgramSpec struct {
	Name    string
	Command string
	Args    []string

	PreCommand *PreCommand
	Logger     *Logger

	Autostart          bool
	Autorestart        bool
	BackoffDelaySec    uint32
	NumRestartAttempts uint32
	SigkillDelaySec    uint32
	StartWaitSec       uint32
}

// BackoffDelay returns the configured backoff delay between a failed start
// and the next restart attempt.
func (p ProgramSpec) BackoffDelay() time.Duration {
	return time.Duration(p.BackoffDelaySec) * time.Second
}

// SigkillDelay returns the configured grace period between SIGTERM and
// SIGKILL in the termination protocol.
func (p ProgramSpec) SigkillDelay() time.Duration {
	return time.Duration(p.SigkillDelaySec) * time.Second
}

// StartWait returns the duration a freshly spawned process must stay alive
// before it is considered successfully started.
func (p ProgramSpec) StartWait() time.Duration {
	return time.Duration(p.StartWaitSec) * time.Second
}
