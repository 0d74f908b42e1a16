package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is absent from the document.
const (
	defaultBackoffDelaySec    = 1
	defaultNumRestartAttempts = 4
	defaultSigkillDelaySec    = 10
	defaultStartWaitSec       = 1
	defaultPreCommandTimeout  = 1
)

// document mirrors the on-disk YAML shape. Optional numeric fields are
// pointers so the loader can tell "absent, apply default" apart from
// "explicitly zero": backoff_delay_secs=0, sigkill_delay_secs=0, and
// num_restart_attempts=0 are all valid, meaningful boundary
// configurations, not "unset".
type document struct {
	Programs []rawProgramSpec `yaml:"programs"`
}

type rawPreCommand struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	TimeoutSec *uint32  `yaml:"timeout_secs"`
}

type rawLogger struct {
	Command      string         `yaml:"command"`
	Args         []string       `yaml:"args"`
	StartWaitSec *uint32        `yaml:"start_wait_secs"`
	PreCommand   *rawPreCommand `yaml:"pre_command"`
}

type rawProgramSpec struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`

	PreCommand *rawPreCommand `yaml:"pre_command"`
	Logger     *rawLogger     `yaml:"logger"`

	Autostart          *bool   `yaml:"autostart"`
	Autorestart        *bool   `yaml:"autorestart"`
	BackoffDelaySec    *uint32 `yaml:"backoff_delay_secs"`
	NumRestartAttempts *uint32 `yaml:"num_restart_attempts"`
	SigkillDelaySec    *uint32 `yaml:"sigkill_delay_secs"`
	StartWaitSec       *uint32 `yaml:"start_wait_secs"`
}

// Load reads a YAML program-spec document from path, applies defaults to
// absent fields, and returns the resolved, validated list of
// ProgramSpecs in file order. Unknown top-level or nested fields are
// rejected.
func Load(path string) ([]ProgramSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data)
}

func parse(data []byte) ([]ProgramSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	specs := make([]ProgramSpec, 0, len(doc.Programs))
	seen := make(map[string]bool, len(doc.Programs))
	for i, raw := range doc.Programs {
		spec, err := resolve(raw)
		if err != nil {
			return nil, fmt.Errorf("config: programs[%d]: %w", i, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("config: programs[%d]: duplicate program name %q", i, spec.Name)
		}
		seen[spec.Name] = true
		specs = append(specs, spec)
	}
	return specs, nil
}

func resolve(raw rawProgramSpec) (ProgramSpec, error) {
	if raw.Name == "" {
		return ProgramSpec{}, fmt.Errorf("program name is required")
	}
	if raw.Command == "" {
		return ProgramSpec{}, fmt.Errorf("program %q: command is required", raw.Name)
	}

	spec := ProgramSpec{
		Name:               raw.Name,
		Command:            raw.Command,
		Args:               raw.Args,
		Autostart:          boolOr(raw.Autostart, true),
		Autorestart:        boolOr(raw.Autorestart, true),
		BackoffDelaySec:    u32Or(raw.BackoffDelaySec, defaultBackoffDelaySec),
		NumRestartAttempts: u32Or(raw.NumRestartAttempts, defaultNumRestartAttempts),
		SigkillDelaySec:    u32Or(raw.SigkillDelaySec, defaultSigkillDelaySec),
		StartWaitSec:       u32Or(raw.StartWaitSec, defaultStartWaitSec),
	}

	if raw.PreCommand != nil {
		if raw.PreCommand.Command == "" {
			return ProgramSpec{}, fmt.Errorf("program %q: pre_command.command is required", raw.Name)
		}
		spec.PreCommand = &PreCommand{
			Command:    raw.PreCommand.Command,
			Args:       raw.PreCommand.Args,
			TimeoutSec: u32Or(raw.PreCommand.TimeoutSec, defaultPreCommandTimeout),
		}
	}

	if raw.Logger != nil {
		if raw.Logger.Command == "" {
			return ProgramSpec{}, fmt.Errorf("program %q: logger.command is required", raw.Name)
		}
		logger := &Logger{
			Command:      raw.Logger.Command,
			Args:         raw.Logger.Args,
			StartWaitSec: u32Or(raw.Logger.StartWaitSec, defaultStartWaitSec),
		}
		if raw.Logger.PreCommand != nil {
			if raw.Logger.PreCommand.Command == "" {
				return ProgramSpec{}, fmt.Errorf("program %q: logger.pre_command.command is required", raw.Name)
			}
			logger.PreCommand = &PreCommand{
				Command:    raw.Logger.PreCommand.Command,
				Args:       raw.Logger.PreCommand.Args,
				TimeoutSec: u32Or(raw.Logger.PreCommand.TimeoutSec, defaultPreCommandTimeout),
			}
		}
		spec.Logger = logger
	}

	return spec, nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func u32Or(v *uint32, def uint32) uint32 {
	if v == nil {
		return def
	}
	return *v
}
