// ABOUTME: YAML cue scripts: timed sequences of audio commands
// ABOUTME: Parses and validates scripts and converts steps to protocol commands
package cue

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harperreed/stagesound/pkg/protocol"
)

// ErrInvalidScript is wrapped by every parse and validation failure
var ErrInvalidScript = errors.New("cue: invalid script")

// Script is an ordered list of steps
type Script struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is either a pause (Wait) or one command.
// At is measured from the start of the script; a step never runs before it.
type Step struct {
	Name string        `yaml:"name"` // lets later steps target this step's instance as "@name"
	At   time.Duration `yaml:"at"`
	Wait time.Duration `yaml:"wait"`

	Layer     string        `yaml:"layer"`
	Op        string        `yaml:"op"`
	Src       string        `yaml:"src"`
	Volume    *float64      `yaml:"volume"`
	Loop      *bool         `yaml:"loop"`
	LoopCount int           `yaml:"loop_count"`
	Fade      time.Duration `yaml:"fade"`
	Delay     time.Duration `yaml:"delay"`
	Speaker   string        `yaml:"speaker"`
	Interrupt string        `yaml:"interrupt"`
	Seek      time.Duration `yaml:"seek"`
	Target    string        `yaml:"target"`

	// Await blocks the script until the command's result arrives
	Await bool `yaml:"await"`
}

// IsWait reports whether the step only pauses
func (s Step) IsWait() bool {
	return s.Layer == "" && s.Op == ""
}

// Command converts the step; "@name" targets are left for the runner to resolve
func (s Step) Command() protocol.Command {
	return protocol.Command{
		Layer:     s.Layer,
		Op:        s.Op,
		Src:       s.Src,
		Volume:    s.Volume,
		Loop:      s.Loop,
		LoopCount: s.LoopCount,
		FadeMs:    int(s.Fade / time.Millisecond),
		DelayMs:   int(s.Delay / time.Millisecond),
		SpeakerID: s.Speaker,
		Interrupt: s.Interrupt,
		SeekMs:    int(s.Seek / time.Millisecond),
		Target:    s.Target,
	}
}

// Parse decodes and validates a script
func Parse(data []byte) (*Script, error) {
	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

// Load reads and parses the script at path
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cue: load %s: %w", path, err)
	}
	script, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return script, nil
}

// Validate checks every step
func (s *Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}
	names := make(map[string]bool)
	for i, step := range s.Steps {
		if step.At < 0 || step.Wait < 0 {
			return fmt.Errorf("%w: step %d: negative time", ErrInvalidScript, i+1)
		}
		if step.IsWait() {
			if step.Wait == 0 && step.At == 0 {
				return fmt.Errorf("%w: step %d: empty step", ErrInvalidScript, i+1)
			}
			continue
		}
		if step.Wait != 0 {
			return fmt.Errorf("%w: step %d: wait cannot be combined with a command", ErrInvalidScript, i+1)
		}
		if ref, ok := strings.CutPrefix(step.Target, "@"); ok && !names[ref] {
			return fmt.Errorf("%w: step %d: unknown step %q", ErrInvalidScript, i+1, ref)
		}
		if err := step.Command().Validate(); err != nil {
			return fmt.Errorf("%w: step %d: %w", ErrInvalidScript, i+1, err)
		}
		if step.Name != "" {
			if names[step.Name] {
				return fmt.Errorf("%w: step %d: duplicate name %q", ErrInvalidScript, i+1, step.Name)
			}
			names[step.Name] = true
		}
	}
	return nil
}
