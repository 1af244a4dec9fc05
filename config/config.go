package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

const DefaultFile = "looper.yaml"

// PPQN is the number of MIDI clock messages per quarter note.
const PPQN = 24

// Session holds what the looper needs; it does not change while a session runs.
type Session struct {
	MeasuresPerSequence int `yaml:"measures_per_sequence"`
	TimeSignature       struct {
		Numerator   int `yaml:"numerator"`
		Denominator int `yaml:"denominator"`
	} `yaml:"time_signature"`
	SourceChannel int `yaml:"source_channel"`
}

// TicksPerSequence is the number of clock ticks between two sequence cuts.
func (s Session) TicksPerSequence() int {
	return s.TimeSignature.Numerator * 4 * PPQN * s.MeasuresPerSequence / s.TimeSignature.Denominator
}

type Port struct {
	Name  string `yaml:"name"`
	Index int    `yaml:"index"`
	// Serial is a device path (/dev/ttyUSB0); when set it replaces the MIDI driver port.
	Serial string `yaml:"serial"`
	Baud   int    `yaml:"baud"`
}

type OSC struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Config struct {
	Session  Session `yaml:"session"`
	Input    Port    `yaml:"input"`
	Output   Port    `yaml:"output"`
	OSC      OSC     `yaml:"osc"`
	LogLevel string  `yaml:"log_level"`
	Dump     string  `yaml:"dump"`
}

func Default() Config {
	c := Config{
		Input:    Port{Index: 1, Baud: 31250},
		Output:   Port{Index: 1, Baud: 31250},
		LogLevel: "info",
	}
	c.Session.MeasuresPerSequence = 4
	c.Session.TimeSignature.Numerator = 4
	c.Session.TimeSignature.Denominator = 4
	return c
}

// Load reads filename over the defaults. A missing file is not an error.
func Load(filename string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, err
	}
	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%s: %w", filename, err)
	}
	return c, c.Validate()
}

func (c Config) Validate() (errs error) {
	s := c.Session
	if s.MeasuresPerSequence <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%w: measures_per_sequence must be positive, got %d", ErrInvalidConfig, s.MeasuresPerSequence))
	}
	if s.TimeSignature.Numerator <= 0 || s.TimeSignature.Denominator <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%w: time signature %d/%d", ErrInvalidConfig, s.TimeSignature.Numerator, s.TimeSignature.Denominator))
	} else if s.MeasuresPerSequence > 0 && s.TicksPerSequence() <= 0 {
		errs = errors.Join(errs, fmt.Errorf("%w: sequence shorter than one clock tick", ErrInvalidConfig))
	}
	if s.SourceChannel < 0 || s.SourceChannel > 15 {
		errs = errors.Join(errs, fmt.Errorf("%w: source_channel %d outside 0..15", ErrInvalidConfig, s.SourceChannel))
	}
	for name, p := range map[string]Port{"input": c.Input, "output": c.Output} {
		if p.Name == "" && p.Serial == "" && p.Index < 0 {
			errs = errors.Join(errs, fmt.Errorf("%w: %s port index %d", ErrInvalidConfig, name, p.Index))
		}
		if p.Serial != "" && p.Baud <= 0 {
			errs = errors.Join(errs, fmt.Errorf("%w: %s baud %d", ErrInvalidConfig, name, p.Baud))
		}
	}
	return errs
}
