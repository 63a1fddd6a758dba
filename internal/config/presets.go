package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Preset describes a scheduler created at boot.
type Preset struct {
	Name           string   `yaml:"name"`
	Patterns       []string `yaml:"patterns"`
	CallsPerSecond float64  `yaml:"callsPerSecond"`
}

// Presets is the top-level shape of the presets file.
type Presets struct {
	Schedulers []Preset `yaml:"schedulers"`
}

// LoadPresets reads and validates a presets file. An empty path yields no presets.
func LoadPresets(path string) ([]Preset, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(b)
}

// ParsePresets decodes presets YAML, rejecting unknown fields.
func ParsePresets(b []byte) ([]Preset, error) {
	var p Presets
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse presets: %w", err)
	}

	seen := make(map[string]bool, len(p.Schedulers))
	for i, s := range p.Schedulers {
		if s.Name == "" {
			return nil, fmt.Errorf("preset %d: name is required", i)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("preset %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
		if len(s.Patterns) == 0 {
			return nil, fmt.Errorf("preset %q: at least one pattern is required", s.Name)
		}
		if s.CallsPerSecond < 0 {
			return nil, fmt.Errorf("preset %q: callsPerSecond must not be negative", s.Name)
		}
	}
	return p.Schedulers, nil
}
