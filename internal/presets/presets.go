// Package presets loads named generation presets from YAML files. A
// preset bundles a workflow, model, prompt, and output size so a
// favorite combination can be replayed by name.
package presets

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Preset is one saved generation configuration.
type Preset struct {
	Name     string `yaml:"name"`
	Workflow string `yaml:"workflow"`
	Model    string `yaml:"model"`
	Prompt   string `yaml:"prompt"`
	Negative string `yaml:"negative,omitempty"`
	Width    int    `yaml:"width,omitempty"`
	Height   int    `yaml:"height,omitempty"`
}

// Validate checks that the preset carries enough to start a generation.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset has no name")
	}
	if p.Workflow == "" {
		return fmt.Errorf("preset %q has no workflow", p.Name)
	}
	if p.Prompt == "" {
		return fmt.Errorf("preset %q has no prompt", p.Name)
	}
	return nil
}

// Params flattens the preset into the substitution map a workflow
// template expects. Zero-valued sizes fall back to the given defaults.
func (p Preset) Params(defaultWidth, defaultHeight int) map[string]string {
	width, height := p.Width, p.Height
	if width == 0 {
		width = defaultWidth
	}
	if height == 0 {
		height = defaultHeight
	}
	return map[string]string{
		"model":  p.Model,
		"prompt": p.Prompt,
		"width":  fmt.Sprintf("%d", width),
		"height": fmt.Sprintf("%d", height),
	}
}

// LoadFile reads one preset from a YAML file.
func LoadFile(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset %s: %w", path, err)
	}

	var preset Preset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("failed to parse preset %s: %w", path, err)
	}
	if preset.Name == "" {
		preset.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := preset.Validate(); err != nil {
		return nil, err
	}
	return &preset, nil
}

// LoadDir reads every .yaml/.yml file in a directory, sorted by preset
// name. A missing directory is an empty set, not an error.
func LoadDir(dir string) ([]Preset, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read presets directory: %w", err)
	}

	var presets []Preset
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		preset, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		presets = append(presets, *preset)
	}

	sort.Slice(presets, func(i, j int) bool {
		return presets[i].Name < presets[j].Name
	})
	return presets, nil
}

// Find returns the preset with the given name from a directory.
func Find(dir, name string) (*Preset, error) {
	presets, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for i := range presets {
		if presets[i].Name == name {
			return &presets[i], nil
		}
	}
	return nil, fmt.Errorf("preset %q not found in %s", name, dir)
}

// Save writes a preset to dir/<name>.yaml.
func Save(dir string, preset Preset) (string, error) {
	if err := preset.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create presets directory: %w", err)
	}

	data, err := yaml.Marshal(preset)
	if err != nil {
		return "", fmt.Errorf("failed to encode preset: %w", err)
	}

	path := filepath.Join(dir, preset.Name+".yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write preset: %w", err)
	}
	return path, nil
}
