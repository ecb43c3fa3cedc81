// Package config loads kernel configuration from files. JSON, YAML and
// TOML are supported, selected by file extension, and opaque
// plugin-specific values can be pulled out with typed accessors.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/kernel/eventhub"
	"github.com/GoCodeAlone/kernel/plugin"
)

// Loader errors.
var (
	ErrUnsupportedFormat = errors.New("unsupported config format")
	ErrConfigNil         = errors.New("config cannot be nil")
)

// KernelConfig is the file form of the kernel's inputs: the plugin set and
// the event hub's pre-declared channels.
type KernelConfig struct {
	Plugins  []plugin.Config `json:"plugins" yaml:"plugins" toml:"plugins"`
	EventHub eventhub.Config `json:"eventHub" yaml:"eventHub" toml:"eventHub"`
}

// Validate checks every plugin entry.
func (c *KernelConfig) Validate() error {
	for _, cfg := range c.Plugins {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load reads and validates a kernel config file, dispatching on the
// extension: .json, .yaml/.yml or .toml.
func Load(path string) (*KernelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var out KernelConfig
	if err := Unmarshal(filepath.Ext(path), raw, &out); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unmarshal decodes raw into out using the codec the extension names.
func Unmarshal(ext string, raw []byte, out interface{}) error {
	if out == nil {
		return ErrConfigNil
	}
	switch strings.ToLower(ext) {
	case ".json", "json":
		return json.Unmarshal(raw, out)
	case ".yaml", ".yml", "yaml", "yml":
		return yaml.Unmarshal(raw, out)
	case ".toml", "toml":
		return toml.Unmarshal(raw, out)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}
