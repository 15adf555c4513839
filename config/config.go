// Package config loads the scripthook YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"scripthook/pattern"

	"gopkg.in/yaml.v3"
)

// EnvPath overrides the configuration path when set.
const EnvPath = "SCRIPTHOOK_CONFIG"

// DefaultPath is used when neither a path nor EnvPath is given.
const DefaultPath = "scripthook.yaml"

const (
	// NativeTablePattern names the pattern that resolves to the host's native
	// registration table.
	NativeTablePattern = "native_table"

	// FramePattern names the pattern for the host's per-frame function.
	FramePattern = "frame"

	// CavePattern names the pattern for int3 padding used as trampoline space.
	CavePattern = "code_cave"

	DefaultTrampolineSize = 0x1000
)

// Config is the whole configuration file.
type Config struct {
	Module     string           `yaml:"module"`
	Cache      string           `yaml:"cache,omitempty"`
	Trampoline TrampolineConfig `yaml:"trampoline"`
	Patterns   []PatternConfig  `yaml:"patterns"`
	Scripts    ScriptsConfig    `yaml:"scripts,omitempty"`
}

// TrampolineConfig sizes the block detour trampolines are placed in.
type TrampolineConfig struct {
	Size uint64 `yaml:"size"`

	// UseCave places trampolines in int3 padding instead of allocating, for
	// backends that cannot allocate host memory. The code_cave pattern picks
	// the padding; without it the module is searched for Size padding bytes.
	UseCave bool `yaml:"use_cave,omitempty"`
}

// ScriptsConfig holds runtime defaults for scripts.
type ScriptsConfig struct {
	// WaitDeadline bounds resource waits in ticks; 0 waits forever.
	WaitDeadline uint64 `yaml:"wait_deadline,omitempty"`
}

// PatternConfig is one named signature.
type PatternConfig struct {
	Name      string `yaml:"name"`
	Signature string `yaml:"signature"`
	Module    string `yaml:"module,omitempty"`
	Offset    int64  `yaml:"offset,omitempty"`
	Resolve   string `yaml:"resolve,omitempty"`
	Trailing  int64  `yaml:"trailing,omitempty"`
	Section   string `yaml:"section,omitempty"`
	Required  bool   `yaml:"required,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Trampoline: TrampolineConfig{Size: DefaultTrampolineSize},
	}
}

// Path picks the configuration file: explicit path, then EnvPath, then
// DefaultPath.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	return DefaultPath
}

// Load reads and validates the file at Path(path). A missing file yields the
// defaults only when no path was asked for explicitly.
func Load(path string) (*Config, error) {
	resolved := Path(path)

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == "" && os.Getenv(EnvPath) == "" {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", resolved, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks every pattern entry and the trampoline settings.
func (c *Config) Validate() error {
	var errs []error

	if c.Trampoline.Size == 0 {
		errs = append(errs, errors.New("trampoline.size must be positive"))
	}

	seen := make(map[string]bool)
	for i, p := range c.Patterns {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("patterns[%d]: name is required", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("patterns[%d]: duplicate name %q", i, p.Name))
		}
		seen[p.Name] = true

		if _, err := p.Entry(c.Module); err != nil {
			errs = append(errs, fmt.Errorf("patterns[%d] %q: %w", i, p.Name, err))
		}
	}

	if c.Trampoline.UseCave && !seen[CavePattern] && c.Module == "" {
		errs = append(errs, fmt.Errorf("trampoline.use_cave needs a module or a %q pattern", CavePattern))
	}

	return errors.Join(errs...)
}

// Pattern finds a pattern entry by name.
func (c *Config) Pattern(name string) (PatternConfig, bool) {
	for _, p := range c.Patterns {
		if p.Name == name {
			return p, true
		}
	}
	return PatternConfig{}, false
}

// Entry converts the configuration into a registry entry. defaultModule is
// used when the entry names none.
func (p PatternConfig) Entry(defaultModule string) (pattern.Entry, error) {
	mode, err := pattern.ParseResolveMode(p.Resolve)
	if err != nil {
		return pattern.Entry{}, err
	}
	section, err := pattern.ParseSection(p.Section)
	if err != nil {
		return pattern.Entry{}, err
	}

	opts := []pattern.Option{pattern.WithOffset(p.Offset)}
	switch mode {
	case pattern.ResolveRIP:
		opts = append(opts, pattern.WithRIP(p.Trailing))
	case pattern.ResolvePointer:
		opts = append(opts, pattern.WithPointer())
	}

	pat, err := pattern.Parse(p.Signature, opts...)
	if err != nil {
		return pattern.Entry{}, err
	}

	module := p.Module
	if module == "" {
		module = defaultModule
	}
	return pattern.Entry{
		Name:     p.Name,
		Pattern:  pat,
		Module:   module,
		Section:  section,
		Required: p.Required,
	}, nil
}
