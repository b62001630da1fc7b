// Package config loads the triage configuration file and applies defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dshills/triage/internal/aggregate"
	"github.com/dshills/triage/internal/llm"
	"github.com/dshills/triage/internal/schema"
)

// DefaultPath is the project-local config file tried when no path is given.
const DefaultPath = ".triage.yml"

// Dedup modes. Realtime gates each issue as it arrives; batch runs one
// grouping pass over the settled list; the two are never combined.
const (
	DedupRealtime = "realtime"
	DedupBatch    = "batch"
	DedupOff      = "off"
)

// Output formats.
const (
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// FailOnNone disables the severity exit gate.
const FailOnNone = "none"

// Config holds every pipeline knob the CLI exposes.
type Config struct {
	Provider        string   `yaml:"provider"`
	Model           string   `yaml:"model"`
	MaxTokens       int      `yaml:"max_tokens"`
	Temperature     float64  `yaml:"temperature"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	SkipValidation  bool     `yaml:"skip_validation"`
	Dedup           string   `yaml:"dedup"`
	Sort            string   `yaml:"sort"`
	MinConfidence   float64  `yaml:"min_confidence"`
	IncludeRejected bool     `yaml:"include_rejected"`
	FailOn          string   `yaml:"fail_on"`
	Format          string   `yaml:"format"`
	ChecklistFile   string   `yaml:"checklist_file"`
	Ignore          []string `yaml:"ignore,omitempty"`
	Debug           bool     `yaml:"debug"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Provider:      "anthropic",
		Model:         llm.DefaultModel,
		MaxTokens:     4096,
		Temperature:   0.1,
		MaxConcurrent: 3,
		Dedup:         DedupRealtime,
		Sort:          string(aggregate.SortSeverity),
		FailOn:        FailOnNone,
		Format:        FormatJSON,
	}
}

// Load builds the effective config: defaults, then the YAML file, then
// TRIAGE_* environment variables. An empty path tries DefaultPath; a missing
// file at the default location is not an error, a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// No project config; defaults stand.
	default:
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeEnv(cfg *Config) {
	if v := os.Getenv("TRIAGE_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("TRIAGE_MODEL"); v != "" {
		cfg.Model = v
	}
}

// Validate checks enum-valued and range-bound fields.
func (c Config) Validate() error {
	switch c.Dedup {
	case DedupRealtime, DedupBatch, DedupOff:
	default:
		return fmt.Errorf("config: unknown dedup mode %q", c.Dedup)
	}
	switch c.Format {
	case FormatJSON, FormatMarkdown:
	default:
		return fmt.Errorf("config: unknown format %q", c.Format)
	}
	if _, err := aggregate.ParseSortOrder(c.Sort); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.FailOn != "" && c.FailOn != FailOnNone {
		if _, err := schema.ParseSeverity(c.FailOn); err != nil {
			return fmt.Errorf("config: fail_on: %w", err)
		}
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("config: max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("config: max_tokens must be at least 1, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("config: temperature %v outside [0, 2]", c.Temperature)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("config: min_confidence %v outside [0, 1]", c.MinConfidence)
	}
	return nil
}
