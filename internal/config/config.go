// Package config loads the launcher configuration of spec.md §6, using
// the teacher's viper-read-then-yaml.v3-remarshal double-parse idiom
// (reinforcement.FromYaml) generalized from one training-parameter block
// to the full set of launcher options plus nested per-model/per-trainer
// kind/def blocks.
package config

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ComponentBlock is a named, kind-tagged configuration block whose
// concrete shape is opaque to the launcher (a model or trainer's own
// config struct); DecodeBlock remarshals Def into a caller-supplied
// typed destination.
type ComponentBlock struct {
	Name string      `mapstructure:"name"`
	Kind string      `mapstructure:"kind"`
	Def  interface{} `mapstructure:"def"`
}

// LauncherConfig holds the recognized launcher options of spec.md §6.
type LauncherConfig struct {
	WebAPIAddress       string `mapstructure:"web_api_address"`
	MaxUptimeSeconds    float64 `mapstructure:"max_uptime_seconds"`
	StatesDir           string `mapstructure:"states_dir"`
	SaveIntervalSeconds float64 `mapstructure:"save_interval_seconds"`
	MaxKeepStates       int    `mapstructure:"max_keep_states"`
	ResumeFrom          string `mapstructure:"resume_from"`
	LogLevel            string `mapstructure:"log_level"`

	Models   []ComponentBlock `mapstructure:"models"`
	Trainers []ComponentBlock `mapstructure:"trainers"`
}

// Load reads path (any format viper recognizes by extension, though the
// pack and this repo both use yaml) and decodes it into a LauncherConfig.
// CONCORD_-prefixed environment variables override file values, matching
// the teacher's viper idiom plus spec.md's environment-override
// allowance for ambient config.
func Load(path string) (*LauncherConfig, error) {
	vp := viper.New()
	vp.SetConfigFile(path)
	vp.AddConfigPath(filepath.Dir(path))
	vp.SetEnvPrefix("CONCORD")
	vp.AutomaticEnv()

	vp.SetDefault("log_level", "info")
	vp.SetDefault("max_keep_states", 0)

	if err := vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &LauncherConfig{}
	if err := vp.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes decodes a LauncherConfig directly from in-memory YAML,
// bypassing the filesystem — used by tests and by callers that already
// have the document (e.g. fetched from a config service).
func LoadBytes(yamlDoc []byte) (*LauncherConfig, error) {
	vp := viper.New()
	vp.SetConfigType("yaml")
	vp.SetDefault("log_level", "info")
	vp.SetDefault("max_keep_states", 0)

	if err := vp.ReadConfig(bytes.NewReader(yamlDoc)); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg := &LauncherConfig{}
	if err := vp.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the options that are only meaningful combined (a save
// interval with no states_dir is a configuration error per spec.md §7).
func (c *LauncherConfig) Validate() error {
	if c.SaveIntervalSeconds > 0 && c.StatesDir == "" {
		return fmt.Errorf("config: save_interval_seconds set but states_dir is empty")
	}
	if c.MaxUptimeSeconds < 0 {
		return fmt.Errorf("config: max_uptime_seconds must be >= 0")
	}
	if c.MaxKeepStates < 0 {
		return fmt.Errorf("config: max_keep_states must be >= 0")
	}
	return nil
}

// DecodeBlock remarshals a ComponentBlock's opaque Def field into dst,
// the same technique reinforcement.FromYaml used for its single
// TrainingConfig block, generalized to any number of named, kind-tagged
// blocks.
func DecodeBlock(block ComponentBlock, dst interface{}) error {
	spec, err := yaml.Marshal(block.Def)
	if err != nil {
		return fmt.Errorf("config: marshal block %q: %w", block.Name, err)
	}
	if err := yaml.Unmarshal(spec, dst); err != nil {
		return fmt.Errorf("config: decode block %q (kind %q): %w", block.Name, block.Kind, err)
	}
	return nil
}
