// Package config loads the pipeline configuration: a yaml file selected by
// environment, overridable through EMBX_-prefixed environment variables, with
// run parameters merged in from CLI flags. The result is one immutable struct
// handed to each component constructor.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/neurocorpus/embx-pipeline/model"
)

type Pipeline struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Version  string `mapstructure:"version" yaml:"version"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
}

type Service struct {
	URL            string `mapstructure:"url" yaml:"url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

func (s Service) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type Paths struct {
	Data         string `mapstructure:"data" yaml:"data"`
	Results      string `mapstructure:"results" yaml:"results"`
	GloveVectors string `mapstructure:"glove_vectors" yaml:"glove_vectors"`
}

type Inference struct {
	Device            string `mapstructure:"device" yaml:"device"`
	WindowBatchSize   int    `mapstructure:"window_batch_size" yaml:"window_batch_size"`
	SentenceBatchSize int    `mapstructure:"sentence_batch_size" yaml:"sentence_batch_size"`
}

// Run holds the flag-selected parameters of one invocation.
type Run struct {
	EmbeddingType    string `yaml:"embedding_type"`
	ContextLength    int    `yaml:"context_length"`
	History          bool   `yaml:"history"`
	Subject          string `yaml:"subject"`
	ConversationID   int    `yaml:"conversation_id"`
	SavePredictions  bool   `yaml:"save_predictions"`
	SaveHiddenStates bool   `yaml:"save_hidden_states"`
}

type Config struct {
	Pipeline  Pipeline  `mapstructure:"pipeline" yaml:"pipeline"`
	Service   Service   `mapstructure:"service" yaml:"service"`
	Paths     Paths     `mapstructure:"paths" yaml:"paths"`
	Inference Inference `mapstructure:"inference" yaml:"inference"`
	Run       Run       `mapstructure:"-" yaml:"run"`
}

// Load reads the configuration file and environment. An explicit path wins;
// otherwise config/<env>/config.yaml is tried where env comes from EMBX_ENV
// (default "dev"), and a missing file falls back to defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EMBX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		env := os.Getenv("EMBX_ENV")
		if env == "" {
			env = "dev"
		}
		v.SetConfigFile(filepath.Join("config", env, "config.yaml"))
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "embx")
	v.SetDefault("pipeline.version", "dev")
	v.SetDefault("pipeline.log_level", "info")
	v.SetDefault("service.url", "")
	v.SetDefault("service.timeout_seconds", 600)
	v.SetDefault("paths.data", "data")
	v.SetDefault("paths.results", "results")
	v.SetDefault("paths.glove_vectors", "")
	v.SetDefault("inference.device", "cpu")
	v.SetDefault("inference.window_batch_size", 2)
	v.SetDefault("inference.sentence_batch_size", 8)
}

// Validate checks the assembled configuration against the selected family.
func (c *Config) Validate(fam model.Family) error {
	if c.Run.Subject == "" {
		return fmt.Errorf("config: subject is required")
	}
	if c.Run.ConversationID < 0 {
		return fmt.Errorf("config: conversation id must not be negative")
	}
	if c.Inference.WindowBatchSize <= 0 || c.Inference.SentenceBatchSize <= 0 {
		return fmt.Errorf("config: batch sizes must be positive")
	}
	if c.Inference.Device == "" {
		return fmt.Errorf("config: inference device is required")
	}
	if c.Paths.GloveVectors == "" {
		return fmt.Errorf("config: paths.glove_vectors is required")
	}
	if !fam.VectorOnly() && c.Service.URL == "" {
		return fmt.Errorf("config: service.url is required for family %s", fam)
	}
	if c.Run.History && !fam.SupportsContext() {
		return fmt.Errorf("config: context embeddings not supported for family %s", fam)
	}
	return nil
}

// LabelsPath is the subject's labels container location.
func (c *Config) LabelsPath() string {
	return filepath.Join(c.Paths.Results, c.Run.Subject, "pickles", c.Run.Subject+"_full_labels.json")
}

// InputDir holds the subject's conversation directories.
func (c *Config) InputDir() string {
	return filepath.Join(c.Paths.Data, c.Run.Subject)
}

// OutputDir is where one run's per-conversation record files land. The
// context length is passed explicitly because the history path may resolve it
// from the tokenizer maximum after configuration.
func (c *Config) OutputDir(fam model.Family, contextLength int) string {
	leaf := fmt.Sprintf("%s_cnxt_%d", fam, contextLength)
	return filepath.Join(c.Paths.Results, c.Run.Subject, "embeddings", leaf)
}

// Dump writes the effective configuration, run parameters included, next to
// the run output for provenance.
func (c *Config) Dump(path string) error {
	payload, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: ensure dir: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
