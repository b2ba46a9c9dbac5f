package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/nexttok/internal/inference"
	"github.com/samcharles93/nexttok/internal/logits"
)

// Config represents the nexttok configuration file (~/.config/nexttok/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	// Vocabulary and window
	VocabSize       *int `yaml:"vocab_size"`
	PadTokenID      *int `yaml:"pad_token_id"`
	BoundaryTokenID *int `yaml:"boundary_token_id"`
	MaxSeqLength    *int `yaml:"max_seq_length"`
	PromptLength    *int `yaml:"prompt_length"`
	Workers         *int `yaml:"workers"`

	// Sampling defaults
	Temperature       *float64 `yaml:"temperature"`
	TopK              *int     `yaml:"top_k"`
	TopP              *float64 `yaml:"top_p"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty"`
	PresencePenalty   *float64 `yaml:"presence_penalty"`
	FrequencyPenalty  *float64 `yaml:"frequency_penalty"`
	DoSample          *bool    `yaml:"do_sample"`
	Seed              *int64   `yaml:"seed"`
	MaxNewTokens      *int     `yaml:"max_new_tokens"`

	// Probability source
	Source      string `yaml:"source"`
	ModelPath   string `yaml:"model_path"`
	ONNXLibrary string `yaml:"onnx_library"`
	RemoteURL   string `yaml:"remote_url"`

	// Output
	OutDir    string `yaml:"out_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nexttok", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyCommonConfig applies config file values to the shared flag
// variables when the corresponding flag was not explicitly set.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.VocabSize != nil && !c.IsSet("vocab-size") {
		vocabSize = *cfg.VocabSize
	}
	if cfg.PadTokenID != nil && !c.IsSet("pad-id") {
		padTokenID = *cfg.PadTokenID
	}
	if cfg.BoundaryTokenID != nil && !c.IsSet("boundary-id") {
		boundaryTokenID = *cfg.BoundaryTokenID
	}
	if cfg.MaxSeqLength != nil && !c.IsSet("max-seq-length") {
		maxSeqLength = *cfg.MaxSeqLength
	}
	if cfg.Workers != nil && !c.IsSet("workers") {
		workers = *cfg.Workers
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// genDefaults turns the sampling section of the config into request
// defaults. Flags are layered over them by ResolveRequest.
func genDefaults(cfg Config) inference.GenDefaults {
	sampling := logits.Defaults()
	if cfg.Temperature != nil {
		sampling.Temperature = *cfg.Temperature
	}
	sampling.TopK = cfg.TopK
	sampling.TopP = cfg.TopP
	sampling.RepetitionPenalty = cfg.RepetitionPenalty
	sampling.PresencePenalty = cfg.PresencePenalty
	sampling.FrequencyPenalty = cfg.FrequencyPenalty
	if cfg.DoSample != nil {
		sampling.DoSample = *cfg.DoSample
	}
	if cfg.Seed != nil {
		sampling.Seed = *cfg.Seed
	}
	return inference.GenDefaults{
		MaxNewTokens: cfg.MaxNewTokens,
		Sampling:     sampling,
	}
}
