package logits

import (
	"errors"
	"fmt"
	"math"
)

var ErrInvalidConfig = errors.New("logits: invalid sampling config")

// Config configures one decode request. Nil pointer fields are unset and
// skip their pipeline stage.
type Config struct {
	Temperature       float64
	TopK              *int
	TopP              *float64
	RepetitionPenalty *float64
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	DoSample          bool
	Seed              int64
}

// Defaults returns greedy decoding at temperature 1.
func Defaults() Config {
	return Config{Temperature: 1}
}

func (c Config) Validate() error {
	if !(c.Temperature > 0) || math.IsInf(c.Temperature, 1) {
		return fmt.Errorf("%w: temperature must be > 0, got %v", ErrInvalidConfig, c.Temperature)
	}
	if c.TopK != nil && *c.TopK < 0 {
		return fmt.Errorf("%w: top_k must be >= 0, got %d", ErrInvalidConfig, *c.TopK)
	}
	if c.TopP != nil && !(*c.TopP > 0 && *c.TopP <= 1) {
		return fmt.Errorf("%w: top_p must be in (0, 1], got %v", ErrInvalidConfig, *c.TopP)
	}
	if c.RepetitionPenalty != nil && !(*c.RepetitionPenalty > 0) {
		return fmt.Errorf("%w: repetition_penalty must be > 0, got %v", ErrInvalidConfig, *c.RepetitionPenalty)
	}
	if c.PresencePenalty != nil && math.IsNaN(*c.PresencePenalty) {
		return fmt.Errorf("%w: presence_penalty is NaN", ErrInvalidConfig)
	}
	if c.FrequencyPenalty != nil && math.IsNaN(*c.FrequencyPenalty) {
		return fmt.Errorf("%w: frequency_penalty is NaN", ErrInvalidConfig)
	}
	return nil
}

// Options holds caller overrides; nil means "keep the default".
type Options struct {
	Temperature       *float64
	TopK              *int
	TopP              *float64
	RepetitionPenalty *float64
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	DoSample          *bool
	Seed              *int64
}

// Resolve layers opts over defaults. The result still needs Validate.
func Resolve(opts Options, defaults Config) Config {
	cfg := defaults
	if opts.Temperature != nil {
		cfg.Temperature = *opts.Temperature
	}
	if opts.TopK != nil {
		cfg.TopK = opts.TopK
	}
	if opts.TopP != nil {
		cfg.TopP = opts.TopP
	}
	if opts.RepetitionPenalty != nil {
		cfg.RepetitionPenalty = opts.RepetitionPenalty
	}
	if opts.PresencePenalty != nil {
		cfg.PresencePenalty = opts.PresencePenalty
	}
	if opts.FrequencyPenalty != nil {
		cfg.FrequencyPenalty = opts.FrequencyPenalty
	}
	if opts.DoSample != nil {
		cfg.DoSample = *opts.DoSample
	}
	if opts.Seed != nil {
		cfg.Seed = *opts.Seed
	}
	return cfg
}

func (c Config) String() string {
	return fmt.Sprintf("temp=%.3g top_k=%s top_p=%s repeat_penalty=%s presence=%s frequency=%s sample=%t",
		c.Temperature, fmtInt(c.TopK), fmtFloat(c.TopP), fmtFloat(c.RepetitionPenalty),
		fmtFloat(c.PresencePenalty), fmtFloat(c.FrequencyPenalty), c.DoSample)
}

func fmtInt(v *int) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprintf("%d", *v)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return "unset"
	}
	return fmt.Sprintf("%.3g", *v)
}
