package inference

import "github.com/samcharles93/nexttok/internal/logits"

// Request is one fully resolved decode request.
type Request struct {
	Prompt       []int
	MaxNewTokens *int
	Sampling     logits.Config
}

// RequestOptions carries caller overrides. Nil fields keep the defaults.
type RequestOptions struct {
	Prompt       []int
	MaxNewTokens *int

	Temperature       *float64
	TopK              *int
	TopP              *float64
	RepetitionPenalty *float64
	PresencePenalty   *float64
	FrequencyPenalty  *float64
	DoSample          *bool
	Seed              *int64
}

// GenDefaults are the sampling defaults a deployment ships with, usually
// read from the config file.
type GenDefaults struct {
	MaxNewTokens *int
	Sampling     logits.Config
}

// ResolveRequest layers opts over defaults. The sampling config is not
// validated here; Generate rejects invalid values.
func ResolveRequest(opts RequestOptions, defaults GenDefaults) Request {
	req := Request{
		Prompt:       opts.Prompt,
		MaxNewTokens: defaults.MaxNewTokens,
	}
	if opts.MaxNewTokens != nil {
		req.MaxNewTokens = opts.MaxNewTokens
	}

	req.Sampling = logits.Resolve(logits.Options{
		Temperature:       opts.Temperature,
		TopK:              opts.TopK,
		TopP:              opts.TopP,
		RepetitionPenalty: opts.RepetitionPenalty,
		PresencePenalty:   opts.PresencePenalty,
		FrequencyPenalty:  opts.FrequencyPenalty,
		DoSample:          opts.DoSample,
		Seed:              opts.Seed,
	}, defaults.Sampling)
	return req
}
