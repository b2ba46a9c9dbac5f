package inference

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/samcharles93/nexttok/internal/logger"
	"github.com/samcharles93/nexttok/internal/logits"
	"github.com/samcharles93/nexttok/internal/vocab"
)

// Generator decodes token sequences from a probability source. A
// Generator may serve concurrent Generate calls as long as Source does.
type Generator struct {
	Source       ProbabilitySource
	Vocab        vocab.Vocabulary
	MaxSeqLength int
	// OnToken, if set, is called with each appended token.
	OnToken func(id int)
}

func (g *Generator) validate() error {
	if g.Source == nil {
		return fmt.Errorf("%w: probability source is required", ErrInvalidConfiguration)
	}
	if err := g.Vocab.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if g.MaxSeqLength <= 0 {
		return fmt.Errorf("%w: max sequence length must be positive, got %d", ErrInvalidConfiguration, g.MaxSeqLength)
	}
	return nil
}

// Ceiling returns the number of tokens a request may generate:
// min(maxNewTokens, MaxSeqLength-len(prompt)). A nil maxNewTokens leaves
// only the sequence bound.
func (g *Generator) Ceiling(promptLen int, maxNewTokens *int) int {
	ceiling := g.MaxSeqLength - promptLen
	if maxNewTokens != nil && *maxNewTokens < ceiling {
		ceiling = *maxNewTokens
	}
	return ceiling
}

// Generate extends prompt one token at a time until the pad token is
// chosen or the step ceiling is reached.
//
// Cancelling ctx stops decoding before the next step and returns the
// tokens produced so far with a nil error. Failures during a step are
// returned as *StepError carrying the partial output.
func (g *Generator) Generate(ctx context.Context, prompt []int, cfg logits.Config, maxNewTokens *int) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("%w: context is required", ErrInvalidConfiguration)
	}
	if err := g.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if err := g.Vocab.CheckTokens(prompt); err != nil {
		return nil, fmt.Errorf("%w: prompt: %w", ErrMalformedInput, err)
	}

	ceiling := g.Ceiling(len(prompt), maxNewTokens)
	if ceiling <= 0 {
		return nil, fmt.Errorf("%w: no room to generate (max_new_tokens=%s, max_seq_length=%d, prompt=%d)",
			ErrInvalidConfiguration, fmtMaxNew(maxNewTokens), g.MaxSeqLength, len(prompt))
	}

	st := &State{
		RequestID: uuid.NewString(),
		Prompt:    prompt,
		Current:   make([]int, len(prompt), len(prompt)+ceiling),
		Ceiling:   ceiling,
	}
	copy(st.Current, prompt)

	log := logger.FromContext(ctx).With("request_id", st.RequestID)
	log.Debug("decode started", "prompt", len(prompt), "ceiling", ceiling, "sampling", cfg.String())

	res, err := g.run(ctx, st, logits.NewSampler(cfg), log)
	if err != nil {
		log.Error("decode failed", "step", st.Step, "generated", len(st.Generated()), "error", err)
		return nil, err
	}
	log.Debug("decode finished",
		"reason", res.Reason.String(),
		"generated", res.Stats.TokensGenerated,
		"steps", res.Stats.Steps,
		"tps", res.Stats.TPS,
	)
	return res, nil
}

func (g *Generator) run(ctx context.Context, st *State, sampler *logits.Sampler, log logger.Logger) (*Result, error) {
	var stats Stats
	start := time.Now()
	window := make([]int, g.MaxSeqLength)
	reason := StopNone

	for reason == StopNone {
		if ctx.Err() != nil {
			reason = StopCancelled
			break
		}

		fillWindow(window, st.Current, g.Vocab.PadTokenID)
		probs, err := safeInfer(ctx, g.Source, window)
		stats.Steps++
		if err != nil {
			if ctx.Err() != nil {
				reason = StopCancelled
				break
			}
			return nil, stepError(st, ErrInferenceFailure, err)
		}
		if err := g.checkDistribution(probs); err != nil {
			return nil, stepError(st, kindOf(err), err)
		}

		choice := sampler.Sample(probs, st.Current)
		if choice.Degenerate {
			stats.Degenerate++
			log.Warn("no token survived filtering, using argmax", "step", st.Step, "token", choice.ID, "error", ErrNumericDegeneracy)
		}
		st.Step++

		next := choice.ID
		if next == g.Vocab.PadTokenID {
			reason = StopTerminated
			break
		}
		st.Current = append(st.Current, next)
		if g.OnToken != nil {
			g.OnToken(next)
		}

		if len(st.Generated()) >= st.Ceiling || len(st.Current) >= g.MaxSeqLength {
			reason = StopLengthExhausted
		}
	}

	stats.TokensGenerated = len(st.Generated())
	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
	}

	return &Result{
		Tokens:    st.Current,
		Generated: st.Generated(),
		Reason:    reason,
		Stats:     stats,
		RequestID: st.RequestID,
	}, nil
}

// fillWindow writes the last len(dst) tokens of current into dst,
// right-padding with pad when current is shorter.
func fillWindow(dst, current []int, pad int) {
	src := current
	if len(src) > len(dst) {
		src = src[len(src)-len(dst):]
	}
	n := copy(dst, src)
	for i := n; i < len(dst); i++ {
		dst[i] = pad
	}
}

type distributionError struct {
	kind error
	msg  string
}

func (e *distributionError) Error() string { return e.msg }

func kindOf(err error) error {
	if de, ok := err.(*distributionError); ok {
		return de.kind
	}
	return ErrInferenceFailure
}

func (g *Generator) checkDistribution(probs []float32) error {
	if len(probs) != g.Vocab.Size {
		return &distributionError{
			kind: ErrInvalidConfiguration,
			msg:  fmt.Sprintf("distribution has %d entries, vocabulary has %d", len(probs), g.Vocab.Size),
		}
	}
	for i, p := range probs {
		if p < 0 || math.IsNaN(float64(p)) {
			return &distributionError{
				kind: ErrInferenceFailure,
				msg:  fmt.Sprintf("invalid probability %v at index %d", p, i),
			}
		}
	}
	return nil
}

func safeInfer(ctx context.Context, src ProbabilitySource, window []int) (probs []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Infer: %v", rec)
		}
	}()
	return src.Infer(ctx, window)
}

func fmtMaxNew(v *int) string {
	if v == nil {
		return "unset"
	}
	return strconv.Itoa(*v)
}
