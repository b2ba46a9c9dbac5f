package inference

import (
	"context"
	"time"
)

// ProbabilitySource produces the next-token distribution for a window of
// exactly MaxSeqLength token ids. The returned slice must have one entry
// per vocabulary id.
type ProbabilitySource interface {
	Infer(ctx context.Context, window []int) ([]float32, error)
}

// SourceFunc adapts a plain function to ProbabilitySource.
type SourceFunc func(ctx context.Context, window []int) ([]float32, error)

func (f SourceFunc) Infer(ctx context.Context, window []int) ([]float32, error) {
	return f(ctx, window)
}

type StopReason int

const (
	StopNone StopReason = iota
	// StopTerminated means the pad token was selected.
	StopTerminated
	// StopLengthExhausted means the step ceiling or MaxSeqLength was reached.
	StopLengthExhausted
	// StopCancelled means the context was cancelled between steps.
	StopCancelled
)

func (r StopReason) String() string {
	switch r {
	case StopTerminated:
		return "terminated"
	case StopLengthExhausted:
		return "length"
	case StopCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

type Stats struct {
	Steps           int
	TokensGenerated int
	Degenerate      int
	Duration        time.Duration
	TPS             float64
}

type Result struct {
	// Tokens is the prompt followed by the generated tokens.
	Tokens    []int
	Generated []int
	Reason    StopReason
	Stats     Stats
	RequestID string
}

// State is the per-request decoding state. It is created by Generate and
// never shared between requests.
type State struct {
	RequestID string
	Prompt    []int
	Current   []int
	Step      int
	Ceiling   int
}

// Generated returns the tokens appended after the prompt.
func (s *State) Generated() []int {
	return s.Current[len(s.Prompt):]
}
