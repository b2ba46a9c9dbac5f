package inference

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/nexttok/internal/logits"
	"github.com/samcharles93/nexttok/internal/vocab"
)

func ptr[T any](v T) *T { return &v }

func oneHot(size, idx int) []float32 {
	p := make([]float32, size)
	p[idx] = 1
	return p
}

// scriptedSource returns the distributions in order, repeating the last
// one when the script runs out, and records every window it was given.
type scriptedSource struct {
	mu      sync.Mutex
	script  [][]float32
	windows [][]int
}

func (s *scriptedSource) Infer(_ context.Context, window []int) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, append([]int(nil), window...))
	i := min(len(s.windows)-1, len(s.script)-1)
	return s.script[i], nil
}

func newGenerator(src ProbabilitySource) *Generator {
	return &Generator{
		Source:       src,
		Vocab:        vocab.Vocabulary{Size: 5, PadTokenID: 0, BoundaryTokenID: 4},
		MaxSeqLength: 8,
	}
}

func TestGenerateGreedyLengthExhausted(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{script: [][]float32{oneHot(5, 3)}}
	g := newGenerator(src)

	res, err := g.Generate(context.Background(), []int{1, 2}, logits.Defaults(), ptr(3))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 3, 3}, res.Tokens); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	if res.Reason != StopLengthExhausted {
		t.Fatalf("reason = %v, want %v", res.Reason, StopLengthExhausted)
	}
	if res.Stats.Steps != 3 || res.Stats.TokensGenerated != 3 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	if res.RequestID == "" {
		t.Fatal("expected a request id")
	}

	wantWindows := [][]int{
		{1, 2, 0, 0, 0, 0, 0, 0},
		{1, 2, 3, 0, 0, 0, 0, 0},
		{1, 2, 3, 3, 0, 0, 0, 0},
	}
	if diff := cmp.Diff(wantWindows, src.windows); diff != "" {
		t.Fatalf("windows mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateTerminatesOnPad(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{script: [][]float32{oneHot(5, 0)}}
	res, err := newGenerator(src).Generate(context.Background(), []int{1, 2}, logits.Defaults(), ptr(3))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, res.Tokens); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	if res.Reason != StopTerminated {
		t.Fatalf("reason = %v, want %v", res.Reason, StopTerminated)
	}
	if len(res.Generated) != 0 {
		t.Fatalf("generated = %v, want none", res.Generated)
	}
}

func TestGenerateStopsAtMaxSeqLength(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{script: [][]float32{oneHot(5, 2)}}
	g := newGenerator(src)
	g.MaxSeqLength = 4

	res, err := g.Generate(context.Background(), []int{1}, logits.Defaults(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2, 2, 2}, res.Tokens); diff != "" {
		t.Fatalf("tokens mismatch (-want +got):\n%s", diff)
	}
	if res.Reason != StopLengthExhausted {
		t.Fatalf("reason = %v, want %v", res.Reason, StopLengthExhausted)
	}
}

func TestGenerateNeverExceedsCeiling(t *testing.T) {
	t.Parallel()

	probs := []float32{0.01, 0.3, 0.3, 0.29, 0.1}
	for seed := int64(0); seed < 20; seed++ {
		src := &scriptedSource{script: [][]float32{probs}}
		g := newGenerator(src)
		cfg := logits.Config{Temperature: 1.5, DoSample: true, Seed: seed}
		res, err := g.Generate(context.Background(), []int{1, 2, 3}, cfg, ptr(10))
		if err != nil {
			t.Fatalf("seed %d: Generate: %v", seed, err)
		}
		if len(res.Tokens) > g.MaxSeqLength {
			t.Fatalf("seed %d: %d tokens exceeds max sequence length", seed, len(res.Tokens))
		}
		if res.Stats.Steps > g.Ceiling(3, ptr(10)) {
			t.Fatalf("seed %d: %d steps exceeds ceiling", seed, res.Stats.Steps)
		}
	}
}

func TestGenerateGreedyIsDeterministic(t *testing.T) {
	t.Parallel()

	src := SourceFunc(func(_ context.Context, window []int) ([]float32, error) {
		p := []float32{0.05, 0.1, 0.1, 0.1, 0.1}
		last := 0
		for _, id := range window {
			if id != 0 {
				last = id
			}
		}
		p[(last%4)+1] = 0.55
		return p, nil
	})

	var runs [][]int
	for i := 0; i < 3; i++ {
		res, err := newGenerator(src).Generate(context.Background(), []int{1}, logits.Defaults(), nil)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		runs = append(runs, res.Tokens)
	}
	for i := 1; i < len(runs); i++ {
		if diff := cmp.Diff(runs[0], runs[i]); diff != "" {
			t.Fatalf("run %d differs (-first +run):\n%s", i, diff)
		}
	}
}

func TestGenerateCallsOnToken(t *testing.T) {
	t.Parallel()

	var streamed []int
	g := newGenerator(&scriptedSource{script: [][]float32{oneHot(5, 3), oneHot(5, 2), oneHot(5, 0)}})
	g.OnToken = func(id int) { streamed = append(streamed, id) }

	res, err := g.Generate(context.Background(), []int{1}, logits.Defaults(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff([]int{3, 2}, streamed); diff != "" {
		t.Fatalf("streamed mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(res.Generated, streamed); diff != "" {
		t.Fatalf("streamed differs from result (-result +streamed):\n%s", diff)
	}
}

func TestGenerateCancelledReturnsPartial(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	src := SourceFunc(func(context.Context, []int) ([]float32, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return oneHot(5, 3), nil
	})

	res, err := newGenerator(src).Generate(ctx, []int{1}, logits.Defaults(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reason != StopCancelled {
		t.Fatalf("reason = %v, want %v", res.Reason, StopCancelled)
	}
	if diff := cmp.Diff([]int{3, 3}, res.Generated); diff != "" {
		t.Fatalf("generated mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateCancelledBeforeFirstStep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &scriptedSource{script: [][]float32{oneHot(5, 3)}}
	res, err := newGenerator(src).Generate(ctx, []int{1}, logits.Defaults(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Reason != StopCancelled || len(res.Generated) != 0 || len(src.windows) != 0 {
		t.Fatalf("unexpected result %+v after %d calls", res, len(src.windows))
	}
}

func TestGenerateInferenceFailureCarriesPartial(t *testing.T) {
	t.Parallel()

	calls := 0
	src := SourceFunc(func(context.Context, []int) ([]float32, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("forced forward failure")
		}
		return oneHot(5, 2), nil
	})

	_, err := newGenerator(src).Generate(context.Background(), []int{1}, logits.Defaults(), nil)
	if !errors.Is(err, ErrInferenceFailure) {
		t.Fatalf("expected ErrInferenceFailure, got %v", err)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %T", err)
	}
	if stepErr.Step != 2 {
		t.Fatalf("step = %d, want 2", stepErr.Step)
	}
	if diff := cmp.Diff([]int{2, 2}, stepErr.Generated); diff != "" {
		t.Fatalf("partial mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(err.Error(), "forced forward failure") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateConvertsSourcePanicToError(t *testing.T) {
	t.Parallel()

	src := SourceFunc(func(context.Context, []int) ([]float32, error) {
		panic("boom")
	})
	_, err := newGenerator(src).Generate(context.Background(), []int{1}, logits.Defaults(), nil)
	if !errors.Is(err, ErrInferenceFailure) {
		t.Fatalf("expected ErrInferenceFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "panic in Infer") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGenerateRejectsBadDistribution(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		probs []float32
		kind  error
	}{
		{name: "short", probs: []float32{0.5, 0.5}, kind: ErrInvalidConfiguration},
		{name: "long", probs: make([]float32, 6), kind: ErrInvalidConfiguration},
		{name: "negative", probs: []float32{0.5, -0.1, 0.2, 0.2, 0.2}, kind: ErrInferenceFailure},
		{name: "nan", probs: []float32{float32(math.NaN()), 0.2, 0.2, 0.2, 0.2}, kind: ErrInferenceFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			src := &scriptedSource{script: [][]float32{tc.probs}}
			_, err := newGenerator(src).Generate(context.Background(), []int{1}, logits.Defaults(), nil)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			var stepErr *StepError
			if !errors.As(err, &stepErr) {
				t.Fatalf("expected *StepError, got %T", err)
			}
		})
	}
}

func TestGenerateDegenerateFallsBack(t *testing.T) {
	t.Parallel()

	inf := float32(math.Inf(1))
	src := &scriptedSource{script: [][]float32{{0, inf, 0, 0, 0}}}
	cfg := logits.Config{Temperature: 1, DoSample: true}

	res, err := newGenerator(src).Generate(context.Background(), []int{1}, cfg, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.Stats.Degenerate != 1 {
		t.Fatalf("degenerate steps = %d, want 1", res.Stats.Degenerate)
	}
}

func TestGenerateValidation(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{script: [][]float32{oneHot(5, 3)}}
	cases := []struct {
		name   string
		gen    func() *Generator
		prompt []int
		cfg    logits.Config
		maxNew *int
		kind   error
	}{
		{name: "zero temperature", gen: func() *Generator { return newGenerator(src) }, prompt: []int{1}, cfg: logits.Config{}, kind: ErrInvalidConfiguration},
		{name: "zero max new", gen: func() *Generator { return newGenerator(src) }, prompt: []int{1}, cfg: logits.Defaults(), maxNew: ptr(0), kind: ErrInvalidConfiguration},
		{name: "prompt fills sequence", gen: func() *Generator { return newGenerator(src) }, prompt: []int{1, 1, 1, 1, 1, 1, 1, 1}, cfg: logits.Defaults(), kind: ErrInvalidConfiguration},
		{name: "prompt out of range", gen: func() *Generator { return newGenerator(src) }, prompt: []int{1, 7}, cfg: logits.Defaults(), kind: ErrMalformedInput},
		{name: "negative prompt id", gen: func() *Generator { return newGenerator(src) }, prompt: []int{-1}, cfg: logits.Defaults(), kind: vocab.ErrTokenOutOfRange},
		{name: "no source", gen: func() *Generator { g := newGenerator(nil); return g }, prompt: []int{1}, cfg: logits.Defaults(), kind: ErrInvalidConfiguration},
		{name: "bad max seq", gen: func() *Generator { g := newGenerator(src); g.MaxSeqLength = 0; return g }, prompt: []int{1}, cfg: logits.Defaults(), kind: ErrInvalidConfiguration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := tc.gen().Generate(context.Background(), tc.prompt, tc.cfg, tc.maxNew)
			if !errors.Is(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestFillWindow(t *testing.T) {
	t.Parallel()

	dst := make([]int, 4)
	fillWindow(dst, []int{7, 8}, 0)
	if diff := cmp.Diff([]int{7, 8, 0, 0}, dst); diff != "" {
		t.Fatalf("short window mismatch (-want +got):\n%s", diff)
	}
	fillWindow(dst, []int{1, 2, 3, 4, 5, 6}, 0)
	if diff := cmp.Diff([]int{3, 4, 5, 6}, dst); diff != "" {
		t.Fatalf("sliding window mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateBatchPreservesOrder(t *testing.T) {
	t.Parallel()

	src := SourceFunc(func(_ context.Context, window []int) ([]float32, error) {
		// echo the first prompt token until three tokens exist, then stop
		n := 0
		for _, id := range window {
			if id != 0 {
				n++
			}
		}
		if n >= 3 {
			return oneHot(5, 0), nil
		}
		return oneHot(5, window[0]), nil
	})
	g := newGenerator(src)

	reqs := []Request{
		{Prompt: []int{1}, Sampling: logits.Defaults()},
		{Prompt: []int{2}, Sampling: logits.Defaults()},
		{Prompt: []int{3}, Sampling: logits.Defaults()},
		{Prompt: []int{4}, Sampling: logits.Defaults()},
	}
	items, err := g.GenerateBatch(context.Background(), reqs, 2)
	if err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	for i, it := range items {
		id := reqs[i].Prompt[0]
		want := []int{id, id, id}
		if diff := cmp.Diff(want, it.Result.Tokens); diff != "" {
			t.Fatalf("request %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestGenerateBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	src := SourceFunc(func(context.Context, []int) ([]float32, error) {
		return oneHot(5, 3), nil
	})
	g := newGenerator(src)
	reqs := []Request{
		{Prompt: []int{1, 99}, Sampling: logits.Defaults(), MaxNewTokens: ptr(3)},
		{Prompt: []int{1, 2}, Sampling: logits.Defaults(), MaxNewTokens: ptr(3)},
	}
	items, err := g.GenerateBatch(context.Background(), reqs, 1)
	if !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected joined ErrMalformedInput, got %v", err)
	}
	if items[0].Result != nil || !errors.Is(items[0].Err, ErrMalformedInput) {
		t.Fatalf("request 0: got %+v, want malformed input error", items[0])
	}
	if items[1].Err != nil {
		t.Fatalf("request 1: unexpected error %v", items[1].Err)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 3, 3}, items[1].Result.Tokens); diff != "" {
		t.Fatalf("request 1 mismatch (-want +got):\n%s", diff)
	}
	if items[1].Result.Reason != StopLengthExhausted {
		t.Fatalf("request 1 reason = %v, want length", items[1].Result.Reason)
	}
}

func TestGenerateBatchKeepsEachError(t *testing.T) {
	t.Parallel()

	g := newGenerator(SourceFunc(func(context.Context, []int) ([]float32, error) {
		return oneHot(5, 3), nil
	}))
	reqs := []Request{
		{Prompt: []int{9}, Sampling: logits.Defaults()},
		{Prompt: []int{1}, Sampling: logits.Config{Temperature: -1}},
	}
	items, err := g.GenerateBatch(context.Background(), reqs, 2)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(items[0].Err, ErrMalformedInput) || errors.Is(items[0].Err, ErrInvalidConfiguration) {
		t.Fatalf("request 0 error = %v, want malformed input", items[0].Err)
	}
	if !errors.Is(items[1].Err, ErrInvalidConfiguration) || errors.Is(items[1].Err, ErrMalformedInput) {
		t.Fatalf("request 1 error = %v, want invalid configuration", items[1].Err)
	}
}

func TestResolveRequest(t *testing.T) {
	t.Parallel()

	defaults := GenDefaults{
		MaxNewTokens: ptr(16),
		Sampling:     logits.Config{Temperature: 0.7, TopK: ptr(20), DoSample: true},
	}
	req := ResolveRequest(RequestOptions{
		Prompt:   []int{1, 2},
		TopP:     ptr(0.9),
		DoSample: ptr(false),
	}, defaults)

	want := Request{
		Prompt:       []int{1, 2},
		MaxNewTokens: ptr(16),
		Sampling:     logits.Config{Temperature: 0.7, TopK: ptr(20), TopP: ptr(0.9)},
	}
	if diff := cmp.Diff(want, req); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}

	req = ResolveRequest(RequestOptions{MaxNewTokens: ptr(4)}, GenDefaults{Sampling: logits.Defaults()})
	if req.Sampling.Temperature != 1 || *req.MaxNewTokens != 4 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestResolveRequestKeepsInvalidTemperature(t *testing.T) {
	t.Parallel()

	for _, temp := range []float64{0, -2} {
		req := ResolveRequest(RequestOptions{Prompt: []int{1}},
			GenDefaults{Sampling: logits.Config{Temperature: temp, DoSample: true}})
		if req.Sampling.Temperature != temp {
			t.Fatalf("temperature %v resolved to %v", temp, req.Sampling.Temperature)
		}
		g := newGenerator(SourceFunc(func(context.Context, []int) ([]float32, error) {
			return oneHot(5, 3), nil
		}))
		if _, err := g.Generate(context.Background(), req.Prompt, req.Sampling, req.MaxNewTokens); !errors.Is(err, ErrInvalidConfiguration) {
			t.Fatalf("temperature %v: expected ErrInvalidConfiguration, got %v", temp, err)
		}
	}
}
