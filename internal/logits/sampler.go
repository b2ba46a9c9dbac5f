package logits

import (
	"math"
	"math/rand"
)

const (
	// logEpsilon keeps log(0) finite when turning probabilities into logits.
	logEpsilon = 1e-20
	// minSupport is the smallest probability still considered drawable.
	minSupport = 1e-8
)

// NoToken is the Choice ID returned for an empty distribution.
const NoToken = -1

// Choice is the outcome of one sampling step. Degenerate is set when no
// entry survived filtering and the sampler fell back to argmax.
type Choice struct {
	ID         int
	Degenerate bool
}

// Sampler turns a probability distribution into a token id. It keeps its
// own RNG and scratch buffers, so each decode request needs its own.
type Sampler struct {
	rng *rand.Rand
	cfg Config

	logits []float64
	base   []float64
	prob   []float64

	seenMark  []uint32
	seenEpoch uint32
	seenList  []int
	seenCount []int
}

// NewSampler returns a sampler for cfg. cfg is expected to be validated.
func NewSampler(cfg Config) *Sampler {
	return &Sampler{
		rng: rand.New(rand.NewSource(cfg.Seed)),
		cfg: cfg,
	}
}

func (s *Sampler) Config() Config {
	return s.cfg
}

// Sample selects the next token from probs given the token history.
//
// Sampling mode runs, in order: log transform, presence/frequency
// penalties, repetition penalty, temperature, softmax, top-k, top-p, and a
// categorical draw over the surviving support. Greedy mode applies only the
// repetition penalty before taking the argmax of the logits.
//
// An empty probs has no valid token: Sample returns ID NoToken with
// Degenerate set. Callers must check the distribution length first.
func (s *Sampler) Sample(probs []float32, history []int) Choice {
	if len(probs) == 0 {
		return Choice{ID: NoToken, Degenerate: true}
	}
	logits := s.toLogits(probs)
	s.markHistory(history, len(logits))

	if !s.cfg.DoSample {
		s.applyRepetition(logits)
		return Choice{ID: Argmax(logits)}
	}

	dist, ok := s.filter(logits)
	if !ok {
		return Choice{ID: Argmax(s.base), Degenerate: true}
	}

	r := s.rng.Float64()
	var c float64
	last := -1
	for i, p := range dist {
		if p == 0 {
			continue
		}
		last = i
		c += p
		if r < c {
			return Choice{ID: i}
		}
	}
	return Choice{ID: last}
}

// Distribution returns the filtered distribution Sample would draw from in
// sampling mode, renormalized over its support. ok is false when nothing
// survived filtering. The returned slice is a copy.
func (s *Sampler) Distribution(probs []float32, history []int) (dist []float64, ok bool) {
	if len(probs) == 0 {
		return nil, false
	}
	logits := s.toLogits(probs)
	s.markHistory(history, len(logits))
	d, ok := s.filter(logits)
	return append([]float64(nil), d...), ok
}

func (s *Sampler) filter(logits []float64) ([]float64, bool) {
	s.applyPresenceFrequency(logits)
	s.applyRepetition(logits)

	if s.cfg.Temperature != 1 {
		inv := 1 / s.cfg.Temperature
		for i := range logits {
			logits[i] *= inv
		}
	}

	s.base = grow(s.base, len(logits))
	softmaxInto(s.base, logits)

	s.prob = grow(s.prob, len(logits))
	prob := s.prob
	copy(prob, s.base)

	if s.cfg.TopK != nil && *s.cfg.TopK > 0 {
		TopK(prob, *s.cfg.TopK)
	}
	if s.cfg.TopP != nil && *s.cfg.TopP < 1 {
		TopP(prob, *s.cfg.TopP)
	}

	for i, p := range prob {
		if !(p > minSupport) {
			prob[i] = 0
		}
	}
	if !Renormalize(prob) {
		return prob, false
	}
	return prob, true
}

func (s *Sampler) toLogits(probs []float32) []float64 {
	s.logits = grow(s.logits, len(probs))
	for i, p := range probs {
		s.logits[i] = math.Log(float64(p) + logEpsilon)
	}
	return s.logits
}

// markHistory records the distinct in-vocabulary tokens of history and
// how often each occurs.
func (s *Sampler) markHistory(history []int, vocab int) {
	if len(s.seenMark) < vocab {
		s.seenMark = make([]uint32, vocab)
		s.seenCount = make([]int, vocab)
	}
	s.seenEpoch++
	if s.seenEpoch == 0 {
		for i := range s.seenMark {
			s.seenMark[i] = 0
		}
		s.seenEpoch = 1
	}
	s.seenList = s.seenList[:0]

	for _, id := range history {
		if id < 0 || id >= vocab {
			continue
		}
		if s.seenMark[id] != s.seenEpoch {
			s.seenMark[id] = s.seenEpoch
			s.seenCount[id] = 0
			s.seenList = append(s.seenList, id)
		}
		s.seenCount[id]++
	}
}

func (s *Sampler) applyPresenceFrequency(logits []float64) {
	if s.cfg.PresencePenalty == nil && s.cfg.FrequencyPenalty == nil {
		return
	}
	var presence, frequency float64
	if s.cfg.PresencePenalty != nil {
		presence = *s.cfg.PresencePenalty
	}
	if s.cfg.FrequencyPenalty != nil {
		frequency = *s.cfg.FrequencyPenalty
	}
	for _, id := range s.seenList {
		logits[id] -= presence + frequency*float64(s.seenCount[id])
	}
}

// applyRepetition divides the logit of every previously seen token by the
// penalty. Logits here are log-probabilities, so the legacy division moves
// them toward zero for penalties above 1.
func (s *Sampler) applyRepetition(logits []float64) {
	if s.cfg.RepetitionPenalty == nil || *s.cfg.RepetitionPenalty == 1 {
		return
	}
	penalty := *s.cfg.RepetitionPenalty
	for _, id := range s.seenList {
		logits[id] /= penalty
	}
}

func grow(buf []float64, n int) []float64 {
	if cap(buf) < n {
		return make([]float64, n)
	}
	return buf[:n]
}
