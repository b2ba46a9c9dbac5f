package toy

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// Mat is a dense row-major float32 matrix.
type Mat struct {
	R, C int
	Data []float32
}

func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Data: make([]float32, r*c)}
}

// Row returns a view of row i.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.C
	return m.Data[start : start+m.C]
}

// FillRand fills m with reproducible values in (-scale/2, scale/2).
func FillRand(m *Mat, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * scale
	}
}

// Model is a minimal deterministic language model. It embeds the last
// non-pad token of a window, projects it back to vocabulary logits and
// returns their softmax. It needs no model files, which makes it the
// default source for demos and tests.
type Model struct {
	Vocab  int
	Hidden int
	Pad    int

	Emb  Mat       // [Vocab x Hidden]
	W    Mat       // [Hidden x Vocab]
	Bias []float32 // [Vocab]
}

// New builds a model with weights derived from seed. PadBias is added to
// the pad logit so generations terminate at a controllable rate.
func New(vocab, hidden, pad int, seed int64, padBias float32) (*Model, error) {
	if vocab <= 0 || hidden <= 0 {
		return nil, fmt.Errorf("toy: vocab and hidden must be positive, got %d and %d", vocab, hidden)
	}
	if pad < 0 || pad >= vocab {
		return nil, fmt.Errorf("toy: pad token %d outside [0, %d)", pad, vocab)
	}
	m := &Model{
		Vocab:  vocab,
		Hidden: hidden,
		Pad:    pad,
		Emb:    NewMat(vocab, hidden),
		W:      NewMat(hidden, vocab),
		Bias:   make([]float32, vocab),
	}
	FillRand(&m.Emb, seed+11, 2)
	FillRand(&m.W, seed+23, 2)
	m.Bias[pad] = padBias
	return m, nil
}

// Forward computes the logits for a single token. Tokens outside
// [0, Vocab) are reduced modulo Vocab.
func (m *Model) Forward(tok int) []float32 {
	if tok < 0 || tok >= m.Vocab {
		tok %= m.Vocab
		if tok < 0 {
			tok += m.Vocab
		}
	}
	h := m.Emb.Row(tok)
	logits := make([]float32, m.Vocab)
	for i := 0; i < m.Hidden; i++ {
		hi := h[i]
		row := m.W.Row(i)
		for j := range logits {
			logits[j] += hi * row[j]
		}
	}
	for j := range logits {
		logits[j] += m.Bias[j]
	}
	return logits
}

// Infer returns the next-token distribution for window. It is safe for
// concurrent use.
func (m *Model) Infer(ctx context.Context, window []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	last := m.Pad
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] != m.Pad {
			last = window[i]
			break
		}
	}
	logits := m.Forward(last)
	softmax(logits)
	return logits, nil
}

func softmax(x []float32) {
	maxv := float32(math.Inf(-1))
	for _, v := range x {
		if v > maxv {
			maxv = v
		}
	}
	var sum float64
	for i, v := range x {
		e := math.Exp(float64(v - maxv))
		x[i] = float32(e)
		sum += e
	}
	inv := float32(1 / sum)
	for i := range x {
		x[i] *= inv
	}
}
