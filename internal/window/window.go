package window

import (
	"errors"
	"fmt"

	"github.com/samcharles93/nexttok/internal/vocab"
)

var ErrInvalidOptions = errors.New("window: invalid options")

// OneHot is a label vector of length Size with a single 1 at Index.
// It is kept in index form; Dense materializes the vector.
type OneHot struct {
	Index int
	Size  int
}

// Dense returns the label as a float32 vector of length Size.
func (o OneHot) Dense() []float32 {
	out := make([]float32, o.Size)
	if o.Index >= 0 && o.Index < o.Size {
		out[o.Index] = 1
	}
	return out
}

// Sum is 1 for any label whose index lies inside the vector.
func (o OneHot) Sum() float32 {
	if o.Index >= 0 && o.Index < o.Size {
		return 1
	}
	return 0
}

// Example is one supervised next-token pair. InputIDs always has
// length MaxSeqLength.
type Example struct {
	InputIDs []int
	Label    OneHot
}

// Options configures windowing of a single sample.
type Options struct {
	Vocab        vocab.Vocabulary
	MaxSeqLength int
	// PromptLength is the default prompt size for samples without a
	// boundary token. Zero means 1.
	PromptLength int
	// Normalize pads or truncates each raw sample to MaxSeqLength first.
	Normalize bool
}

func (o Options) promptLength() int {
	if o.PromptLength == 0 {
		return 1
	}
	return o.PromptLength
}

// Validate checks the options before any sample is processed.
func (o Options) Validate() error {
	if err := o.Vocab.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	if o.MaxSeqLength <= 0 {
		return fmt.Errorf("%w: max sequence length must be positive, got %d", ErrInvalidOptions, o.MaxSeqLength)
	}
	if o.promptLength() < 1 {
		return fmt.Errorf("%w: prompt length must be at least 1, got %d", ErrInvalidOptions, o.PromptLength)
	}
	return nil
}

// Normalize right-pads sample with pad, or keeps its first maxLen tokens.
// The result never aliases sample.
func Normalize(sample []int, maxLen, pad int) []int {
	out := make([]int, maxLen)
	n := copy(out, sample)
	for i := n; i < maxLen; i++ {
		out[i] = pad
	}
	return out
}

// bounds returns split and end for a sample.
func bounds(sample []int, opts Options) (split, end int) {
	split = -1
	for i, id := range sample {
		if id == opts.Vocab.BoundaryTokenID {
			split = i
			break
		}
	}
	if split < 0 {
		split = opts.promptLength() - 1
	}

	end = len(sample)
	for i := split + 1; i < len(sample); i++ {
		if sample[i] == opts.Vocab.PadTokenID {
			end = i
			break
		}
	}
	return split, end
}

// Count returns the number of examples BuildSample would emit for sample,
// without allocating them. Options are assumed valid.
func Count(sample []int, opts Options) int {
	if opts.Normalize {
		sample = Normalize(sample, opts.MaxSeqLength, opts.Vocab.PadTokenID)
	}
	split, end := bounds(sample, opts)
	n := 0
	if end > split+1 {
		n = end - split - 1
	}
	if end < len(sample) {
		n++
	}
	return n
}

// BuildSample windows one tokenized sample into training examples.
//
// Positions after the prompt split up to the first pad each produce one
// example whose input is the prefix before that position. When the sample
// contains a pad after the split, a final example labelled with the pad id
// teaches the stop signal.
func BuildSample(sample []int, opts Options) ([]Example, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return buildSample(sample, opts, nil)
}

func buildSample(sample []int, opts Options, dst []Example) ([]Example, error) {
	if opts.Normalize {
		sample = Normalize(sample, opts.MaxSeqLength, opts.Vocab.PadTokenID)
	}
	if err := opts.Vocab.CheckTokens(sample); err != nil {
		return dst, err
	}

	split, end := bounds(sample, opts)
	size := opts.Vocab.Size

	for i := split + 1; i < end; i++ {
		dst = append(dst, Example{
			InputIDs: prefix(sample, i, opts),
			Label:    OneHot{Index: sample[i], Size: size},
		})
	}

	if end < len(sample) {
		dst = append(dst, Example{
			InputIDs: prefix(sample, end, opts),
			Label:    OneHot{Index: opts.Vocab.PadTokenID, Size: size},
		})
	}
	return dst, nil
}

// prefix returns sample[:n] fitted to MaxSeqLength. Truncation keeps the
// leftmost tokens.
func prefix(sample []int, n int, opts Options) []int {
	if n > opts.MaxSeqLength {
		n = opts.MaxSeqLength
	}
	return Normalize(sample[:n], opts.MaxSeqLength, opts.Vocab.PadTokenID)
}
