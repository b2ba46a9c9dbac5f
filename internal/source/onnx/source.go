// Package onnx serves next-token distributions from an exported ONNX model
// through ONNX Runtime. The model takes one int32 window of shape
// [1, max_seq_length] and produces float32 probabilities of shape
// [1, vocab_size].
package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrClosed = errors.New("onnx: source is closed")

type Options struct {
	ModelPath string
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// runtime's default lookup.
	LibraryPath  string
	MaxSeqLength int
	VocabSize    int
	// InputName and OutputName override the names read from the model.
	InputName  string
	OutputName string
	Threads    int
}

func (o Options) Validate() error {
	if o.ModelPath == "" {
		return errors.New("onnx: model path is required")
	}
	if o.MaxSeqLength <= 0 {
		return fmt.Errorf("onnx: max sequence length must be positive, got %d", o.MaxSeqLength)
	}
	if o.VocabSize <= 0 {
		return fmt.Errorf("onnx: vocab size must be positive, got %d", o.VocabSize)
	}
	if o.Threads < 0 {
		return fmt.Errorf("onnx: threads must be >= 0, got %d", o.Threads)
	}
	return nil
}

var envMu sync.Mutex

// initEnvironment initializes the process-wide runtime once.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}

// Source runs one session with preallocated input and output tensors.
// Calls to Infer are serialized.
type Source struct {
	mu      sync.Mutex
	opts    Options
	session *ort.AdvancedSession
	input   *ort.Tensor[int32]
	output  *ort.Tensor[float32]
}

func Open(opts Options) (*Source, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	inName, outName, err := ioNames(opts)
	if err != nil {
		return nil, err
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(opts.MaxSeqLength)), make([]int32, opts.MaxSeqLength))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewTensor(ort.NewShape(1, int64(opts.VocabSize)), make([]float32, opts.VocabSize))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session options: %w", err)
	}
	defer options.Destroy()
	if opts.Threads > 0 {
		if err := options.SetIntraOpNumThreads(opts.Threads); err != nil {
			input.Destroy()
			output.Destroy()
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{inName}, []string{outName},
		[]ort.Value{input}, []ort.Value{output}, options)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session for %s: %w", opts.ModelPath, err)
	}

	return &Source{
		opts:    opts,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

func ioNames(opts Options) (string, string, error) {
	if opts.InputName != "" && opts.OutputName != "" {
		return opts.InputName, opts.OutputName, nil
	}
	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return "", "", fmt.Errorf("read model io info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return "", "", fmt.Errorf("model %s has %d inputs and %d outputs", opts.ModelPath, len(inputs), len(outputs))
	}
	inName, outName := opts.InputName, opts.OutputName
	if inName == "" {
		inName = inputs[0].Name
	}
	if outName == "" {
		outName = outputs[0].Name
	}
	return inName, outName, nil
}

// Infer writes window into the input tensor, runs the session and returns
// a copy of the output row.
func (s *Source) Infer(ctx context.Context, window []int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(window) != s.opts.MaxSeqLength {
		return nil, fmt.Errorf("onnx: window has %d tokens, model expects %d", len(window), s.opts.MaxSeqLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil, ErrClosed
	}

	in := s.input.GetData()
	for i, id := range window {
		in[i] = int32(id)
	}
	if err := s.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: run: %w", err)
	}
	return append([]float32(nil), s.output.GetData()...), nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return nil
	}
	var errs []error
	if err := s.session.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if err := s.input.Destroy(); err != nil {
		errs = append(errs, err)
	}
	if err := s.output.Destroy(); err != nil {
		errs = append(errs, err)
	}
	s.session = nil
	return errors.Join(errs...)
}
