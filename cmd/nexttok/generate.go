package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttok/internal/dataset"
	"github.com/samcharles93/nexttok/internal/inference"
	"github.com/samcharles93/nexttok/internal/logger"
	"github.com/samcharles93/nexttok/internal/source/onnx"
	"github.com/samcharles93/nexttok/internal/source/remote"
	"github.com/samcharles93/nexttok/internal/source/toy"
	"github.com/samcharles93/nexttok/internal/vocab"
)

// sourceFlags selects and configures the probability source.
type sourceFlags struct {
	kind        string
	modelPath   string
	onnxLibrary string
	remoteURL   string
	threads     int

	toyHidden  int
	toySeed    int64
	toyPadBias float64
}

func (s *sourceFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "source",
			Usage:       "probability source (toy, onnx, remote)",
			Value:       "toy",
			Destination: &s.kind,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "ONNX model path (source=onnx)",
			Destination: &s.modelPath,
		},
		&cli.StringFlag{
			Name:        "onnx-library",
			Usage:       "onnxruntime shared library path",
			Sources:     cli.EnvVars("ONNXRUNTIME_LIB"),
			Destination: &s.onnxLibrary,
		},
		&cli.StringFlag{
			Name:        "url",
			Usage:       "inference server base URL (source=remote)",
			Sources:     cli.EnvVars("NEXTTOK_REMOTE_URL"),
			Destination: &s.remoteURL,
		},
		&cli.IntFlag{
			Name:        "threads",
			Usage:       "ONNX intra-op threads (0 = runtime default)",
			Destination: &s.threads,
		},
		&cli.IntFlag{
			Name:        "toy-hidden",
			Usage:       "hidden size of the toy model",
			Value:       16,
			Destination: &s.toyHidden,
		},
		&cli.Int64Flag{
			Name:        "toy-seed",
			Usage:       "weight seed of the toy model",
			Value:       1,
			Destination: &s.toySeed,
		},
		&cli.Float64Flag{
			Name:        "toy-pad-bias",
			Usage:       "logit bias added to the pad token of the toy model",
			Destination: &s.toyPadBias,
		},
	}
}

func (s *sourceFlags) applyConfig(c *cli.Command, cfg Config) {
	if cfg.Source != "" && !c.IsSet("source") {
		s.kind = cfg.Source
	}
	if cfg.ModelPath != "" && !c.IsSet("model") {
		s.modelPath = cfg.ModelPath
	}
	if cfg.ONNXLibrary != "" && !c.IsSet("onnx-library") {
		s.onnxLibrary = cfg.ONNXLibrary
	}
	if cfg.RemoteURL != "" && !c.IsSet("url") {
		s.remoteURL = cfg.RemoteURL
	}
}

// open builds the configured source. The returned close func is never nil.
func (s *sourceFlags) open(ctx context.Context, v vocab.Vocabulary, seqLen int) (inference.ProbabilitySource, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(s.kind)) {
	case "", "toy":
		m, err := toy.New(v.Size, s.toyHidden, v.PadTokenID, s.toySeed, float32(s.toyPadBias))
		if err != nil {
			return nil, noop, err
		}
		return m, noop, nil
	case "onnx":
		src, err := onnx.Open(onnx.Options{
			ModelPath:    s.modelPath,
			LibraryPath:  s.onnxLibrary,
			MaxSeqLength: seqLen,
			VocabSize:    v.Size,
			Threads:      s.threads,
		})
		if err != nil {
			return nil, noop, err
		}
		return src, src.Close, nil
	case "remote":
		client, err := remote.New(s.remoteURL, nil)
		if err != nil {
			return nil, noop, err
		}
		if err := client.CheckShape(ctx, v.Size, seqLen); err != nil {
			return nil, noop, err
		}
		return client, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown source %q (want toy, onnx or remote)", s.kind)
	}
}

// samplingFlags holds the per-request overrides. Only flags that were set
// on the command line override the configured defaults.
type samplingFlags struct {
	maxNew      int
	temperature float64
	topK        int
	topP        float64
	repPenalty  float64
	presence    float64
	frequency   float64
	doSample    bool
	seed        int64
}

func (s *samplingFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{Name: "max-new-tokens", Aliases: []string{"n"}, Usage: "maximum tokens to generate (default: until max-seq-length)", Destination: &s.maxNew},
		&cli.Float64Flag{Name: "temperature", Aliases: []string{"temp"}, Usage: "sampling temperature", Destination: &s.temperature},
		&cli.IntFlag{Name: "top-k", Usage: "keep the k most likely tokens", Destination: &s.topK},
		&cli.Float64Flag{Name: "top-p", Usage: "nucleus sampling mass", Destination: &s.topP},
		&cli.Float64Flag{Name: "repetition-penalty", Usage: "divide logits of seen tokens by this value", Destination: &s.repPenalty},
		&cli.Float64Flag{Name: "presence-penalty", Usage: "subtract from logits of seen tokens", Destination: &s.presence},
		&cli.Float64Flag{Name: "frequency-penalty", Usage: "subtract per occurrence from logits of seen tokens", Destination: &s.frequency},
		&cli.BoolFlag{Name: "sample", Usage: "sample instead of greedy decoding", Destination: &s.doSample},
		&cli.Int64Flag{Name: "seed", Usage: "sampling seed", Destination: &s.seed},
	}
}

func (s *samplingFlags) options(c *cli.Command) inference.RequestOptions {
	var opts inference.RequestOptions
	if c.IsSet("max-new-tokens") {
		opts.MaxNewTokens = &s.maxNew
	}
	if c.IsSet("temperature") {
		opts.Temperature = &s.temperature
	}
	if c.IsSet("top-k") {
		opts.TopK = &s.topK
	}
	if c.IsSet("top-p") {
		opts.TopP = &s.topP
	}
	if c.IsSet("repetition-penalty") {
		opts.RepetitionPenalty = &s.repPenalty
	}
	if c.IsSet("presence-penalty") {
		opts.PresencePenalty = &s.presence
	}
	if c.IsSet("frequency-penalty") {
		opts.FrequencyPenalty = &s.frequency
	}
	if c.IsSet("sample") {
		opts.DoSample = &s.doSample
	}
	if c.IsSet("seed") {
		opts.Seed = &s.seed
	}
	return opts
}

// resultRecord is one line of generate output.
type resultRecord struct {
	RequestID  string  `json:"request_id"`
	Prompt     []int   `json:"prompt"`
	Generated  []int   `json:"generated"`
	StopReason string  `json:"stop_reason"`
	Steps      int     `json:"steps"`
	Degenerate int     `json:"degenerate,omitempty"`
	DurationMS float64 `json:"duration_ms"`
	TPS        float64 `json:"tps"`
	Error      string  `json:"error,omitempty"`
}

func newResultRecord(prompt []int, res *inference.Result) resultRecord {
	return resultRecord{
		RequestID:  res.RequestID,
		Prompt:     prompt,
		Generated:  res.Generated,
		StopReason: res.Reason.String(),
		Steps:      res.Stats.Steps,
		Degenerate: res.Stats.Degenerate,
		DurationMS: float64(res.Stats.Duration.Microseconds()) / 1000,
		TPS:        res.Stats.TPS,
	}
}

func errorRecord(prompt []int, err error) resultRecord {
	rec := resultRecord{Prompt: prompt, Error: err.Error()}
	var se *inference.StepError
	if errors.As(err, &se) {
		rec.Generated = se.Generated
		rec.Steps = se.Step
	}
	return rec
}

func generateCmd() *cli.Command {
	var (
		src       sourceFlags
		sampling  samplingFlags
		promptStr string
		promptsIn string
		outPath   string
	)

	return &cli.Command{
		Name:  "generate",
		Usage: "Decode token ids autoregressively from a prompt",
		Flags: commonFlags(append(src.flags(), append(sampling.flags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt token ids, comma separated",
				Destination: &promptStr,
			},
			&cli.StringFlag{
				Name:        "prompts",
				Usage:       "JSONL file of prompts for batch decoding",
				Destination: &promptsIn,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write JSON lines here instead of stdout",
				Destination: &outPath,
			},
		)...)...),
		Action: withSetup(func(ctx context.Context, c *cli.Command, cfg Config) error {
			log := logger.FromContext(ctx)
			src.applyConfig(c, cfg)

			prompts, err := loadPrompts(promptStr, promptsIn)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			v := vocab.Vocabulary{Size: vocabSize, PadTokenID: padTokenID, BoundaryTokenID: boundaryTokenID}
			if err := v.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			source, closeSource, err := src.open(ctx, v, maxSeqLength)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open %s source: %v", src.kind, err), 1)
			}
			defer func() {
				if err := closeSource(); err != nil {
					log.Warn("close source", "error", err)
				}
			}()

			var w io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: create %s: %v", outPath, err), 1)
				}
				defer f.Close()
				w = f
			}

			g := &inference.Generator{
				Source:       source,
				Vocab:        v,
				MaxSeqLength: maxSeqLength,
			}
			reqs := buildRequests(prompts, sampling.options(c), genDefaults(cfg))
			log.Debug("decoding", "source", src.kind, "requests", len(reqs), "workers", workers)

			items, runErr := decode(ctx, g, reqs, workers)
			enc := json.NewEncoder(w)
			for _, rec := range batchRecords(reqs, items) {
				if err := enc.Encode(rec); err != nil {
					return cli.Exit(fmt.Sprintf("error: write result: %v", err), 1)
				}
			}
			if runErr != nil {
				return cli.Exit(fmt.Sprintf("error: generate: %v", runErr), 1)
			}
			return nil
		}),
	}
}

func decode(ctx context.Context, g *inference.Generator, reqs []inference.Request, workers int) ([]inference.BatchItem, error) {
	if len(reqs) == 1 {
		res, err := g.Generate(ctx, reqs[0].Prompt, reqs[0].Sampling, reqs[0].MaxNewTokens)
		return []inference.BatchItem{{Result: res, Err: err}}, err
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return g.GenerateBatch(ctx, reqs, workers)
}

// batchRecords builds one output record per request, each carrying its
// own result or error.
func batchRecords(reqs []inference.Request, items []inference.BatchItem) []resultRecord {
	recs := make([]resultRecord, 0, len(items))
	for i, it := range items {
		if it.Err != nil {
			recs = append(recs, errorRecord(reqs[i].Prompt, it.Err))
			continue
		}
		recs = append(recs, newResultRecord(reqs[i].Prompt, it.Result))
	}
	return recs
}

// buildRequests resolves one request per prompt. Sampling seeds are offset
// by the prompt index so batch requests do not share a random stream.
func buildRequests(prompts [][]int, opts inference.RequestOptions, defaults inference.GenDefaults) []inference.Request {
	reqs := make([]inference.Request, len(prompts))
	for i, p := range prompts {
		o := opts
		o.Prompt = p
		req := inference.ResolveRequest(o, defaults)
		req.Sampling.Seed += int64(i)
		reqs[i] = req
	}
	return reqs
}

func loadPrompts(promptStr, promptsPath string) ([][]int, error) {
	switch {
	case promptStr != "" && promptsPath != "":
		return nil, errors.New("--prompt and --prompts are mutually exclusive")
	case promptsPath != "":
		prompts, err := dataset.LoadCorpus(promptsPath)
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		if len(prompts) == 0 {
			return nil, fmt.Errorf("%s contains no prompts", promptsPath)
		}
		return prompts, nil
	case promptStr != "":
		ids, err := parseIDs(promptStr)
		if err != nil {
			return nil, err
		}
		return [][]int{ids}, nil
	default:
		return nil, errors.New("one of --prompt or --prompts is required")
	}
}
