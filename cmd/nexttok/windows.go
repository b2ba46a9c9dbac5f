package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttok/internal/dataset"
	"github.com/samcharles93/nexttok/internal/logger"
	"github.com/samcharles93/nexttok/internal/vocab"
	"github.com/samcharles93/nexttok/internal/window"
)

func windowsCmd() *cli.Command {
	var (
		inPath       string
		outPath      string
		promptLength int
		normalize    bool
		denseLabels  bool
		noProgress   bool
	)

	return &cli.Command{
		Name:  "windows",
		Usage: "Build next-token training examples from a token corpus",
		Flags: commonFlags(
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "token corpus (.jsonl or .ntok)",
				Required:    true,
				Destination: &inPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output file (.ntex binary or .jsonl); defaults to $" + envOutDir + "/<in>.ntex",
				Destination: &outPath,
			},
			&cli.IntFlag{
				Name:        "prompt-length",
				Usage:       "prompt size for samples without a boundary token",
				Value:       1,
				Destination: &promptLength,
			},
			&cli.BoolFlag{
				Name:        "normalize",
				Usage:       "pad or truncate each sample to max-seq-length before windowing",
				Destination: &normalize,
			},
			&cli.BoolFlag{
				Name:        "dense-labels",
				Usage:       "include one-hot label vectors in JSONL output",
				Destination: &denseLabels,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noProgress,
			},
		),
		Action: withSetup(func(ctx context.Context, c *cli.Command, cfg Config) error {
			log := logger.FromContext(ctx)
			if cfg.PromptLength != nil && !c.IsSet("prompt-length") {
				promptLength = *cfg.PromptLength
			}

			opts := window.Options{
				Vocab: vocab.Vocabulary{
					Size:            vocabSize,
					PadTokenID:      padTokenID,
					BoundaryTokenID: boundaryTokenID,
				},
				MaxSeqLength: maxSeqLength,
				PromptLength: promptLength,
				Normalize:    normalize,
			}
			if err := opts.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			out, defaulted, err := resolveOut(inPath, outPath, ".ntex", cfg.OutDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve output: %v", err), 1)
			}
			if defaulted {
				log.Info("writing to default output", "path", out)
			}

			start := time.Now()
			corpus, err := dataset.LoadCorpus(inPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load corpus: %v", err), 1)
			}
			log.Info("loaded corpus", "path", inPath, "samples", len(corpus), "expected_examples", window.CountCorpus(corpus, opts))

			copts := window.CorpusOptions{Options: opts, Workers: workers}
			if !noProgress {
				bar := progressbar.NewOptions(len(corpus),
					progressbar.OptionSetDescription("Windowing"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionSetWidth(40),
					progressbar.OptionShowCount(),
					progressbar.OptionShowIts(),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "=",
						SaucerHead:    ">",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
				)
				defer func() { _ = bar.Finish() }()
				copts.Progress = func(n int) { _ = bar.Add(n) }
			}

			examples, err := window.BuildCorpus(ctx, corpus, copts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: build examples: %v", err), 1)
			}

			if err := writeExamples(out, examples, opts, denseLabels); err != nil {
				return cli.Exit(fmt.Sprintf("error: write %s: %v", out, err), 1)
			}
			log.Info("wrote examples",
				"path", out,
				"examples", len(examples),
				"elapsed", time.Since(start),
			)
			return nil
		}),
	}
}

func writeExamples(path string, examples []window.Example, opts window.Options, dense bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if dataset.FormatFor(path) == dataset.FormatJSONL {
		enc := dataset.NewExampleEncoder(f, dense)
		for i, ex := range examples {
			if err := enc.Encode(ex); err != nil {
				return fmt.Errorf("example %d: %w", i, err)
			}
		}
		return nil
	}

	w, err := dataset.NewExampleWriter(f, opts.MaxSeqLength, opts.Vocab.Size)
	if err != nil {
		return err
	}
	if err := w.WriteAll(examples); err != nil {
		return err
	}
	return w.Close()
}
