package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttok/internal/dataset"
	"github.com/samcharles93/nexttok/internal/logger"
	"github.com/samcharles93/nexttok/internal/vocab"
	"github.com/samcharles93/nexttok/internal/window"
)

func packCmd() *cli.Command {
	var (
		inPath  string
		outPath string
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a JSONL token corpus into a fixed-length .ntok file",
		Flags: commonFlags(
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "JSONL corpus, one sample per line",
				Required:    true,
				Destination: &inPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .ntok file; defaults to $" + envOutDir + "/<in>.ntok",
				Destination: &outPath,
			},
		),
		Action: withSetup(func(ctx context.Context, c *cli.Command, cfg Config) error {
			log := logger.FromContext(ctx)
			v := vocab.Vocabulary{Size: vocabSize, PadTokenID: padTokenID, BoundaryTokenID: boundaryTokenID}
			if err := v.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if maxSeqLength <= 0 {
				return cli.Exit("error: --max-seq-length must be positive", 1)
			}

			out, _, err := resolveOut(inPath, outPath, ".ntok", cfg.OutDir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: resolve output: %v", err), 1)
			}
			corpus, err := dataset.LoadCorpus(inPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load corpus: %v", err), 1)
			}

			n, err := packCorpus(out, corpus, v, maxSeqLength)
			if err != nil {
				_ = os.Remove(out)
				return cli.Exit(fmt.Sprintf("error: pack %s: %v", out, err), 1)
			}
			log.Info("packed corpus", "path", out, "samples", n, "sample_len", maxSeqLength)
			return nil
		}),
	}
}

func packCorpus(path string, corpus [][]int, v vocab.Vocabulary, sampleLen int) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w, err := dataset.NewTokenWriter(f, sampleLen)
	if err != nil {
		return 0, err
	}
	for i, sample := range corpus {
		if err := v.CheckTokens(sample); err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
		if err := w.Write(window.Normalize(sample, sampleLen, v.PadTokenID)); err != nil {
			return 0, fmt.Errorf("sample %d: %w", i, err)
		}
	}
	if err := w.Finalise(); err != nil {
		return 0, err
	}
	return w.Count(), nil
}
