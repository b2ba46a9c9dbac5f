package main

import "github.com/urfave/cli/v3"

var (
	configFile      string
	vocabSize       int
	padTokenID      int
	boundaryTokenID int
	maxSeqLength    int
	workers         int
	logLevel        string
	logFormat       string
	debug           bool
)

func vocabFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
		&cli.IntFlag{
			Name:        "vocab-size",
			Aliases:     []string{"V"},
			Usage:       "vocabulary size",
			Destination: &vocabSize,
		},
		&cli.IntFlag{
			Name:        "pad-id",
			Usage:       "padding / end-of-sequence token id",
			Value:       0,
			Destination: &padTokenID,
		},
		&cli.IntFlag{
			Name:        "boundary-id",
			Usage:       "prompt/response boundary token id",
			Value:       1,
			Destination: &boundaryTokenID,
		},
		&cli.IntFlag{
			Name:        "max-seq-length",
			Aliases:     []string{"L"},
			Usage:       "model window length",
			Value:       128,
			Destination: &maxSeqLength,
		},
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"j"},
			Usage:       "concurrent workers (0 = GOMAXPROCS)",
			Destination: &workers,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func commonFlags(extra ...cli.Flag) []cli.Flag {
	flags := append(vocabFlags(), loggingFlags()...)
	return append(flags, extra...)
}
