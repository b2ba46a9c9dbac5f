package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttok/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "nexttok",
		Usage: "Next-token training data and autoregressive decoding",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			windowsCmd(),
			packCmd(),
			generateCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withSetup loads the config file, applies it to the shared flags and
// installs the logger in ctx before running action.
func withSetup(action func(context.Context, *cli.Command, Config) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg, err := LoadConfig(configFile)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: load config: %v", err), 1)
		}
		applyCommonConfig(c, cfg)

		level := logger.ParseLevel(logLevel)
		if debug {
			level = logger.ParseLevel("debug")
		}
		log, err := logger.ForFormat(os.Stderr, logFormat, level)
		if err != nil {
			return cli.Exit(fmt.Sprintf("error: %v", err), 1)
		}
		return action(logger.WithContext(ctx, log), c, cfg)
	}
}
