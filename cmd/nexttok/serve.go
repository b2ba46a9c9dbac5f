package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/nexttok/internal/logger"
	"github.com/samcharles93/nexttok/internal/source/remote"
	"github.com/samcharles93/nexttok/internal/vocab"
)

func serveCmd() *cli.Command {
	var (
		src         sourceFlags
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve a probability source over HTTP for --source=remote clients",
		Flags: commonFlags(append(src.flags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		)...),
		Action: withSetup(func(ctx context.Context, c *cli.Command, cfg Config) error {
			log := logger.FromContext(ctx)
			src.applyConfig(c, cfg)
			if src.kind == "remote" {
				return cli.Exit("error: serve needs a local source (toy or onnx)", 1)
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

			server, err := remote.NewServer(source, remote.Info{VocabSize: v.Size, MaxSeqLength: maxSeqLength})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", addr, "source", src.kind, "vocab_size", v.Size, "max_seq_length", maxSeqLength)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		}),
	}
}
