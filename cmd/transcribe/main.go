// Command transcribe runs one job locally through the same runner the
// server uses and prints the response JSON.
//
//	transcribe [-out dir] [-id content_id] [-lang en] [-task transcribe] media...
//
// Media may be local paths, file:// or http(s) URLs.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/whisperd/internal/code"
	"github.com/kiranshivaraju/whisperd/internal/config"
	"github.com/kiranshivaraju/whisperd/internal/engine"
	"github.com/kiranshivaraju/whisperd/internal/engine/whispercpp"
	"github.com/kiranshivaraju/whisperd/internal/fetch"
	"github.com/kiranshivaraju/whisperd/internal/runner"
	"github.com/kiranshivaraju/whisperd/internal/status"
	"github.com/kiranshivaraju/whisperd/internal/upload"
)

type options struct {
	OutDir    string
	ContentID string
	Engine    engine.Options
	Inputs    []string
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		logger.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	engCfg, err := config.LoadEngine()
	if err != nil {
		logger.Error("load engine config", "error", err)
		os.Exit(1)
	}
	eng := whispercpp.New(whispercpp.Config{
		FFmpegPath:  engCfg.FFmpegBin,
		WhisperPath: engCfg.WhisperBin,
		ModelPath:   engCfg.ModelPath,
		Threads:     engCfg.Threads,
		Defaults:    engCfg.Defaults,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	resp := transcribe(ctx, eng, engCfg.Defaults, opts)
	if err := writeJSON(os.Stdout, resp); err != nil {
		logger.Error("write response", "error", err)
		os.Exit(1)
	}
	if resp.IsError() {
		os.Exit(1)
	}
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("transcribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.OutDir, "out", "exp/whisper", "output root for records and artifacts")
	fs.StringVar(&opts.ContentID, "id", "", "content id (generated when empty)")
	fs.StringVar(&opts.Engine.Lang, "lang", "", "language code, e.g. en")
	fs.StringVar(&opts.Engine.Task, "task", "", "transcribe, translate or all")
	fs.StringVar(&opts.Engine.Model, "model", "", "model name or ggml file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.Inputs = fs.Args()
	if len(opts.Inputs) == 0 {
		fs.Usage()
		return options{}, fmt.Errorf("at least one media path is required")
	}
	return opts, nil
}

func transcribe(ctx context.Context, eng engine.Engine, defaults engine.Options, opts options) code.Response {
	records := status.NewStore()
	r := runner.New(records, upload.NewCoordinator(records), eng, runner.Config{
		OutDir:   opts.OutDir,
		Defaults: defaults,
	}, runner.WithLogger(slog.Default()),
		runner.WithWebSource(fetch.NewHTTP(fetch.HTTPConfig{HeaderTimeout: 30 * time.Second})))

	return r.Run(ctx, runner.Input{
		Mode:      runner.ModeURI,
		ContentID: opts.ContentID,
		URIs:      opts.Inputs,
		Options:   opts.Engine,
	})
}

func writeJSON(w io.Writer, resp code.Response) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
