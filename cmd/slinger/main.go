package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bamsammich/slinger/internal/checksum"
	"github.com/bamsammich/slinger/internal/config"
	"github.com/bamsammich/slinger/internal/engine"
	"github.com/bamsammich/slinger/internal/event"
	"github.com/bamsammich/slinger/internal/pipeline"
	"github.com/bamsammich/slinger/internal/stats"
	"github.com/bamsammich/slinger/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run())
}

// options holds the parsed command line.
type options struct {
	workers       int
	verifyWorkers int
	slots         int
	slotSize      string
	noVerify      bool
	overwrite     bool
	failFast      bool
	algorithm     string
	hashInline    bool
	bwLimit       string
	report        string
	contents      bool
	logFile       string
	verbose       bool
	quiet         bool
	noProgress    bool
	noColor       bool
	showVersion   bool
}

func run() int {
	var opts options

	rootCmd := &cobra.Command{
		Use:   "slinger [flags] <source> <destination>",
		Short: "Parallel tree copy with ring-buffered pipelines and checksum verification",
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				return nil
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showVersion {
				fmt.Fprintf(os.Stdout, "slinger %s\n", version)
				return nil
			}
			return copyTree(cmd, &opts, args[0], args[1])
		},
	}

	f := rootCmd.Flags()
	f.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	f.IntVarP(&opts.workers, "workers", "n", 0, "number of copy workers (default: NumCPU)")
	f.IntVar(&opts.verifyWorkers, "verify-workers", 0, "hashing workers per verify pool (default: --workers)")
	f.IntVar(&opts.slots, "slots", pipeline.DefaultSlots, "ring buffer slots per copy worker (at least 2)")
	f.StringVar(&opts.slotSize, "slot-size", "1M", "ring buffer slot size (e.g. 64K, 1M)")
	f.BoolVar(&opts.noVerify, "no-verify", false, "skip checksum verification after copy")
	f.BoolVar(&opts.overwrite, "overwrite", false, "replace existing destination files instead of skipping them")
	f.BoolVar(&opts.failFast, "fail-fast", false, "stop at the first failed file")
	f.StringVar(&opts.algorithm, "algorithm", string(checksum.Default), "checksum algorithm (blake3, xxhash, sha256, md5)")
	f.BoolVar(&opts.hashInline, "hash-inline", false, "hash sources while copying instead of re-reading them")
	f.StringVar(&opts.bwLimit, "bwlimit", "", "bandwidth limit per second (e.g. 100M, 1G)")
	f.StringVar(&opts.report, "report", "", "write a CSV checksum report to FILE")
	f.BoolVar(&opts.contents, "contents", false, "copy the entries of the source directory, not the directory itself")
	f.StringVar(&opts.logFile, "log", "", "write structured JSON log to FILE")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress all output except errors")
	f.BoolVar(&opts.noProgress, "no-progress", false, "disable progress display")
	f.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")

	rootCmd.AddCommand(docsCmd)

	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			return exitErr.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func copyTree(cmd *cobra.Command, opts *options, src, dst string) error {
	cfg, err := config.Load()
	if err != nil {
		slog.Warn("failed to load config", "path", config.Path(), "error", err)
	}
	applyConfigDefaults(cmd, cfg.Defaults, opts)

	engineCfg, err := buildEngineConfig(opts, src, dst)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogging(opts)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)
	engineCfg.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	events := make(chan event.Event, 256)
	engineCfg.Stats = collector
	engineCfg.Events = events

	presenterEvents := (<-chan event.Event)(events)
	if opts.logFile != "" {
		presenterEvents = teeEvents(logger, events)
	}

	presenter := ui.NewPresenter(ui.Config{
		Writer:     os.Stdout,
		ErrWriter:  os.Stderr,
		Stats:      collector,
		IsTTY:      ui.IsTTY(os.Stderr),
		Width:      ui.TermWidth(os.Stderr),
		Quiet:      opts.quiet,
		Verbose:    opts.verbose,
		NoProgress: opts.noProgress,
		NoColor:    opts.noColor,
	})

	logger.Debug("starting copy",
		"src", src,
		"dst", dst,
		"workers", engineCfg.Workers,
		"slots", engineCfg.Slots,
		"slot_size", engineCfg.SlotSize,
		"algorithm", engineCfg.Algorithm,
	)

	var presenterErr error
	var presenterWg sync.WaitGroup
	presenterWg.Add(1)
	go func() {
		defer presenterWg.Done()
		presenterErr = presenter.Run(presenterEvents)
	}()

	result := engine.Run(ctx, engineCfg)
	stop()
	close(events)
	presenterWg.Wait()
	if presenterErr != nil {
		fmt.Fprintf(os.Stderr, "presenter: %v\n", presenterErr)
	}

	if !opts.quiet {
		if summary := presenter.Summary(); summary != "" {
			fmt.Fprintln(os.Stderr, summary)
		}
	}
	printFailures(os.Stderr, result)

	if result.Err != nil {
		logger.Error("copy failed", "error", result.Err)
		return &exitError{code: exitCode(result)}
	}
	return nil
}

// buildEngineConfig turns parsed options into an engine configuration.
func buildEngineConfig(opts *options, src, dst string) (engine.Config, error) {
	alg, err := checksum.ParseAlgorithm(opts.algorithm)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid --algorithm: %w", err)
	}

	slotSize, err := config.ParseSize(opts.slotSize)
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid --slot-size: %w", err)
	}
	if slotSize < 1 {
		return engine.Config{}, fmt.Errorf("invalid --slot-size: %q must be at least 1 byte", opts.slotSize)
	}

	var bwLimit int64
	if opts.bwLimit != "" {
		bwLimit, err = config.ParseSize(opts.bwLimit)
		if err != nil {
			return engine.Config{}, fmt.Errorf("invalid --bwlimit: %w", err)
		}
	}

	workers := opts.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	return engine.Config{
		Src:           src,
		Dst:           dst,
		Workers:       workers,
		VerifyWorkers: opts.verifyWorkers,
		Slots:         opts.slots,
		SlotSize:      int(slotSize),
		Algorithm:     alg,
		HashInline:    opts.hashInline,
		SkipVerify:    opts.noVerify,
		Overwrite:     opts.overwrite,
		FailFast:      opts.failFast,
		Contents:      opts.contents,
		BWLimit:       bwLimit,
		Report:        opts.report,
	}, nil
}

// setupLogging builds the stderr text handler and, with --log, a rotating
// JSON file handler fanned out alongside it.
func setupLogging(opts *options) (*slog.Logger, func(), error) {
	logLevel := slog.LevelWarn
	if opts.verbose {
		logLevel = slog.LevelDebug
	} else if !opts.quiet {
		logLevel = slog.LevelInfo
	}
	textHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	if opts.logFile == "" {
		return slog.New(textHandler), func() {}, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.logFile,
		MaxSize:    50, // MB
		MaxBackups: 3,
	}
	// Fail early on an unwritable path rather than on the first record.
	if _, err := rotator.Write(nil); err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	jsonHandler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(ui.NewMultiHandler(textHandler, jsonHandler))
	return logger, func() { _ = rotator.Close() }, nil
}

// teeEvents writes a structured record per event before forwarding it.
func teeEvents(logger *slog.Logger, events <-chan event.Event) <-chan event.Event {
	teed := make(chan event.Event, 256)
	go func() {
		defer close(teed)
		for ev := range events {
			attrs := []slog.Attr{
				slog.String("type", ev.Type.String()),
				slog.Int("index", ev.Index),
				slog.String("path", ev.Path),
				slog.Int64("size", ev.Size),
				slog.Int("worker", ev.WorkerID),
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			logger.LogAttrs(context.Background(), slog.LevelDebug, "slinger.event", attrs...)
			teed <- ev
		}
	}()
	return teed
}

func printFailures(w io.Writer, result engine.Result) {
	if result.Attempted == 0 && len(result.Failures) == 0 {
		return
	}
	fmt.Fprintf(w, "attempted %d  succeeded %d  failed %d\n",
		result.Attempted, result.Succeeded, len(result.Failures))
	for _, f := range result.Failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

// exitCode maps a failed run to 1 (partial failure) or 2 (nothing copied).
func exitCode(result engine.Result) int {
	if result.Succeeded > 0 {
		return 1
	}
	return 2
}

// applyConfigDefaults applies config file defaults for flags not explicitly set on the CLI.
func applyConfigDefaults(cmd *cobra.Command, defaults config.DefaultsConfig, opts *options) {
	changed := cmd.Flags().Changed
	setInt := func(flag string, dst *int, v *int) {
		if !changed(flag) && v != nil {
			*dst = *v
		}
	}
	setBool := func(flag string, dst *bool, v *bool) {
		if !changed(flag) && v != nil {
			*dst = *v
		}
	}
	setString := func(flag string, dst *string, v *string) {
		if !changed(flag) && v != nil {
			*dst = *v
		}
	}

	setInt("workers", &opts.workers, defaults.Workers)
	setInt("verify-workers", &opts.verifyWorkers, defaults.VerifyWorkers)
	setInt("slots", &opts.slots, defaults.Slots)
	setString("slot-size", &opts.slotSize, defaults.SlotSize)
	setString("algorithm", &opts.algorithm, defaults.Algorithm)
	setString("bwlimit", &opts.bwLimit, defaults.BWLimit)
	setBool("hash-inline", &opts.hashInline, defaults.HashInline)
	setBool("overwrite", &opts.overwrite, defaults.Overwrite)
	setBool("fail-fast", &opts.failFast, defaults.FailFast)
	setBool("contents", &opts.contents, defaults.Contents)
	if !changed("no-verify") && defaults.Verify != nil {
		opts.noVerify = !*defaults.Verify
	}
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
