package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/lolpro11-org/gtfs-schema/internal/harvester"
)

// runMissing lists registry feeds that are not in the sink, without
// fetching anything.
func runMissing(args []string) int {
	fs := flag.NewFlagSet("missing", flag.ContinueOnError)

	var common commonFlags
	common.register(fs)
	strict := fs.Bool("strict", false, "Exit with code 8 if any feed is missing")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: gtfsfetch missing [options]

List the registry feeds that have no archive in the sink.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	requested, err := loadFeeds(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to load feeds")
		return ExitGeneralError
	}

	s, err := openSink(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to open sink")
		return ExitStorageError
	}
	defer s.Close()

	missing, err := harvester.New(nil, s, harvester.Options{Logger: logger}).Missing(ctx, requested)
	if err != nil {
		logger.WithError(err).Error("Failed to list sink")
		return ExitStorageError
	}

	printMissing(os.Stdout, missing, nil)
	if *strict && len(missing) > 0 {
		return ExitFeedsMissing
	}
	return ExitSuccess
}
