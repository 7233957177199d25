package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/lolpro11-org/gtfs-schema/internal/config"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
	"github.com/lolpro11-org/gtfs-schema/internal/harvester"
	gtfshttp "github.com/lolpro11-org/gtfs-schema/internal/http"
	"github.com/lolpro11-org/gtfs-schema/internal/ledger"
	"github.com/lolpro11-org/gtfs-schema/internal/metrics"
	"github.com/lolpro11-org/gtfs-schema/internal/notify"
	"github.com/lolpro11-org/gtfs-schema/internal/progress"
	"github.com/lolpro11-org/gtfs-schema/internal/sink"
)

// runFetch downloads every requested feed and retries the missing ones in
// rounds until the missing set converges.
func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)

	var common commonFlags
	common.register(fs)
	o := &common.override

	fs.IntVar(&o.Concurrency, "concurrency", 0, "Maximum fetches in flight (default 100)")
	fs.IntVar(&o.MaxRounds, "max-rounds", 0, "Stop after N rounds (default unbounded)")
	fs.BoolVar(&o.Force, "force", false, "Re-fetch feeds already in the sink")
	fs.DurationVar(&o.HTTP.Timeout, "timeout", 0, "Per-request timeout including the body (default 5m)")
	fs.Float64Var(&o.HTTP.RateLimit, "rate-limit", 0, "Maximum requests started per second (default unlimited)")
	fs.StringVar(&o.HTTP.UserAgent, "user-agent", "", "User-Agent header")
	fs.DurationVar(&o.Backoff.Initial, "backoff", 0, "Wait before the first retry round (default 5s; 0 keeps the configured value, see -no-backoff)")
	fs.DurationVar(&o.Backoff.Max, "max-backoff", 0, "Longest wait between rounds (default 2m)")
	noBackoff := fs.Bool("no-backoff", false, "Start retry rounds immediately, ignoring any configured backoff")
	fs.BoolVar(&o.Progress, "progress", false, "Show progress output")
	fs.StringVar(&o.ReportPath, "report", "", "Write a JSON report to this path")
	fs.StringVar(&o.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&o.Postgres.DSN, "postgres-dsn", "", "Record fetches in this Postgres database")
	kafkaBrokers := fs.String("kafka-brokers", "", "Comma-separated Kafka brokers for fetch events")
	fs.StringVar(&o.Kafka.Topic, "kafka-topic", "", "Kafka topic for fetch events")
	strict := fs.Bool("strict", false, "Exit with code 8 if any feed is still missing")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: gtfsfetch fetch [options]

Download every GTFS feed in the registry into the sink. Feeds that fail are
retried in further rounds until a round leaves the missing set unchanged.
Missing feeds are printed to stdout when the run ends.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}
	if *kafkaBrokers != "" {
		for _, b := range strings.Split(*kafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				o.Kafka.Brokers = append(o.Kafka.Brokers, b)
			}
		}
	}

	cfg, err := common.load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *noBackoff {
		cfg.Backoff = config.BackoffConfig{}
	}
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	code := fetchFeeds(ctx, cfg, logger)
	if code == ExitFeedsMissing && !*strict {
		return ExitSuccess
	}
	return code
}

// fetchFeeds runs the harvest. It returns ExitFeedsMissing when the run
// converged with feeds still missing.
func fetchFeeds(ctx context.Context, cfg config.Config, logger *logrus.Logger) int {
	requested, err := loadFeeds(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to load feeds")
		return ExitGeneralError
	}
	logger.WithField("feeds", len(requested)).Info("Loaded feed registry")
	if ids := cfg.Headers.Feeds(); len(ids) > 0 {
		logger.WithField("feeds", ids).Info("Using per-feed request headers")
	}

	s, err := openSink(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to open sink")
		return ExitStorageError
	}
	defer s.Close()

	observers, cleanup, err := buildObservers(ctx, cfg, s, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to set up observers")
		return ExitGeneralError
	}
	defer cleanup()

	client := gtfshttp.NewClient(gtfshttp.Options{
		MaxIdleConnsPerHost:   cfg.Concurrency,
		Timeout:               cfg.HTTP.Timeout,
		DialTimeout:           cfg.HTTP.DialTimeout,
		ResponseHeaderTimeout: cfg.HTTP.ResponseHeaderTimeout,
		UserAgent:             cfg.HTTP.UserAgent,
	})
	f := fetcher.New(client, s, fetcher.Options{
		Headers:           cfg.Headers,
		RequestsPerSecond: cfg.HTTP.RateLimit,
		Burst:             cfg.HTTP.Burst,
		Logger:            logger,
	})

	h := harvester.New(f, s, harvester.Options{
		Concurrency: cfg.Concurrency,
		MaxRounds:   cfg.MaxRounds,
		Force:       cfg.Force,
		Backoff: harvester.Backoff{
			Initial:    cfg.Backoff.Initial,
			Max:        cfg.Backoff.Max,
			Multiplier: cfg.Backoff.Multiplier,
			Jitter:     cfg.Backoff.Jitter,
		},
		Observers: observers,
		Logger:    logger,
	})

	report, runErr := h.Run(ctx, requested)

	if cfg.ReportPath != "" {
		if err := writeReport(cfg.ReportPath, report); err != nil {
			logger.WithError(err).Error("Failed to write report")
		}
	}
	printMissing(os.Stdout, report.Missing, report.Failures)

	if runErr != nil {
		if ctx.Err() != nil {
			logger.Warn("Harvest interrupted")
			return ExitGeneralError
		}
		logger.WithError(runErr).Error("Harvest aborted")
		return ExitStorageError
	}
	if !report.Complete() {
		return ExitFeedsMissing
	}
	return ExitSuccess
}

// buildObservers wires the optional progress, metrics, ledger and Kafka
// observers. cleanup releases whatever was started.
func buildObservers(ctx context.Context, cfg config.Config, s *sink.Sink, logger *logrus.Logger) ([]harvester.Observer, func(), error) {
	var (
		observers []harvester.Observer
		closers   []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Progress {
		reporter := progress.NewReporter(progress.Options{
			Concurrency:    cfg.Concurrency,
			UpdateInterval: 5 * time.Second,
		})
		reporter.Start()
		closers = append(closers, reporter.Stop)
		observers = append(observers, reporter)
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := metrics.New(reg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		srv, err := metrics.StartServer(cfg.MetricsAddr, reg, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
		observers = append(observers, m)
	}

	if cfg.Postgres.DSN != "" {
		db, err := ledger.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { db.Close() })
		l, err := ledger.New(ctx, db)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.WithField("run_id", l.RunID()).Info("Recording fetches in Postgres")
		observers = append(observers, l)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		n := notify.New(notify.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), s.Key, logger)
		closers = append(closers, func() {
			if err := n.Close(); err != nil {
				logger.WithError(err).Warn("Failed to flush fetch events")
			}
		})
		observers = append(observers, n)
	}

	return observers, cleanup, nil
}

func writeReport(path string, report *harvester.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
