package harvester

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
	"github.com/lolpro11-org/gtfs-schema/internal/scheduler"
	"github.com/lolpro11-org/gtfs-schema/internal/tracker"
)

// State is a phase of the convergence loop.
type State int

const (
	StateStart State = iota
	StateRoundPending
	StateRoundDraining
	StateReconciling
	StateConverged
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRoundPending:
		return "round_pending"
	case StateRoundDraining:
		return "round_draining"
	case StateReconciling:
		return "reconciling"
	case StateConverged:
		return "converged"
	default:
		return "unknown"
	}
}

// Fetcher makes one attempt at one feed.
type Fetcher interface {
	Fetch(ctx context.Context, d feed.Descriptor) fetcher.Outcome
}

// Snapshotter lists the feed IDs currently stored in the sink.
type Snapshotter interface {
	IDs(ctx context.Context) ([]string, error)
}

// Backoff configures the delay before each round after the first.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoff returns the default inter-round backoff.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    5 * time.Second,
		Max:        2 * time.Minute,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Delay returns the wait before the given retry round (1 for the first retry).
// A zero Initial disables waiting. A zero Max caps at DefaultBackoff().Max.
func (b Backoff) Delay(retry int) time.Duration {
	if b.Initial <= 0 || retry < 1 {
		return 0
	}
	ceiling := b.Max
	if ceiling <= 0 {
		ceiling = DefaultBackoff().Max
	}
	if ceiling < b.Initial {
		ceiling = b.Initial
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(b.Initial) * math.Pow(mult, float64(retry-1))
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	// d may be far beyond what a Duration can hold; never convert it then.
	if math.IsNaN(d) || d >= float64(ceiling) {
		return ceiling
	}
	if d < 0 {
		return b.Initial
	}
	return time.Duration(d)
}

// Options configures a Harvester.
type Options struct {
	// Concurrency is the number of fetches in flight per round.
	// Default: scheduler.DefaultLimit
	Concurrency int

	// MaxRounds stops the run after this many rounds. 0 means no limit.
	MaxRounds int

	// Force re-fetches feeds already present in the sink in the first round.
	Force bool

	// Backoff delays rounds after the first.
	Backoff Backoff

	// Observers are notified of progress.
	Observers []Observer

	// Logger defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

// Harvester runs the convergence loop.
type Harvester struct {
	fetcher   Fetcher
	snapshot  Snapshotter
	scheduler *scheduler.Scheduler
	opts      Options
	logger    logrus.FieldLogger
}

// New creates a Harvester fetching with f and reading completion from snap.
func New(f Fetcher, snap Snapshotter, opts Options) *Harvester {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Harvester{
		fetcher:   f,
		snapshot:  snap,
		scheduler: scheduler.New(opts.Concurrency),
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Missing returns the requested feeds not currently in the sink.
func (h *Harvester) Missing(ctx context.Context, requested []feed.Descriptor) ([]feed.Descriptor, error) {
	stored, err := h.snapshot.IDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sink: %w", err)
	}
	return tracker.Missing(requested, stored), nil
}

// Run fetches requested feeds in rounds until the missing set converges.
//
// A non-nil error means the run could not continue: the sink could not be
// listed or ctx was cancelled. The report is returned either way and
// describes the rounds that did run.
func (h *Harvester) Run(ctx context.Context, requested []feed.Descriptor) (*Report, error) {
	requested, dropped := feed.Dedupe(requested)
	for _, d := range dropped {
		h.logger.WithFields(logrus.Fields{"feed_id": d.ID, "url": d.URL}).Warn("Ignoring duplicate feed id")
	}

	report := &Report{
		Requested: len(requested),
		Failures:  make(map[string]string),
		StartedAt: time.Now(),
	}
	h.transition(StateStart, 0, len(requested))

	// Last failure per feed; cleared on success.
	lastErr := make(map[string]error)
	permanent := make(map[string]bool)

	var missing []feed.Descriptor
	if h.opts.Force {
		missing = tracker.Missing(requested, nil)
	} else {
		var err error
		missing, err = h.Missing(ctx, requested)
		if err != nil {
			return h.finish(ctx, report, requested, abortReason(ctx), lastErr), err
		}
	}

	if len(missing) == 0 {
		return h.finish(ctx, report, missing, ReasonComplete, lastErr), nil
	}

	for round := 1; ; round++ {
		h.transition(StateRoundPending, round, len(missing))

		attempt := make([]feed.Descriptor, 0, len(missing))
		for _, d := range missing {
			if !permanent[d.ID] {
				attempt = append(attempt, d)
			}
		}
		if len(attempt) == 0 {
			return h.finish(ctx, report, missing, ReasonPermanent, lastErr), nil
		}
		if h.opts.MaxRounds > 0 && round > h.opts.MaxRounds {
			return h.finish(ctx, report, missing, ReasonMaxRounds, lastErr), nil
		}

		if delay := h.opts.Backoff.Delay(round - 1); delay > 0 {
			h.logger.WithFields(logrus.Fields{"round": round, "delay": delay.String()}).Info("Waiting before next round")
			select {
			case <-ctx.Done():
				return h.finish(ctx, report, missing, ReasonCancelled, lastErr), ctx.Err()
			case <-time.After(delay):
			}
		}

		h.notify(func(o Observer) error { return o.RoundStarted(ctx, round, attempt) })
		h.transition(StateRoundDraining, round, len(attempt))

		start := time.Now()
		outcomes := h.scheduler.RunRound(ctx, attempt, func(ctx context.Context, d feed.Descriptor) fetcher.Outcome {
			h.notify(func(o Observer) error { return o.FetchStarted(ctx, round, d) })
			out := h.fetcher.Fetch(ctx, d)
			h.notify(func(o Observer) error { return o.FetchFinished(ctx, round, out) })
			return out
		})

		stats := RoundStats{
			Round:         round,
			Attempted:     len(attempt),
			MissingBefore: len(missing),
			Duration:      time.Since(start),
		}
		for _, o := range outcomes {
			if o.OK() {
				stats.Succeeded++
				stats.Bytes += o.Bytes
				delete(lastErr, o.Feed.ID)
				delete(permanent, o.Feed.ID)
				continue
			}
			stats.Failed++
			lastErr[o.Feed.ID] = o.Err
			if o.Permanent {
				stats.Permanent++
				permanent[o.Feed.ID] = true
			}
		}

		if err := ctx.Err(); err != nil {
			stats.MissingAfter = len(missing)
			report.Rounds = append(report.Rounds, stats)
			return h.finish(ctx, report, missing, ReasonCancelled, lastErr), err
		}

		h.transition(StateReconciling, round, len(missing))
		next, err := h.Missing(ctx, requested)
		if err != nil {
			stats.MissingAfter = len(missing)
			report.Rounds = append(report.Rounds, stats)
			return h.finish(ctx, report, missing, abortReason(ctx), lastErr), err
		}
		stats.MissingAfter = len(next)
		report.Rounds = append(report.Rounds, stats)

		h.logger.WithFields(logrus.Fields{
			"round":     round,
			"attempted": stats.Attempted,
			"succeeded": stats.Succeeded,
			"failed":    stats.Failed,
			"missing":   len(next),
			"duration":  stats.Duration.Round(time.Millisecond).String(),
		}).Info("Round finished")

		if len(next) == 0 {
			return h.finish(ctx, report, next, ReasonComplete, lastErr), nil
		}
		if tracker.Equal(next, missing) {
			return h.finish(ctx, report, next, ReasonPlateau, lastErr), nil
		}
		missing = next
	}
}

func (h *Harvester) finish(ctx context.Context, report *Report, missing []feed.Descriptor, reason Reason, lastErr map[string]error) *Report {
	if missing == nil {
		missing = []feed.Descriptor{}
	}
	report.Missing = missing
	report.Reason = reason
	report.FinishedAt = time.Now()
	for _, d := range missing {
		if err, ok := lastErr[d.ID]; ok {
			report.Failures[d.ID] = err.Error()
		}
	}

	h.transition(StateConverged, len(report.Rounds), len(missing))
	h.logger.WithFields(logrus.Fields{
		"reason":    string(reason),
		"rounds":    len(report.Rounds),
		"requested": report.Requested,
		"missing":   len(missing),
	}).Info("Harvest converged")

	// Observers still get the report when ctx is already done.
	h.notify(func(o Observer) error { return o.Converged(context.WithoutCancel(ctx), report) })
	return report
}

func abortReason(ctx context.Context) Reason {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return ReasonAborted
}

func (h *Harvester) transition(s State, round, feeds int) {
	h.logger.WithFields(logrus.Fields{
		"state": s.String(),
		"round": round,
		"feeds": feeds,
	}).Debug("Harvest state")
}

func (h *Harvester) notify(fn func(Observer) error) {
	for _, o := range h.opts.Observers {
		if err := fn(o); err != nil {
			h.logger.WithError(err).Warn("Observer failed")
		}
	}
}
