// Package scheduler runs one round of fetches with a fixed ceiling on how
// many are in flight.
package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
)

// DefaultLimit is the default number of concurrent fetches.
const DefaultLimit = 100

// FetchFunc fetches one feed. It must be safe for concurrent use and must
// always return an Outcome.
type FetchFunc func(ctx context.Context, d feed.Descriptor) fetcher.Outcome

// Scheduler admits fetches while fewer than its limit are running. It keeps
// no state between rounds.
type Scheduler struct {
	limit int
}

// New returns a Scheduler allowing limit concurrent fetches. A limit <= 0
// selects DefaultLimit.
func New(limit int) *Scheduler {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Scheduler{limit: limit}
}

// Limit returns the concurrency ceiling.
func (s *Scheduler) Limit() int {
	return s.limit
}

// RunRound fetches every descriptor and returns only after all of them have
// produced an Outcome. outcomes[i] belongs to descs[i].
//
// A failed fetch never stops the round. Once ctx is done, descriptors that
// have not been started are reported as transport failures carrying the
// context error.
func (s *Scheduler) RunRound(ctx context.Context, descs []feed.Descriptor, fetch FetchFunc) []fetcher.Outcome {
	outcomes := make([]fetcher.Outcome, len(descs))

	var g errgroup.Group
	g.SetLimit(s.limit)

	for i, d := range descs {
		i, d := i, d
		// Go blocks until a slot frees up.
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = fetcher.NewTransportFailure(d, err)
				return nil
			}
			outcomes[i] = fetch(ctx, d)
			return nil
		})
	}

	// Nothing returns an error; Wait is the drain barrier.
	_ = g.Wait()
	return outcomes
}
