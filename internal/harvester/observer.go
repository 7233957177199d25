package harvester

import (
	"context"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
)

// Observer is notified of harvest progress. FetchStarted and FetchFinished
// are called from concurrent goroutines.
type Observer interface {
	RoundStarted(ctx context.Context, round int, feeds []feed.Descriptor) error
	FetchStarted(ctx context.Context, round int, d feed.Descriptor) error
	FetchFinished(ctx context.Context, round int, o fetcher.Outcome) error
	Converged(ctx context.Context, r *Report) error
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// some of the methods.
type NopObserver struct{}

func (NopObserver) RoundStarted(context.Context, int, []feed.Descriptor) error { return nil }
func (NopObserver) FetchStarted(context.Context, int, feed.Descriptor) error { return nil }
func (NopObserver) FetchFinished(context.Context, int, fetcher.Outcome) error { return nil }
func (NopObserver) Converged(context.Context, *Report) error { return nil }
