// Package fetcher performs a single retrieval of one feed archive into the
// sink and classifies the result.
package fetcher

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	gtfshttp "github.com/lolpro11-org/gtfs-schema/internal/http"
)

// Store persists one archive per feed ID, replacing prior content.
type Store interface {
	Put(ctx context.Context, id string, r io.Reader, metadata map[string]string) (int64, error)
}

// Options configures a Fetcher.
type Options struct {
	// Headers holds extra request headers per feed ID.
	Headers feed.HeaderTable

	// RequestsPerSecond caps how fast requests are started across all
	// goroutines. 0 disables the limit.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 1
	Burst int

	// Logger receives per-feed progress. Default: logrus.StandardLogger()
	Logger logrus.FieldLogger
}

// Fetcher downloads feeds. It is safe for concurrent use.
type Fetcher struct {
	client  *gtfshttp.Client
	store   Store
	headers feed.HeaderTable
	limiter *rate.Limiter
	logger  logrus.FieldLogger
}

// New creates a Fetcher that downloads with client and writes to store.
func New(client *gtfshttp.Client, store Store, opts Options) *Fetcher {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Fetcher{
		client:  client,
		store:   store,
		headers: opts.Headers,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  opts.Logger,
	}
}

// Fetch makes exactly one attempt to retrieve d and store it under d.ID.
// On failure the stored object for d.ID is left untouched.
func (f *Fetcher) Fetch(ctx context.Context, d feed.Descriptor) Outcome {
	start := time.Now()
	out := f.fetch(ctx, d)
	out.Duration = time.Since(start)

	log := f.logger.WithFields(logrus.Fields{
		"feed_id":  d.ID,
		"url":      d.URL,
		"duration": out.Duration.Round(time.Millisecond).String(),
	})
	if out.OK() {
		log.WithField("bytes", out.Bytes).Info("Finished writing feed")
	} else {
		log.WithFields(logrus.Fields{
			"status":    out.Status.String(),
			"permanent": out.Permanent,
		}).WithError(out.Err).Warn("Error downloading feed")
	}
	return out
}

func (f *Fetcher) fetch(ctx context.Context, d feed.Descriptor) Outcome {
	if err := f.limiter.Wait(ctx); err != nil {
		return NewTransportFailure(d, err)
	}

	f.logger.WithField("feed_id", d.ID).Debug("Downloading feed")

	resp, err := f.client.Get(ctx, d.URL, f.headers.For(d.ID))
	if err != nil {
		return NewTransportFailure(d, err)
	}
	defer resp.Body.Close()

	if resp.ContentLength >= 0 {
		f.logger.WithFields(logrus.Fields{
			"feed_id":        d.ID,
			"content_length": resp.ContentLength,
		}).Debug("Feed response received")
	}

	body := &trackingReader{r: resp.Body}
	metadata := map[string]string{"source_url": d.URL}
	if resp.ETag != "" {
		metadata["source_etag"] = resp.ETag
	}

	n, err := f.store.Put(ctx, d.ID, body, metadata)
	if err != nil {
		// A broken body stream is a transport problem even though the
		// sink is what reported it.
		if body.err != nil {
			return NewTransportFailure(d, body.err)
		}
		return sinkFailure(d, err)
	}

	return Outcome{Feed: d, Status: StatusSuccess, Bytes: n}
}

// trackingReader remembers the first non-EOF read error of the response body.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF && t.err == nil {
		t.err = err
	}
	return n, err
}
