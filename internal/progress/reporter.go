package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
	"github.com/lolpro11-org/gtfs-schema/internal/harvester"
)

// Options configures the progress reporter.
type Options struct {
	// Concurrency is the per-round fetch limit (for display).
	Concurrency int

	// Output is where to write progress output.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu         sync.Mutex
	round      atomic.Int32
	roundFeeds atomic.Int32
	done       atomic.Int32
	failed     atomic.Int32
	inProgress atomic.Int32
	bytes      atomic.Int64
	startTime  time.Time
	lastUpdate time.Time
	lastBytes  int64
	stopCh     chan struct{}
	exited     chan struct{}
	started    bool
	stopped    bool
}

var _ harvester.Observer = (*Reporter)(nil)

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime

	go r.updateLoop()
}

// Stop stops the progress reporter and waits for the display loop to exit.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.exited
}

// RoundStarted resets the per-round counters.
func (r *Reporter) RoundStarted(ctx context.Context, round int, feeds []feed.Descriptor) error {
	r.round.Store(int32(round))
	r.roundFeeds.Store(int32(len(feeds)))
	r.done.Store(0)
	r.failed.Store(0)

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, "[gtfsfetch] Round %d: %d feeds | Concurrency: %d\n",
		round, len(feeds), r.opts.Concurrency)
	return nil
}

// FetchStarted marks a feed as in flight.
func (r *Reporter) FetchStarted(ctx context.Context, round int, d feed.Descriptor) error {
	r.inProgress.Add(1)
	return nil
}

// FetchFinished records the outcome of one attempt.
func (r *Reporter) FetchFinished(ctx context.Context, round int, o fetcher.Outcome) error {
	r.inProgress.Add(-1)
	r.done.Add(1)
	if !o.OK() {
		r.failed.Add(1)
		return nil
	}
	r.bytes.Add(o.Bytes)
	return nil
}

// Converged prints the run summary.
func (r *Reporter) Converged(ctx context.Context, report *harvester.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.startTime
	if start.IsZero() {
		start = report.StartedAt
	}
	fmt.Fprintf(r.opts.Output, "[gtfsfetch] Finished: %s after %d rounds | %d stored | %d missing | Total time: %s\n",
		report.Reason,
		len(report.Rounds),
		report.Requested-len(report.Missing),
		len(report.Missing),
		formatDuration(time.Since(start)),
	)
	return nil
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.exited)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current round's progress.
func (r *Reporter) printProgress() {
	if r.round.Load() == 0 {
		return
	}

	now := time.Now()
	completed := r.bytes.Load()
	done := int(r.done.Load())
	total := int(r.roundFeeds.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.opts.Output, "[gtfsfetch] Progress: %.1f%% | %d done | %d failed | %d in-flight | %s | Speed: %s/s\n",
		percent,
		done,
		r.failed.Load(),
		r.inProgress.Load(),
		formatBytes(completed),
		formatBytes(int64(speed)),
	)
}

// formatBytes formats bytes as a human-readable string.
func formatBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case b >= TB:
		return fmt.Sprintf("%.2f TB", float64(b)/float64(TB))
	case b >= GB:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.2f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.2f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}
