package harvester

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
)

// Reason explains why a run converged.
type Reason string

const (
	// ReasonComplete means no feed is missing.
	ReasonComplete Reason = "complete"
	// ReasonPlateau means a round did not change the missing set.
	ReasonPlateau Reason = "plateau"
	// ReasonPermanent means every missing feed failed permanently.
	ReasonPermanent Reason = "permanent_failures"
	// ReasonMaxRounds means the round limit was reached.
	ReasonMaxRounds Reason = "max_rounds"
	// ReasonCancelled means the context was cancelled mid-run.
	ReasonCancelled Reason = "cancelled"
	// ReasonAborted means the sink could not be listed.
	ReasonAborted Reason = "aborted"
)

// RoundStats summarises one round.
type RoundStats struct {
	Round         int           `json:"round"`
	Attempted     int           `json:"attempted"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Permanent     int           `json:"permanent"`
	Bytes         int64         `json:"bytes"`
	MissingBefore int           `json:"missing_before"`
	MissingAfter  int           `json:"missing_after"`
	Duration      time.Duration `json:"duration_ns"`
}

// Report is the result of a run.
type Report struct {
	Requested  int               `json:"requested"`
	Rounds     []RoundStats      `json:"rounds"`
	Missing    []feed.Descriptor `json:"missing"`
	Failures   map[string]string `json:"failures,omitempty"`
	Reason     Reason            `json:"reason"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
}

// Complete reports whether every requested feed is in the sink.
func (r *Report) Complete() bool {
	return len(r.Missing) == 0
}

// WriteJSON writes r as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
