package fetcher

import (
	"errors"
	"fmt"
	"time"

	"github.com/lolpro11-org/gtfs-schema/internal/feed"
	gtfshttp "github.com/lolpro11-org/gtfs-schema/internal/http"
)

// Status is the result class of one fetch attempt.
type Status int

const (
	// StatusSuccess means the archive was written to the sink.
	StatusSuccess Status = iota
	// StatusTransportFailure covers DNS, connect, TLS, timeout, non-2xx and
	// body read errors.
	StatusTransportFailure
	// StatusSinkWriteFailure means the response was fine but the archive
	// could not be stored.
	StatusSinkWriteFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusTransportFailure:
		return "transport_failure"
	case StatusSinkWriteFailure:
		return "sink_write_failure"
	default:
		return "unknown"
	}
}

// Outcome is the result of one fetch attempt for one feed.
type Outcome struct {
	Feed     feed.Descriptor
	Status   Status
	Err      error
	Bytes    int64
	Duration time.Duration

	// Permanent is set for failures that another attempt will not fix.
	Permanent bool
}

// OK reports whether the fetch succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// TransportError wraps a failure to retrieve a feed.
type TransportError struct {
	ID  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.ID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SinkError wraps a failure to store a retrieved feed.
type SinkError struct {
	ID  string
	Err error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("store %s: %v", e.ID, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether err is a transport failure that will not go
// away on a later attempt. Sink failures are never permanent.
func IsPermanent(err error) bool {
	var serr *SinkError
	if errors.As(err, &serr) {
		return false
	}
	return gtfshttp.IsPermanent(err)
}

// NewTransportFailure builds the Outcome for a failed retrieval of d.
func NewTransportFailure(d feed.Descriptor, err error) Outcome {
	terr := &TransportError{ID: d.ID, URL: d.URL, Err: err}
	return Outcome{
		Feed:      d,
		Status:    StatusTransportFailure,
		Err:       terr,
		Permanent: IsPermanent(terr),
	}
}

func sinkFailure(d feed.Descriptor, err error) Outcome {
	return Outcome{
		Feed:   d,
		Status: StatusSinkWriteFailure,
		Err:    &SinkError{ID: d.ID, Err: err},
	}
}
