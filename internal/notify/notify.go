// Package notify publishes an event to Kafka for every feed archive written
// to the sink, keyed by feed ID.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/lolpro11-org/gtfs-schema/internal/fetcher"
	"github.com/lolpro11-org/gtfs-schema/internal/harvester"
)

// Event is the JSON value of a published message.
type Event struct {
	FeedID    string    `json:"feed_id"`
	URL       string    `json:"url"`
	Object    string    `json:"object"`
	Bytes     int64     `json:"bytes"`
	FetchedAt time.Time `json:"fetched_at"`
}

// MessageWriter is implemented by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Notifier publishes fetch events. It implements harvester.Observer.
type Notifier struct {
	harvester.NopObserver

	writer MessageWriter
	key    func(id string) string
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewWriter returns a synchronous Kafka writer for topic that hashes keys
// to partitions.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
}

// New creates a Notifier writing to w. objectKey maps a feed ID to its sink
// key and is included in each event.
func New(w MessageWriter, objectKey func(id string) string, logger logrus.FieldLogger) *Notifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Notifier{
		writer: w,
		key:    objectKey,
		logger: logger,
		now:    time.Now,
	}
}

// FetchFinished publishes an event for successful fetches.
func (n *Notifier) FetchFinished(ctx context.Context, round int, o fetcher.Outcome) error {
	if !o.OK() {
		return nil
	}
	value, err := json.Marshal(Event{
		FeedID:    o.Feed.ID,
		URL:       o.Feed.URL,
		Object:    n.key(o.Feed.ID),
		Bytes:     o.Bytes,
		FetchedAt: n.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(o.Feed.ID),
		Value: value,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", o.Feed.ID, err)
	}
	n.logger.WithFields(logrus.Fields{"feed_id": o.Feed.ID, "value_size": len(value)}).Debug("Published fetch event")
	return nil
}

// Close flushes pending writes and closes the writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
