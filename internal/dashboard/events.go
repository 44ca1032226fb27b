// v1
// internal/dashboard/events.go
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"homemon/internal/reading"
	"homemon/internal/store"
)

const eventTypeStored = "reading.stored"

// ReadingEvent is the JSON payload published for every stored reading.
type ReadingEvent struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	ReadingID  string    `json:"readingId"`
	Datetime   time.Time `json:"datetime"`
	RawValue   int64     `json:"rawvalue"`
	Voltage    float64   `json:"voltage"`
	Pressure   float64   `json:"pressure"`
}

// MessageWriter is satisfied by *kafka.Writer and *breaker.KafkaWriter.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Events publishes stored readings from a background worker so that the
// request which stored them never waits on the broker.
type Events struct {
	w       MessageWriter
	queue   chan store.Stored
	metrics *Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewEvents(w MessageWriter, buffer int, metrics *Metrics, log *slog.Logger) *Events {
	if buffer < 1 {
		buffer = 64
	}
	return &Events{
		w:       w,
		queue:   make(chan store.Stored, buffer),
		metrics: metrics,
		log:     log.With("component", "events"),
		now:     time.Now,
	}
}

// Enqueue hands s to the worker; a full queue drops the event.
func (e *Events) Enqueue(s store.Stored) {
	select {
	case e.queue <- s:
	default:
		e.metrics.EventPublished(false)
		e.log.Warn("event_dropped", slog.String("reading_id", s.ID))
	}
}

// Run publishes queued readings until ctx ends.
func (e *Events) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-e.queue:
			e.publish(ctx, s)
		}
	}
}

func (e *Events) publish(ctx context.Context, s store.Stored) {
	ev := ReadingEvent{
		EventID:    uuid.NewString(),
		Type:       eventTypeStored,
		OccurredAt: e.now().UTC(),
		ReadingID:  s.ID,
		Datetime:   s.Timestamp.UTC(),
		RawValue:   s.RawValue,
		Voltage:    s.Voltage,
		Pressure:   s.Pressure,
	}
	body, err := json.Marshal(ev)
	if err != nil {
		e.log.Error("event_encode_failed", slog.Any("err", err))
		return
	}
	err = e.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.EventID),
		Value: body,
		Time:  ev.OccurredAt,
	})
	e.metrics.EventPublished(err == nil)
	if err != nil {
		e.log.Error("event_publish_failed", slog.String("event_id", ev.EventID), slog.Any("err", err))
		return
	}
	e.log.Debug("event_published", slog.String("event_id", ev.EventID), slog.String("reading_id", s.ID))
}

// PublishingStore enqueues an event after every successful insert.
type PublishingStore struct {
	store.Store
	events *Events
}

func NewPublishingStore(st store.Store, ev *Events) *PublishingStore {
	return &PublishingStore{Store: st, events: ev}
}

func (p *PublishingStore) Insert(ctx context.Context, r reading.Reading) (store.Stored, error) {
	s, err := p.Store.Insert(ctx, r)
	if err != nil {
		return s, err
	}
	p.events.Enqueue(s)
	return s, nil
}
