// Package events publishes coherence domain events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Domain event types.
const (
	TypeScoreLow       = "coherence.score_low"
	TypeGamingDetected = "coherence.gaming_detected"
	TypeRecalculated   = "coherence.recalculated"
)

// Publisher emits one domain event. Publishing is best effort; callers log
// errors and carry on.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload map[string]any) error
}

// Nop discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, string, map[string]any) error { return nil }

// Event is the wire envelope of a published event.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload"`
}

func newEvent(eventType string, payload map[string]any) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Recorder keeps published events in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, eventType string, payload map[string]any) error {
	r.mu.Lock()
	r.events = append(r.events, newEvent(eventType, payload))
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events of the given type.
func (r *Recorder) OfType(eventType string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers []string `json:"brokers" koanf:"brokers"`
	Topic   string   `json:"topic" koanf:"topic"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON to a Kafka topic, keyed by project id
// so that events of one project stay ordered.
type KafkaPublisher struct {
	writer messageWriter
	log    *slog.Logger
}

var errNilLogger = errors.New("events: publisher requires a logger")

// NewKafkaPublisher returns a publisher for cfg.
func NewKafkaPublisher(cfg KafkaConfig, log *slog.Logger) (*KafkaPublisher, error) {
	if log == nil {
		return nil, errNilLogger
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("events: kafka topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("events: at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(w, log), nil
}

func newKafkaPublisher(w messageWriter, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, log: log.With(slog.String("component", "events"))}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload map[string]any) error {
	ev := newEvent(eventType, payload)
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", eventType, err)
	}
	var key []byte
	if id, ok := payload["project_id"].(string); ok {
		key = []byte(id)
	}
	msg := kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: publish %s: %w", eventType, err)
	}
	p.log.Debug("event published", slog.String("type", eventType), slog.String("id", ev.ID))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
