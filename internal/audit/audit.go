// Package audit records issuance lifecycle events on the audit topic.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vcissuer/internal/platform/config"
	"vcissuer/internal/platform/kafka/producer"
)

// Event is one audit record. ProcedureID keys the partition so events for one
// procedure stay ordered.
type Event struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	ProcedureID string         `json:"procedure_id,omitempty"`
	Actor       string         `json:"actor,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}

// Recorder publishes audit events. Recording is best-effort; issuance never
// fails because the audit trail is unavailable.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// KafkaRecorder publishes events to the configured audit topic.
type KafkaRecorder struct {
	producer *producer.Producer
	topic    string
}

func NewKafkaRecorder(p *producer.Producer, cfg config.KafkaConfig) *KafkaRecorder {
	return &KafkaRecorder{producer: p, topic: cfg.AuditTopic}
}

func (r *KafkaRecorder) Record(_ context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return r.producer.ProduceAsync(&producer.Message{
		Topic: r.topic,
		Key:   []byte(event.ProcedureID),
		Value: value,
		Headers: map[string]string{
			"action": event.Action,
		},
	})
}

// MemoryRecorder collects events in memory for tests and local development.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (r *MemoryRecorder) Record(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	r.events = append(r.events, event)
	return nil
}

// Events returns a snapshot of everything recorded so far.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
