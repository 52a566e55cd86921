// Package producer publishes records to Kafka through franz-go.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"vcissuer/internal/platform/config"
)

// Message is one record to publish.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

func (m *Message) record() *kgo.Record {
	rec := &kgo.Record{Topic: m.Topic, Key: m.Key, Value: m.Value}
	for k, v := range m.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return rec
}

// Producer publishes messages and refuses new work once closed.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New connects a franz-go producer to the configured brokers.
func New(cfg config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	if cfg.Brokers == "" {
		return nil, fmt.Errorf("kafka brokers not configured")
	}

	acks := kgo.AllISRAcks()
	switch cfg.Acks {
	case "0":
		acks = kgo.NoAck()
	case "1":
		acks = kgo.LeaderAck()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(strings.Split(cfg.Brokers, ",")...),
		kgo.RequiredAcks(acks),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerBatchMaxBytes(16384),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{client: client, logger: logger}, nil
}

func (p *Producer) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Produce publishes one message and blocks until the broker acknowledges it.
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	if p.isClosed() {
		return fmt.Errorf("producer is closed")
	}

	if err := p.client.ProduceSync(ctx, msg.record()).FirstErr(); err != nil {
		return fmt.Errorf("produce message: %w", err)
	}
	return nil
}

// ProduceAsync buffers the message for background delivery. Delivery failures
// are logged, not returned.
func (p *Producer) ProduceAsync(msg *Message) error {
	if p.isClosed() {
		return fmt.Errorf("producer is closed")
	}

	p.client.Produce(context.Background(), msg.record(), func(r *kgo.Record, err error) {
		if err != nil && p.logger != nil {
			p.logger.Error("async produce failed", "topic", r.Topic, "error", err)
		}
	})
	return nil
}

// Close flushes buffered records, bounded by a ten second deadline, and shuts
// the client down. Safe to call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil && p.logger != nil {
		p.logger.Error("kafka flush on close failed", "error", err)
	}
	p.client.Close()
}
