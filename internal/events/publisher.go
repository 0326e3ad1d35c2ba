// Package events publishes catalog lifecycle events to Kafka so downstream
// consumers (filing trackers, notification pipelines) can react to status
// changes without polling the store.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types.
const (
	TypeProgramTransition = "program.transition"
	TypeBundleTransition  = "bundle.transition"
	TypeVersionPublished  = "version.published"
)

// Event is the wire shape of a catalog lifecycle event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Org       string         `json:"org"`
	EntityID  string         `json:"entity_id"`
	Actor     string         `json:"actor"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Publisher writes events to a Kafka topic. A nil Publisher is a no-op, so
// deployments without Kafka simply don't construct one.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a Kafka-backed event publisher.
func NewPublisher(brokers []string, topic string, logger *zap.Logger) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Publisher{writer: writer, logger: logger}
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

// Publish emits one event. Failures are logged, not returned: event emission
// is observability plumbing and must never fail the mutation it describes.
func (p *Publisher) Publish(ctx context.Context, eventType, org, entityID, actor string, payload map[string]any) {
	if p == nil {
		return
	}
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Org:       org,
		EntityID:  entityID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s/%s", org, entityID)),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("type", eventType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return
	}
	p.logger.Debug("Event published",
		zap.String("type", eventType),
		zap.String("entity_id", entityID))
}
