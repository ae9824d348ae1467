// Package events publishes domain events (message created, conversation read,
// presence changed) to a RabbitMQ topic exchange for notification collaborators.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/journeyman/messaging/internal/logger"
	"github.com/journeyman/messaging/internal/observability"
)

const (
	RoutingMessageCreated  = "message.created"
	RoutingMessageRead     = "message.read"
	RoutingPresenceChanged = "presence.changed"
)

// Envelope wraps every published event.
type Envelope struct {
	EventType  string    `json:"event_type"`
	Service    string    `json:"service"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

type MessageCreated struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	RecipientID    string `json:"recipient_id"`
	MessageType    string `json:"message_type"`
	Delivered      bool   `json:"delivered"`
}

type MessageRead struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	SenderID       string    `json:"sender_id"`
	Count          int64     `json:"count"`
	ReadAt         time.Time `json:"read_at"`
}

type PresenceChanged struct {
	UserID string    `json:"user_id"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

// Publisher publishes domain events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled
// or unreachable. The messaging core never depends on the broker being up.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		logger.Info("events: amqp disabled, using noop publisher")
		return NoopPublisher{Reason: "empty amqp url"}
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		logger.Errorf("events: amqp dial failed, using noop: %v", err)
		return NoopPublisher{Reason: err.Error()}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Errorf("events: amqp channel failed, using noop: %v", err)
		_ = conn.Close()
		return NoopPublisher{Reason: err.Error()}
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		logger.Errorf("events: exchange declare failed, using noop: %v", err)
		_ = ch.Close()
		_ = conn.Close()
		return NoopPublisher{Reason: err.Error()}
	}

	logger.Infof("events: amqp connected exchange=%s", exchange)
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}
}

type amqpPublisher struct {
	// amqp channels are not safe for concurrent publishing.
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	p.mu.Unlock()
	if err != nil {
		observability.IncAMQPPublishError()
		logger.Errorf("events: publish %s failed: %v", routingKey, err)
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher drops events; it logs them at debug level.
type NoopPublisher struct {
	Reason string
}

func (NoopPublisher) Publish(_ context.Context, routingKey string, event any) error {
	if env, ok := event.(Envelope); ok {
		logger.Debugf("events: noop publish routing_key=%s event_type=%s", routingKey, env.EventType)
		return nil
	}
	logger.Debugf("events: noop publish routing_key=%s", routingKey)
	return nil
}

func (NoopPublisher) Close() error { return nil }

// Mode reports the publisher mode for startup logging.
func Mode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case NoopPublisher, *NoopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// Wrap builds the envelope for data.
func Wrap(eventType string, data any) Envelope {
	return Envelope{
		EventType:  eventType,
		Service:    "messaging",
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}
