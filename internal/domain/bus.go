package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
	NATSSubjectPrefix string
}

// Standard topic names for the scoring pipeline.
const (
	TopicTradeIngested     = "sentinel.trade.ingested"
	TopicAnalysisResult    = "sentinel.analysis.result"
	TopicAlertGenerated    = "sentinel.alert.generated"
	TopicAlertStatus       = "sentinel.alert.status"
	TopicTraderBlacklisted = "sentinel.trader.blacklisted"
)

// AlertEvent is the payload published on alert topics.
type AlertEvent struct {
	Alert          *FraudAlert `json:"alert"`
	PreviousStatus AlertStatus `json:"previousStatus,omitempty"`
	CallerID       string      `json:"callerId"`
}

// BlacklistEvent is the payload published when a trader is blacklisted.
type BlacklistEvent struct {
	Trader   string `json:"trader"`
	CallerID string `json:"callerId"`
}
