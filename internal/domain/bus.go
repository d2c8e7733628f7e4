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
}

// Topics for the detection run lifecycle.
const (
	TopicRunRequested = "kestrel.run.requested"
	TopicRunCompleted = "kestrel.run.completed"
	TopicAlert        = "kestrel.alert"
)

// RunCompletedEvent is published once a run has been analyzed and stored.
type RunCompletedEvent struct {
	RunID             string  `json:"runId"`
	ConfigurationName string  `json:"configurationName"`
	TotalTransactions int     `json:"totalTransactions"`
	FlaggedCount      int     `json:"flaggedCount"`
	FlaggedPercentage float64 `json:"flaggedPercentage"`
	DurationMs        int64   `json:"durationMs"`
}

// AlertEvent is published for every suspicious transaction of a run.
type AlertEvent struct {
	RunID         string   `json:"runId"`
	TransactionID string   `json:"transactionId"`
	UserID        string   `json:"userId"`
	RiskScore     int      `json:"riskScore"`
	Rules         []string `json:"rules"`
}
