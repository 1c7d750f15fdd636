package domain

import (
	"context"
)

// EventBus carries conversation outcomes to downstream consumers.
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

// Standard topic names for conversation outcomes.
const (
	TopicCaseDisposition    = "kestrel.case.disposition"
	TopicVerificationFailed = "kestrel.case.verification_failed"
	TopicLeadCaptured       = "kestrel.lead.captured"
	TopicRemediation        = "kestrel.remediation"
)

// CaseDispositionEvent is published when a case reaches a terminal status.
type CaseDispositionEvent struct {
	CaseID         int64      `json:"caseId"`
	ConversationID string     `json:"conversationId"`
	CustomerName   string     `json:"customerName"`
	CardEnding     string     `json:"cardEnding"`
	Merchant       string     `json:"merchant"`
	Amount         float64    `json:"amount"`
	Status         CaseStatus `json:"status"`
}

// LeadCapturedEvent is published when a lead record is appended.
type LeadCapturedEvent struct {
	ConversationID string  `json:"conversationId"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Company        string  `json:"company,omitempty"`
	Qualification  string  `json:"qualification,omitempty"`
	Score          float64 `json:"score,omitempty"`
}

// RemediationTask is published by the remediation worker for each follow-up
// action a confirmed-fraud disposition requires.
type RemediationTask struct {
	CaseID     int64  `json:"caseId"`
	Action     string `json:"action"` // "card_block" | "card_reissue" | "dispute_filing"
	CardEnding string `json:"cardEnding"`
}
