// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// EventType represents the real-time message types on the operator feed
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Domain events (server -> client)
	EventTypeEvent EventType = "event"

	// Queries (client -> server)
	EventTypeSubscriberGet EventType = "subscriber:get"

	// Subscription events
	EventTypeSubscribe   EventType = "subscribe"
	EventTypeUnsubscribe EventType = "unsubscribe"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType              `json:"type"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id,omitempty"`
}

// ChannelType groups domain events for subscription
type ChannelType string

const (
	ChannelSubscribers ChannelType = "subscribers"
	ChannelPayments    ChannelType = "payments"
	ChannelReconcile   ChannelType = "reconcile"
	ChannelSystem      ChannelType = "system"
)

// ChannelFor maps a domain event type such as "payment.succeeded" to its channel.
func ChannelFor(eventType string) ChannelType {
	prefix, _, _ := strings.Cut(eventType, ".")
	switch prefix {
	case "subscriber", "secret":
		return ChannelSubscribers
	case "payment":
		return ChannelPayments
	case "reconcile":
		return ChannelReconcile
	default:
		return ChannelSystem
	}
}

// Valid reports whether clients may subscribe to the channel
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelSubscribers, ChannelPayments, ChannelReconcile, ChannelSystem:
		return true
	}
	return false
}

// SubscribeRequest sent by client to subscribe to specific channels
type SubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

// UnsubscribeRequest sent by client to unsubscribe from channels
type UnsubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

// SubscriberGetRequest asks for the current state of one subscriber
type SubscriberGetRequest struct {
	Username string `json:"username"`
}

// ErrorData for error events
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        ulid.Make().String(),
	}
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
