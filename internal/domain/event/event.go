// internal/domain/event/event.go
package event

import "time"

type Type string

const (
	TypeSubscriberSuspended Type = "subscriber.suspended"
	TypeSubscriberRestored  Type = "subscriber.restored"
	TypeSubscriberRenewed   Type = "subscriber.renewed"
	TypeSubscriberGrace     Type = "subscriber.grace_period"
	TypeSubscriberCreated   Type = "subscriber.created"
	TypeSubscriberDeleted   Type = "subscriber.deleted"
	TypeSecretRecreated     Type = "secret.recreated"
	TypeSecretCorrected     Type = "secret.corrected"
	TypeSecretPruned        Type = "secret.pruned"
	TypePaymentSucceeded    Type = "payment.succeeded"
	TypeReconcileCompleted  Type = "reconcile.completed"
)

// Event is a domain change published to Kafka and the operator websocket feed.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	Username   string                 `json:"username,omitempty"`
	FromStatus string                 `json:"from_status,omitempty"`
	ToStatus   string                 `json:"to_status,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}
