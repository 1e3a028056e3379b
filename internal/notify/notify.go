// Package notify broadcasts approval state changes to live dashboards and
// downstream consumers. Delivery is best-effort: Dispatcher.Notify never
// blocks the caller and sink failures are logged and counted, never returned
// to the workflow.
package notify

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names a workflow transition.
type EventType string

const (
	EventCreated  EventType = "approval.created"
	EventApproved EventType = "approval.approved"
	EventRejected EventType = "approval.rejected"
	EventAccessed EventType = "approval.accessed"
	EventExpired  EventType = "approval.expired"
)

// Event is the payload pushed to every sink.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"requestId"`
	Status    string    `json:"status"`
	ActorID   string    `json:"actorId"`
	At        time.Time `json:"at"`
	Approvals int       `json:"approvals"`
}

// Encode renders the wire form shared by all sinks.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Sink delivers an event to one destination.
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}
