package leave

import (
	"context"
	"time"
)

// EventType names a committed transition.
type EventType string

const (
	EventSubmitted EventType = "leave.request.submitted"
	EventApproved  EventType = "leave.request.approved"
	EventRejected  EventType = "leave.request.rejected"
	EventCancelled EventType = "leave.request.cancelled"
)

// Event is published after a transition commits.
type Event struct {
	Type       EventType    `json:"type"`
	Request    LeaveRequest `json:"request"`
	Actor      Actor        `json:"actor"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// Notifier informs requesters and approvers of committed transitions. It
// runs outside the transaction; an error is logged and never undoes the
// transition.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
