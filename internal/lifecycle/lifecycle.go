// Package lifecycle maps source-hosting webhook events to ticket status
// transitions. The machine is forward-only: an event whose target stage is
// behind the ticket's current stage is reported as illegal and the caller
// decides whether to ignore or surface it.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// EventKind is the value of the hosting system's event-kind header
// (X-Event-Key for Bitbucket).
type EventKind string

const (
	EventPush        EventKind = "repo:push"
	EventPRCreated   EventKind = "pullrequest:created"
	EventPRApproved  EventKind = "pullrequest:approved"
	EventPRFulfilled EventKind = "pullrequest:fulfilled"
)

// ErrUnrecognized is returned for event kinds outside the transition table.
// Callers acknowledge these without mutating anything.
var ErrUnrecognized = errors.New("lifecycle: unrecognized event kind")

// ErrIllegalTransition is returned when an event would move a ticket
// backward. Webhook deliveries are at-least-once and possibly out of order,
// so a late or replayed event for an earlier stage lands here.
var ErrIllegalTransition = errors.New("lifecycle: transition would move status backward")

// transitions is the event → status table.
var transitions = map[EventKind]protocol.TicketStatus{
	EventPush:        protocol.TicketInProgress,
	EventPRCreated:   protocol.TicketInTesting,
	EventPRApproved:  protocol.TicketReadyForReview,
	EventPRFulfilled: protocol.TicketCompleted,
}

// rank orders the stages. Forward jumps are legal (the first event we
// observe for a branch may be any kind); equal rank re-applies, which
// refreshes the stage timestamp on redelivery.
var rank = map[protocol.TicketStatus]int{
	protocol.TicketCreated:        0,
	protocol.TicketInProgress:     1,
	protocol.TicketInTesting:      2,
	protocol.TicketReadyForReview: 3,
	protocol.TicketCompleted:      4,
}

// Recognized reports whether the event kind appears in the transition table.
func Recognized(e EventKind) bool {
	_, ok := transitions[e]
	return ok
}

// Apply computes the status an event moves a ticket to, validated against
// the ticket's current status.
func Apply(current protocol.TicketStatus, event EventKind) (protocol.TicketStatus, error) {
	next, ok := transitions[event]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnrecognized, event)
	}

	cur, ok := rank[current]
	if !ok {
		// Unknown stored status: treat as the initial stage rather than
		// refusing every event for the ticket.
		cur = rank[protocol.TicketCreated]
	}
	if rank[next] < cur {
		return "", fmt.Errorf("%w: %s → %s on %s", ErrIllegalTransition, current, next, event)
	}
	return next, nil
}
