package lifecycle

import (
	"errors"
	"testing"

	"github.com/trackline-io/trackline/pkg/protocol"
)

func TestApply_TransitionTable(t *testing.T) {
	cases := []struct {
		event EventKind
		want  protocol.TicketStatus
	}{
		{EventPush, protocol.TicketInProgress},
		{EventPRCreated, protocol.TicketInTesting},
		{EventPRApproved, protocol.TicketReadyForReview},
		{EventPRFulfilled, protocol.TicketCompleted},
	}

	for _, c := range cases {
		got, err := Apply(protocol.TicketCreated, c.event)
		if err != nil {
			t.Errorf("Apply(created, %s): %v", c.event, err)
			continue
		}
		if got != c.want {
			t.Errorf("Apply(created, %s) = %s, want %s", c.event, got, c.want)
		}
	}
}

func TestApply_Unrecognized(t *testing.T) {
	_, err := Apply(protocol.TicketCreated, "repo:fork")
	if !errors.Is(err, ErrUnrecognized) {
		t.Errorf("expected ErrUnrecognized, got %v", err)
	}
	if Recognized("repo:fork") {
		t.Error("repo:fork should not be recognized")
	}
	if !Recognized(EventPRFulfilled) {
		t.Error("pullrequest:fulfilled should be recognized")
	}
}

func TestApply_ForwardJumpAllowed(t *testing.T) {
	// A PR can be the first event we see for a branch.
	got, err := Apply(protocol.TicketCreated, EventPRApproved)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != protocol.TicketReadyForReview {
		t.Errorf("got %s, want ready_for_review", got)
	}
}

func TestApply_SameStageReapplies(t *testing.T) {
	// Redelivery of the current stage's event is legal: the timestamp is
	// refreshed to the latest occurrence.
	got, err := Apply(protocol.TicketInTesting, EventPRCreated)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != protocol.TicketInTesting {
		t.Errorf("got %s, want in_testing", got)
	}
}

func TestApply_BackwardRejected(t *testing.T) {
	cases := []struct {
		current protocol.TicketStatus
		event   EventKind
	}{
		{protocol.TicketInTesting, EventPush},
		{protocol.TicketCompleted, EventPRApproved},
		{protocol.TicketReadyForReview, EventPRCreated},
	}

	for _, c := range cases {
		_, err := Apply(c.current, c.event)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Errorf("Apply(%s, %s): expected ErrIllegalTransition, got %v", c.current, c.event, err)
		}
	}
}

func TestApply_UnknownCurrentStatus(t *testing.T) {
	got, err := Apply("bogus", EventPush)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != protocol.TicketInProgress {
		t.Errorf("got %s, want in_progress", got)
	}
}
