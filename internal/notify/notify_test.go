package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/slack-go/slack"

	"github.com/trackline-io/trackline/pkg/protocol"
)

type fakePoster struct {
	channels []string
	count    int
	err      error
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	f.count++
	f.channels = append(f.channels, channelID)
	if f.err != nil {
		return "", "", f.err
	}
	return channelID, "1234.5678", nil
}

func newTestNotifier(p *fakePoster) *Notifier {
	return &Notifier{client: p, channel: "C12345", logger: slog.Default()}
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	tk := &protocol.Ticket{ID: "TL-1", Summary: "x"}

	// None of these may panic.
	n.TicketCreated(context.Background(), tk)
	n.TicketTransition(context.Background(), tk, protocol.TicketCreated, protocol.TicketInProgress)
	n.BranchLinked(context.Background(), "TL-1", "feature/TL-1", "")
}

func TestNewUnconfigured(t *testing.T) {
	if n := New("", "C123", nil); n != nil {
		t.Error("notifier without token must be nil")
	}
	if n := New("xoxb-token", "", nil); n != nil {
		t.Error("notifier without channel must be nil")
	}
}

func TestTicketTransitionPosts(t *testing.T) {
	p := &fakePoster{}
	n := newTestNotifier(p)

	tk := &protocol.Ticket{ID: "TL-9", Summary: "Fix exports", Developer: "mira"}
	n.TicketTransition(context.Background(), tk, protocol.TicketInProgress, protocol.TicketInTesting)

	if p.count != 1 {
		t.Fatalf("posts = %d", p.count)
	}
	if p.channels[0] != "C12345" {
		t.Errorf("channel = %q", p.channels[0])
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	p := &fakePoster{err: errors.New("channel_not_found")}
	n := newTestNotifier(p)

	// Must not panic or propagate.
	n.TicketCreated(context.Background(), &protocol.Ticket{ID: "TL-2", Summary: "y"})
	if p.count != 1 {
		t.Fatalf("posts = %d", p.count)
	}
}

func TestLabel(t *testing.T) {
	if got := label(protocol.TicketReadyForReview); got != "ready for review" {
		t.Errorf("label = %q", got)
	}
	if got := label(protocol.TicketStatus("archived")); got != "archived" {
		t.Errorf("unknown label = %q", got)
	}
}

func TestLabelCoversAllStatuses(t *testing.T) {
	for _, s := range []protocol.TicketStatus{
		protocol.TicketCreated, protocol.TicketInProgress, protocol.TicketInTesting,
		protocol.TicketReadyForReview, protocol.TicketCompleted,
	} {
		if strings.Contains(label(s), "_") {
			t.Errorf("status %s has no human label", s)
		}
	}
}
