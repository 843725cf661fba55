// Package notify posts ticket lifecycle updates to a Slack channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// statusLabels are the human phrasings used in channel messages.
var statusLabels = map[protocol.TicketStatus]string{
	protocol.TicketCreated:        "created",
	protocol.TicketInProgress:     "in progress",
	protocol.TicketInTesting:      "in testing",
	protocol.TicketReadyForReview: "ready for review",
	protocol.TicketCompleted:      "completed",
}

// messagePoster is the slice of the Slack client the notifier uses.
type messagePoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts lifecycle messages to one Slack channel. A nil Notifier is
// valid and drops everything, so callers never need to branch on whether
// Slack is configured.
type Notifier struct {
	client  messagePoster
	channel string
	logger  *slog.Logger
}

// New creates a Notifier, or nil when no bot token is configured.
func New(botToken, channel string, logger *slog.Logger) *Notifier {
	if botToken == "" || channel == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		client:  slack.New(botToken),
		channel: channel,
		logger:  logger,
	}
}

// TicketTransition announces a lifecycle change. Delivery failures are logged
// and swallowed: notifications never block ticket processing.
func (n *Notifier) TicketTransition(ctx context.Context, t *protocol.Ticket, from, to protocol.TicketStatus) {
	if n == nil {
		return
	}

	text := fmt.Sprintf("Ticket *%s* (%s) moved from _%s_ to _%s_", t.ID, t.Summary, label(from), label(to))
	if t.Developer != "" {
		text += fmt.Sprintf(" (developer: %s)", t.Developer)
	}
	n.post(ctx, text, "ticket_id", t.ID)
}

// TicketCreated announces a new ticket.
func (n *Notifier) TicketCreated(ctx context.Context, t *protocol.Ticket) {
	if n == nil {
		return
	}

	text := fmt.Sprintf("New ticket *%s*: %s", t.ID, t.Summary)
	if t.EndDate != "" {
		text += fmt.Sprintf(" (due %s)", t.EndDate)
	}
	n.post(ctx, text, "ticket_id", t.ID)
}

// BranchLinked announces a branch registered against a ticket.
func (n *Notifier) BranchLinked(ctx context.Context, ticketID, branchName, branchURL string) {
	if n == nil {
		return
	}

	text := fmt.Sprintf("Branch `%s` linked to ticket *%s*", branchName, ticketID)
	if branchURL != "" {
		text += fmt.Sprintf(" <%s|view branch>", branchURL)
	}
	n.post(ctx, text, "ticket_id", ticketID, "branch", branchName)
}

func (n *Notifier) post(ctx context.Context, text string, logArgs ...any) {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		n.logger.Warn("slack notification failed", append(logArgs, "error", err)...)
		return
	}
	n.logger.Debug("slack notification sent", logArgs...)
}

func label(s protocol.TicketStatus) string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}
