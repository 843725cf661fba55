// Package webhook receives Bitbucket event deliveries and drives ticket
// lifecycle transitions from them. Deliveries are at-least-once and possibly
// out of order; processing is written so that replays and stale events are
// acknowledged without side effects.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/trackline-io/trackline/internal/branch"
	"github.com/trackline-io/trackline/internal/lifecycle"
	"github.com/trackline-io/trackline/internal/ticket"
	"github.com/trackline-io/trackline/pkg/protocol"
)

// Outcome says what processing a delivery did, for the response body and logs.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"       // ticket status updated
	OutcomeDuplicate    Outcome = "duplicate"     // delivery UUID seen before
	OutcomeUnrecognized Outcome = "unrecognized"  // event kind outside the table
	OutcomeUnlinked     Outcome = "unlinked"      // branch not in the registry
	OutcomeNoBranch     Outcome = "no_branch"     // payload carried no branch name
	OutcomeStale        Outcome = "stale"         // event would move the ticket backward
	OutcomeOrphaned     Outcome = "orphaned_link" // link resolves to a missing ticket
)

// resolver is the slice of the branch registry the processor needs.
type resolver interface {
	Resolve(branchName string) (string, error)
}

// transitionNotifier is called after a successful status change.
type transitionNotifier interface {
	TicketTransition(ctx context.Context, t *protocol.Ticket, from, to protocol.TicketStatus)
}

// Processor applies one parsed delivery to the ticket store.
type Processor struct {
	tickets    ticket.Store
	branches   resolver
	deliveries *DeliveryLog
	notifier   transitionNotifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewProcessor wires the delivery pipeline. notifier may be nil.
func NewProcessor(tickets ticket.Store, branches resolver, deliveries *DeliveryLog, notifier transitionNotifier, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		tickets:    tickets,
		branches:   branches,
		deliveries: deliveries,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Delivery is one webhook delivery after header and payload extraction.
type Delivery struct {
	ID         string // delivery UUID; empty means the sender did not supply one
	EventKind  lifecycle.EventKind
	BranchName string
}

// Process applies a delivery. Every outcome except an internal failure is a
// normal acknowledgment: senders retry on non-2xx, and retrying a stale or
// unresolvable event cannot make it applicable.
func (p *Processor) Process(ctx context.Context, d Delivery) (Outcome, error) {
	log := p.logger.With("event", string(d.EventKind), "branch", d.BranchName, "delivery_id", d.ID)

	if !lifecycle.Recognized(d.EventKind) {
		log.Debug("webhook event ignored")
		return OutcomeUnrecognized, nil
	}
	if d.BranchName == "" {
		log.Warn("webhook delivery carried no branch name")
		return OutcomeNoBranch, nil
	}

	// De-duplication applies only when the sender identifies the delivery.
	if d.ID != "" {
		first, err := p.deliveries.Claim(d.ID, string(d.EventKind))
		if err != nil {
			return "", err
		}
		if !first {
			log.Info("webhook delivery already processed")
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := p.apply(ctx, d, log)
	if err != nil && d.ID != "" {
		// The sender retries on the resulting 500. Release the claim so
		// the retry is processed, not acknowledged as a duplicate.
		if relErr := p.deliveries.Release(d.ID); relErr != nil {
			log.Error("releasing delivery claim failed", "error", relErr)
		}
	}
	return outcome, err
}

func (p *Processor) apply(ctx context.Context, d Delivery, log *slog.Logger) (Outcome, error) {
	ticketID, err := p.branches.Resolve(d.BranchName)
	if errors.Is(err, branch.ErrNotFound) {
		log.Info("webhook for unlinked branch")
		return OutcomeUnlinked, nil
	}
	if err != nil {
		return "", err
	}

	t, err := p.tickets.Get(ticketID)
	if errors.Is(err, ticket.ErrNotFound) {
		log.Warn("branch link points at missing ticket", "ticket_id", ticketID)
		return OutcomeOrphaned, nil
	}
	if err != nil {
		return "", err
	}

	next, err := lifecycle.Apply(t.Status, d.EventKind)
	if errors.Is(err, lifecycle.ErrIllegalTransition) {
		log.Info("stale webhook event ignored", "ticket_id", ticketID, "status", string(t.Status))
		return OutcomeStale, nil
	}
	if err != nil {
		return "", err
	}

	if err := p.tickets.ApplyTransition(ticketID, next, p.now()); err != nil {
		return "", fmt.Errorf("webhook: apply transition: %w", err)
	}

	log.Info("ticket transitioned", "ticket_id", ticketID, "from", string(t.Status), "to", string(next))
	if p.notifier != nil {
		p.notifier.TicketTransition(ctx, t, t.Status, next)
	}
	return OutcomeApplied, nil
}
