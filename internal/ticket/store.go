package ticket

import (
	"errors"
	"time"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// ErrNotFound is returned when a referenced ticket does not exist.
var ErrNotFound = errors.New("ticket not found")

// Store is the persistence interface for tickets and their comments.
type Store interface {
	// Create inserts a new ticket.
	Create(t *protocol.Ticket) error
	// Get retrieves a ticket by ID.
	Get(id string) (*protocol.Ticket, error)
	// List returns tickets matching the filter, newest first.
	List(filter Filter) ([]*protocol.Ticket, error)
	// ApplyTransition sets the ticket's status and stamps the stage's
	// timestamp column in a single write. A reader never observes one
	// updated without the other.
	ApplyTransition(id string, status protocol.TicketStatus, at time.Time) error
	// AddComment attaches a comment to a ticket.
	AddComment(c *protocol.Comment) error
	// Comments returns a ticket's comments, oldest first.
	Comments(ticketID string) ([]*protocol.Comment, error)
}

// Filter constrains ticket list queries.
type Filter struct {
	Status      *protocol.TicketStatus
	Developer   string // exact match
	EndDateFrom string // tickets whose end_date >= this YYYY-MM-DD date
	Limit       int    // 0 = no limit
}
