package protocol

import "time"

// TicketStatus is the lifecycle stage of a ticket. Webhook events from the
// source-hosting system move a ticket forward through these stages.
type TicketStatus string

const (
	TicketCreated        TicketStatus = "created"
	TicketInProgress     TicketStatus = "in_progress"
	TicketInTesting      TicketStatus = "in_testing"
	TicketReadyForReview TicketStatus = "ready_for_review"
	TicketCompleted      TicketStatus = "completed"
)

// Ticket is one unit of client work tracked through its lifecycle.
type Ticket struct {
	ID           string `json:"id"`
	Summary      string `json:"summary"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	Priority     string `json:"priority,omitempty"`
	CustomerName string `json:"customer_name,omitempty"`
	Server       string `json:"server,omitempty"`

	// StartDate and EndDate are calendar dates (YYYY-MM-DD).
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`

	Assignee  string `json:"assignee,omitempty"`
	Reporter  string `json:"reporter,omitempty"`
	Manager   string `json:"manager,omitempty"`
	Developer string `json:"developer,omitempty"`

	AttachmentURL string `json:"attachment_url,omitempty"`

	Status TicketStatus `json:"status"`

	// Per-transition timestamps. A field is set if and only if the ticket has
	// passed through that stage at least once; it is never cleared, and a
	// repeated event overwrites it with the latest occurrence.
	InProgressAt     *time.Time `json:"in_progress_at,omitempty"`
	InTestingAt      *time.Time `json:"in_testing_at,omitempty"`
	ReadyForReviewAt *time.Time `json:"ready_for_review_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Comment is a note attached to a ticket by a person.
type Comment struct {
	ID         string    `json:"id"`
	TicketID   string    `json:"ticket_id"`
	PersonName string    `json:"person_name"`
	Category   string    `json:"category"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
