package ticket

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// timestamp columns per lifecycle stage. Only stages reachable by a webhook
// transition carry a column.
var stampColumns = map[protocol.TicketStatus]string{
	protocol.TicketInProgress:     "in_progress_at",
	protocol.TicketInTesting:      "in_testing_at",
	protocol.TicketReadyForReview: "ready_for_review_at",
	protocol.TicketCompleted:      "completed_at",
}

// SQLiteStore implements Store on a shared SQLite handle.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore runs migrations and returns a ticket store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id                  TEXT PRIMARY KEY,
			summary             TEXT NOT NULL,
			description         TEXT NOT NULL DEFAULT '',
			category            TEXT NOT NULL DEFAULT '',
			priority            TEXT NOT NULL DEFAULT '',
			customer_name       TEXT NOT NULL DEFAULT '',
			server              TEXT NOT NULL DEFAULT '',
			start_date          TEXT NOT NULL DEFAULT '',
			end_date            TEXT NOT NULL DEFAULT '',
			assignee            TEXT NOT NULL DEFAULT '',
			reporter            TEXT NOT NULL DEFAULT '',
			manager             TEXT NOT NULL DEFAULT '',
			developer           TEXT NOT NULL DEFAULT '',
			attachment_url      TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'created',
			in_progress_at      TEXT,
			in_testing_at       TEXT,
			ready_for_review_at TEXT,
			completed_at        TEXT,
			created_at          TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ticket_comments (
			id          TEXT PRIMARY KEY,
			ticket_id   TEXT NOT NULL REFERENCES tickets(id),
			person_name TEXT NOT NULL,
			category    TEXT NOT NULL,
			message     TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_developer ON tickets(developer);
		CREATE INDEX IF NOT EXISTS idx_comments_ticket ON ticket_comments(ticket_id);
	`)
	if err != nil {
		return fmt.Errorf("ticket store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(t *protocol.Ticket) error {
	if t.Status == "" {
		t.Status = protocol.TicketCreated
	}
	_, err := s.db.Exec(`
		INSERT INTO tickets (id, summary, description, category, priority, customer_name, server,
			start_date, end_date, assignee, reporter, manager, developer, attachment_url, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Summary, t.Description, t.Category, t.Priority, t.CustomerName, t.Server,
		t.StartDate, t.EndDate, t.Assignee, t.Reporter, t.Manager, t.Developer,
		t.AttachmentURL, string(t.Status), t.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ticket store: create: %w", err)
	}
	return nil
}

const ticketColumns = `id, summary, description, category, priority, customer_name, server,
	start_date, end_date, assignee, reporter, manager, developer, attachment_url, status,
	in_progress_at, in_testing_at, ready_for_review_at, completed_at, created_at`

func (s *SQLiteStore) Get(id string) (*protocol.Ticket, error) {
	row := s.db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("ticket %q: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("ticket store: get: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) List(filter Filter) ([]*protocol.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	var args []any

	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Developer != "" {
		query += " AND developer = ?"
		args = append(args, filter.Developer)
	}
	if filter.EndDateFrom != "" {
		query += " AND end_date >= ?"
		args = append(args, filter.EndDateFrom)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("ticket store: list: %w", err)
	}
	defer rows.Close()

	var tickets []*protocol.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("ticket store: list scan: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// ApplyTransition sets status and the stage timestamp in one UPDATE so the
// pair is atomic. The timestamp write is unconditional: redelivered events
// refresh the stamp to the latest occurrence.
func (s *SQLiteStore) ApplyTransition(id string, status protocol.TicketStatus, at time.Time) error {
	col, ok := stampColumns[status]
	if !ok {
		return fmt.Errorf("ticket store: no timestamp column for status %q", status)
	}

	result, err := s.db.Exec(
		`UPDATE tickets SET status = ?, `+col+` = ? WHERE id = ?`,
		string(status), at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("ticket store: apply transition: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("ticket %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) AddComment(c *protocol.Comment) error {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tickets WHERE id = ?`, c.TicketID).Scan(&exists); err != nil {
		return fmt.Errorf("ticket store: add comment: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("ticket %q: %w", c.TicketID, ErrNotFound)
	}

	_, err := s.db.Exec(`INSERT INTO ticket_comments (id, ticket_id, person_name, category, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.TicketID, c.PersonName, c.Category, c.Message, c.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("ticket store: add comment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Comments(ticketID string) ([]*protocol.Comment, error) {
	rows, err := s.db.Query(`SELECT id, ticket_id, person_name, category, message, created_at
		FROM ticket_comments WHERE ticket_id = ? ORDER BY created_at`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("ticket store: comments: %w", err)
	}
	defer rows.Close()

	var comments []*protocol.Comment
	for rows.Next() {
		var c protocol.Comment
		var created string
		if err := rows.Scan(&c.ID, &c.TicketID, &c.PersonName, &c.Category, &c.Message, &created); err != nil {
			return nil, fmt.Errorf("ticket store: scan comment: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339, created)
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

// --- helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanTicket(row scannable) (*protocol.Ticket, error) {
	var t protocol.Ticket
	var status, createdAt string
	var inProgress, inTesting, readyForReview, completed *string

	err := row.Scan(&t.ID, &t.Summary, &t.Description, &t.Category, &t.Priority,
		&t.CustomerName, &t.Server, &t.StartDate, &t.EndDate,
		&t.Assignee, &t.Reporter, &t.Manager, &t.Developer, &t.AttachmentURL,
		&status, &inProgress, &inTesting, &readyForReview, &completed, &createdAt)
	if err != nil {
		return nil, err
	}

	t.Status = protocol.TicketStatus(status)
	t.InProgressAt = parseStamp(inProgress)
	t.InTestingAt = parseStamp(inTesting)
	t.ReadyForReviewAt = parseStamp(readyForReview)
	t.CompletedAt = parseStamp(completed)
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &t, nil
}

func parseStamp(s *string) *time.Time {
	if s == nil {
		return nil
	}
	ts, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &ts
}
