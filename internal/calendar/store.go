package calendar

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNoToken is returned when no Google account has been connected yet.
var ErrNoToken = errors.New("calendar: no google account connected")

// TokenStore persists Google refresh tokens and the ticket-to-event mapping.
type TokenStore struct {
	db *sql.DB
}

// NewTokenStore runs migrations and returns the store.
func NewTokenStore(db *sql.DB) (*TokenStore, error) {
	s := &TokenStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *TokenStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS google_tokens (
			subject       TEXT PRIMARY KEY,
			refresh_token TEXT NOT NULL,
			connected_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS calendar_events (
			ticket_id  TEXT PRIMARY KEY,
			event_id   TEXT NOT NULL,
			end_date   TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("calendar store: migrate: %w", err)
	}
	return nil
}

// SaveToken stores (or replaces) a subject's refresh token.
func (s *TokenStore) SaveToken(subject, refreshToken string) error {
	_, err := s.db.Exec(`INSERT INTO google_tokens (subject, refresh_token, connected_at)
		VALUES (?, ?, ?)
		ON CONFLICT(subject) DO UPDATE SET refresh_token = excluded.refresh_token, connected_at = excluded.connected_at`,
		subject, refreshToken, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("calendar store: save token: %w", err)
	}
	return nil
}

// RefreshToken returns the most recently connected refresh token. The system
// syncs one shared team calendar, so any connected account serves.
func (s *TokenStore) RefreshToken() (string, error) {
	var tok string
	err := s.db.QueryRow(`SELECT refresh_token FROM google_tokens ORDER BY connected_at DESC LIMIT 1`).Scan(&tok)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("calendar store: refresh token: %w", err)
	}
	return tok, nil
}

// SaveEvent records which calendar event tracks a ticket.
func (s *TokenStore) SaveEvent(ticketID, eventID, endDate string) error {
	_, err := s.db.Exec(`INSERT INTO calendar_events (ticket_id, event_id, end_date, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ticket_id) DO UPDATE SET event_id = excluded.event_id, end_date = excluded.end_date`,
		ticketID, eventID, endDate, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("calendar store: save event: %w", err)
	}
	return nil
}

// TrackedEvent is one ticket's calendar event mapping.
type TrackedEvent struct {
	TicketID string
	EventID  string
	EndDate  string
}

// UpcomingEvents returns events whose deadline has not passed yet.
func (s *TokenStore) UpcomingEvents(today string) ([]TrackedEvent, error) {
	rows, err := s.db.Query(`SELECT ticket_id, event_id, end_date FROM calendar_events WHERE end_date >= ?`, today)
	if err != nil {
		return nil, fmt.Errorf("calendar store: upcoming events: %w", err)
	}
	defer rows.Close()

	var events []TrackedEvent
	for rows.Next() {
		var e TrackedEvent
		if err := rows.Scan(&e.TicketID, &e.EventID, &e.EndDate); err != nil {
			return nil, fmt.Errorf("calendar store: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
