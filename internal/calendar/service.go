package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// Google Calendar color IDs by deadline proximity.
const (
	colorRelaxed  = "10" // more than a week out
	colorWarning  = "5"  // within a week
	colorCritical = "11" // three days or less
)

// Service maintains one all-day calendar event per ticket deadline.
type Service struct {
	oauth      *OAuth
	store      *TokenStore
	client     *http.Client
	apiBaseURL string
	calendarID string
	logger     *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithAPIBaseURL overrides the Calendar API base URL (tests).
func WithAPIBaseURL(u string) ServiceOption {
	return func(s *Service) { s.apiBaseURL = u }
}

// WithCalendarID targets a calendar other than the account's primary one.
func WithCalendarID(id string) ServiceOption {
	return func(s *Service) { s.calendarID = id }
}

// NewService wires the calendar sync together.
func NewService(oauth *OAuth, store *TokenStore, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		oauth:      oauth,
		store:      store,
		client:     &http.Client{Timeout: 30 * time.Second},
		apiBaseURL: "https://www.googleapis.com",
		calendarID: "primary",
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect finishes the OAuth callback: verifies state, exchanges the code
// and stores the refresh token.
func (s *Service) Connect(ctx context.Context, state, code string) (string, error) {
	subject, err := s.oauth.VerifyState(state)
	if err != nil {
		return "", err
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	if tok.RefreshToken == "" {
		return "", fmt.Errorf("calendar: google returned no refresh token")
	}
	if err := s.store.SaveToken(subject, tok.RefreshToken); err != nil {
		return "", err
	}
	s.logger.Info("google calendar connected", "subject", subject)
	return subject, nil
}

// AuthURL exposes the consent URL for the HTTP layer.
func (s *Service) AuthURL(subject string) (string, error) {
	return s.oauth.AuthURL(subject)
}

// CreateTicketEvent creates (or replaces) the all-day deadline event for a
// ticket. Tickets without an end date are skipped silently.
func (s *Service) CreateTicketEvent(ctx context.Context, t *protocol.Ticket) error {
	if t.EndDate == "" {
		return nil
	}
	end, err := time.Parse("2006-01-02", t.EndDate)
	if err != nil {
		return fmt.Errorf("calendar: bad end date %q: %w", t.EndDate, err)
	}

	accessToken, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	body := eventBody(t.ID, t.Summary, t.CustomerName, end)
	var created struct {
		ID string `json:"id"`
	}
	endpoint := fmt.Sprintf("%s/calendar/v3/calendars/%s/events", s.apiBaseURL, url.PathEscape(s.calendarID))
	if err := s.call(ctx, http.MethodPost, endpoint, accessToken, body, &created); err != nil {
		return err
	}

	if err := s.store.SaveEvent(t.ID, created.ID, t.EndDate); err != nil {
		return err
	}
	s.logger.Info("calendar event created", "ticket_id", t.ID, "event_id", created.ID, "end_date", t.EndDate)
	return nil
}

// RefreshUpcoming re-colors every tracked event whose deadline has not
// passed, so colors track the shrinking time budget. Runs from the scheduler.
func (s *Service) RefreshUpcoming(ctx context.Context) error {
	today := time.Now().Format("2006-01-02")
	events, err := s.store.UpcomingEvents(today)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	accessToken, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, e := range events {
		end, err := time.Parse("2006-01-02", e.EndDate)
		if err != nil {
			continue
		}
		endpoint := fmt.Sprintf("%s/calendar/v3/calendars/%s/events/%s",
			s.apiBaseURL, url.PathEscape(s.calendarID), url.PathEscape(e.EventID))
		patch := map[string]string{"colorId": deadlineColor(end, time.Now())}
		if err := s.call(ctx, http.MethodPatch, endpoint, accessToken, patch, nil); err != nil {
			s.logger.Warn("calendar event refresh failed", "ticket_id", e.TicketID, "error", err)
			failed++
		}
	}
	s.logger.Info("calendar events refreshed", "total", len(events), "failed", failed)
	return nil
}

func (s *Service) accessToken(ctx context.Context) (string, error) {
	refresh, err := s.store.RefreshToken()
	if err != nil {
		return "", err
	}
	return s.oauth.AccessToken(ctx, refresh)
}

func (s *Service) call(ctx context.Context, method, endpoint, accessToken string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("calendar: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("calendar: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calendar: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("calendar: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("calendar: api status %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("calendar: decode response: %w", err)
		}
	}
	return nil
}

// eventBody builds an all-day event. Google treats the end date as exclusive,
// so a one-day event on the deadline spans [deadline, deadline+1).
func eventBody(ticketID, summary, customer string, end time.Time) map[string]any {
	title := fmt.Sprintf("[%s] %s", ticketID, summary)
	description := "Ticket deadline"
	if customer != "" {
		description = fmt.Sprintf("Ticket deadline for %s", customer)
	}
	return map[string]any{
		"summary":     title,
		"description": description,
		"colorId":     deadlineColor(end, time.Now()),
		"start":       map[string]string{"date": end.Format("2006-01-02")},
		"end":         map[string]string{"date": end.AddDate(0, 0, 1).Format("2006-01-02")},
	}
}

// deadlineColor maps time remaining to a calendar color: green beyond a week,
// yellow within a week, red at three days or less.
func deadlineColor(end, now time.Time) string {
	days := int(end.Sub(now).Hours() / 24)
	switch {
	case days > 7:
		return colorRelaxed
	case days > 3:
		return colorWarning
	default:
		return colorCritical
	}
}
