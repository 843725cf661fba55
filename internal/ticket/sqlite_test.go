package ticket

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/trackline-io/trackline/internal/store"
	"github.com/trackline-io/trackline/pkg/protocol"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func newTicket(id string) *protocol.Ticket {
	return &protocol.Ticket{
		ID:        id,
		Summary:   "Fix the login flow",
		Priority:  "high",
		Developer: "mira",
		EndDate:   "2026-09-15",
		CreatedAt: time.Now().Truncate(time.Second),
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	tk := newTicket("t-001")
	if err := s.Create(tk); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get("t-001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Summary != "Fix the login flow" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Status != protocol.TicketCreated {
		t.Errorf("status = %q, want created", got.Status)
	}
	if got.InProgressAt != nil || got.CompletedAt != nil {
		t.Error("fresh ticket should have no stage timestamps")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyTransition(t *testing.T) {
	s := newTestStore(t)
	s.Create(newTicket("t-002"))

	at := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	if err := s.ApplyTransition("t-002", protocol.TicketInTesting, at); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _ := s.Get("t-002")
	if got.Status != protocol.TicketInTesting {
		t.Errorf("status = %q", got.Status)
	}
	if got.InTestingAt == nil || !got.InTestingAt.Equal(at) {
		t.Errorf("in_testing_at = %v, want %v", got.InTestingAt, at)
	}
	// Other stage timestamps stay untouched.
	if got.InProgressAt != nil || got.ReadyForReviewAt != nil || got.CompletedAt != nil {
		t.Error("unrelated timestamps were set")
	}
}

func TestApplyTransition_RedeliveryOverwritesStamp(t *testing.T) {
	s := newTestStore(t)
	s.Create(newTicket("t-003"))

	first := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)
	s.ApplyTransition("t-003", protocol.TicketInProgress, first)
	if err := s.ApplyTransition("t-003", protocol.TicketInProgress, second); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _ := s.Get("t-003")
	if !got.InProgressAt.Equal(second) {
		t.Errorf("in_progress_at = %v, want second delivery %v", got.InProgressAt, second)
	}
}

func TestApplyTransition_HistoryIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	s.Create(newTicket("t-004"))

	at := time.Now().Truncate(time.Second)
	s.ApplyTransition("t-004", protocol.TicketInProgress, at)
	s.ApplyTransition("t-004", protocol.TicketCompleted, at.Add(time.Hour))

	got, _ := s.Get("t-004")
	if got.Status != protocol.TicketCompleted {
		t.Errorf("status = %q", got.Status)
	}
	// Earlier stage stamp survives later transitions.
	if got.InProgressAt == nil {
		t.Error("in_progress_at was cleared")
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestApplyTransition_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.ApplyTransition("ghost", protocol.TicketInProgress, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestApplyTransition_NoColumnForCreated(t *testing.T) {
	s := newTestStore(t)
	s.Create(newTicket("t-005"))
	if err := s.ApplyTransition("t-005", protocol.TicketCreated, time.Now()); err == nil {
		t.Error("expected error for status without a timestamp column")
	}
}

func TestList_Filters(t *testing.T) {
	s := newTestStore(t)

	for i := range 3 {
		tk := newTicket(fmt.Sprintf("t-%d", i))
		tk.CreatedAt = time.Now().Add(time.Duration(-i) * time.Minute).Truncate(time.Second)
		s.Create(tk)
	}
	s.ApplyTransition("t-1", protocol.TicketInProgress, time.Now())

	all, err := s.List(Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d tickets", len(all))
	}
	// Newest first.
	if all[0].ID != "t-0" {
		t.Errorf("first = %s, want t-0", all[0].ID)
	}

	inProgress := protocol.TicketInProgress
	filtered, _ := s.List(Filter{Status: &inProgress})
	if len(filtered) != 1 || filtered[0].ID != "t-1" {
		t.Errorf("status filter returned %v", filtered)
	}

	byDev, _ := s.List(Filter{Developer: "mira", Limit: 2})
	if len(byDev) != 2 {
		t.Errorf("developer filter with limit returned %d", len(byDev))
	}

	upcoming, _ := s.List(Filter{EndDateFrom: "2026-09-01"})
	if len(upcoming) != 3 {
		t.Errorf("end date filter returned %d", len(upcoming))
	}
	none, _ := s.List(Filter{EndDateFrom: "2026-10-01"})
	if len(none) != 0 {
		t.Errorf("expected no tickets past deadline window, got %d", len(none))
	}
}

func TestComments(t *testing.T) {
	s := newTestStore(t)
	s.Create(newTicket("t-006"))

	c := &protocol.Comment{
		ID: "c-1", TicketID: "t-006", PersonName: "arjun",
		Category: "qa", Message: "Repro steps attached",
		CreatedAt: time.Now().Truncate(time.Second),
	}
	if err := s.AddComment(c); err != nil {
		t.Fatalf("add comment: %v", err)
	}

	got, err := s.Comments("t-006")
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(got) != 1 || got[0].Message != "Repro steps attached" {
		t.Errorf("comments = %v", got)
	}
}

func TestAddComment_TicketMissing(t *testing.T) {
	s := newTestStore(t)
	err := s.AddComment(&protocol.Comment{ID: "c-1", TicketID: "ghost", PersonName: "x", Category: "y", Message: "z", CreatedAt: time.Now()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
