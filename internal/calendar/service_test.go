package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/trackline-io/trackline/internal/store"
	"github.com/trackline-io/trackline/pkg/protocol"
)

func testConfig() Config {
	return Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "http://localhost:8080/api/google/callback",
		StateSecret:  "state-secret",
	}
}

func newTestTokenStore(t *testing.T) *TokenStore {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewTokenStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

// fakeGoogle fakes the token endpoint and the Calendar v3 events API.
type fakeGoogle struct {
	mu      sync.Mutex
	events  map[string]map[string]any // event id -> body
	patches map[string]string         // event id -> last colorId
	nextID  int
}

func newFakeGoogle(t *testing.T) (*fakeGoogle, *httptest.Server) {
	t.Helper()
	fg := &fakeGoogle{events: map[string]map[string]any{}, patches: map[string]string{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			if r.Form.Get("code") != "good-code" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error": "invalid_grant"}`))
				return
			}
			json.NewEncoder(w).Encode(Token{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 3600})
		case "refresh_token":
			if r.Form.Get("refresh_token") != "rt-1" {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error": "invalid_grant"}`))
				return
			}
			json.NewEncoder(w).Encode(Token{AccessToken: "at-2", ExpiresIn: 3600})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	mux.HandleFunc("POST /calendar/v3/calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		fg.mu.Lock()
		fg.nextID++
		id := "evt-" + time.Now().Format("150405") + "-" + string(rune('a'+fg.nextID))
		fg.events[id] = body
		fg.mu.Unlock()

		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("PATCH /calendar/v3/calendars/primary/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		fg.mu.Lock()
		fg.patches[r.PathValue("id")] = body["colorId"]
		fg.mu.Unlock()
		w.Write([]byte(`{}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fg, srv
}

func newTestService(t *testing.T) (*Service, *TokenStore, *fakeGoogle) {
	t.Helper()
	fg, srv := newFakeGoogle(t)
	oauth := NewOAuth(testConfig(), WithOAuthEndpoints(srv.URL+"/auth", srv.URL+"/token"))
	ts := newTestTokenStore(t)
	svc := NewService(oauth, ts, nil, WithAPIBaseURL(srv.URL))
	return svc, ts, fg
}

func TestAuthURLAndState(t *testing.T) {
	oauth := NewOAuth(testConfig())

	raw, err := oauth.AuthURL("mira@example.com")
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := u.Query()
	if q.Get("client_id") != "client-id" || q.Get("access_type") != "offline" {
		t.Errorf("query = %v", q)
	}

	subject, err := oauth.VerifyState(q.Get("state"))
	if err != nil {
		t.Fatalf("verify state: %v", err)
	}
	if subject != "mira@example.com" {
		t.Errorf("subject = %q", subject)
	}
}

func TestVerifyState_Tampered(t *testing.T) {
	oauth := NewOAuth(testConfig())
	raw, _ := oauth.AuthURL("mira@example.com")
	u, _ := url.Parse(raw)
	state := u.Query().Get("state")

	other := NewOAuth(Config{StateSecret: "different"})
	if _, err := other.VerifyState(state); !errors.Is(err, ErrBadState) {
		t.Fatalf("err = %v, want ErrBadState", err)
	}
	if _, err := oauth.VerifyState("not-a-jwt"); !errors.Is(err, ErrBadState) {
		t.Fatalf("err = %v, want ErrBadState", err)
	}
}

func TestConnect(t *testing.T) {
	svc, ts, _ := newTestService(t)

	raw, _ := svc.AuthURL("mira@example.com")
	u, _ := url.Parse(raw)
	state := u.Query().Get("state")

	subject, err := svc.Connect(context.Background(), state, "good-code")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if subject != "mira@example.com" {
		t.Errorf("subject = %q", subject)
	}

	tok, err := ts.RefreshToken()
	if err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if tok != "rt-1" {
		t.Errorf("stored token = %q", tok)
	}
}

func TestConnect_BadCode(t *testing.T) {
	svc, _, _ := newTestService(t)
	raw, _ := svc.AuthURL("mira@example.com")
	u, _ := url.Parse(raw)

	if _, err := svc.Connect(context.Background(), u.Query().Get("state"), "wrong"); err == nil {
		t.Fatal("expected error for bad code")
	}
}

func TestCreateTicketEvent(t *testing.T) {
	svc, ts, fg := newTestService(t)
	connect(t, svc)

	due := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	tk := &protocol.Ticket{ID: "TL-3", Summary: "Ship exports", CustomerName: "Acme", EndDate: due}
	if err := svc.CreateTicketEvent(context.Background(), tk); err != nil {
		t.Fatalf("create event: %v", err)
	}

	fg.mu.Lock()
	defer fg.mu.Unlock()
	if len(fg.events) != 1 {
		t.Fatalf("events created = %d", len(fg.events))
	}
	for _, body := range fg.events {
		if !strings.Contains(body["summary"].(string), "TL-3") {
			t.Errorf("summary = %v", body["summary"])
		}
		// Two days out is inside the critical window.
		if body["colorId"] != colorCritical {
			t.Errorf("colorId = %v", body["colorId"])
		}
	}

	upcoming, err := ts.UpcomingEvents(time.Now().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("upcoming: %v", err)
	}
	if len(upcoming) != 1 || upcoming[0].TicketID != "TL-3" {
		t.Fatalf("upcoming = %+v", upcoming)
	}
}

func TestCreateTicketEvent_NoEndDate(t *testing.T) {
	svc, _, fg := newTestService(t)
	connect(t, svc)

	if err := svc.CreateTicketEvent(context.Background(), &protocol.Ticket{ID: "TL-4", Summary: "No deadline"}); err != nil {
		t.Fatalf("create event: %v", err)
	}
	if len(fg.events) != 0 {
		t.Errorf("events created = %d, want 0", len(fg.events))
	}
}

func TestCreateTicketEvent_NoAccountConnected(t *testing.T) {
	svc, _, _ := newTestService(t)
	tk := &protocol.Ticket{ID: "TL-5", Summary: "x", EndDate: "2026-12-01"}
	if err := svc.CreateTicketEvent(context.Background(), tk); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}
}

func TestRefreshUpcoming(t *testing.T) {
	svc, ts, fg := newTestService(t)
	connect(t, svc)

	soon := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	far := time.Now().AddDate(0, 0, 30).Format("2006-01-02")
	past := time.Now().AddDate(0, 0, -2).Format("2006-01-02")
	ts.SaveEvent("TL-1", "evt-soon", soon)
	ts.SaveEvent("TL-2", "evt-far", far)
	ts.SaveEvent("TL-0", "evt-past", past)

	if err := svc.RefreshUpcoming(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	fg.mu.Lock()
	defer fg.mu.Unlock()
	if fg.patches["evt-soon"] != colorCritical {
		t.Errorf("soon color = %q", fg.patches["evt-soon"])
	}
	if fg.patches["evt-far"] != colorRelaxed {
		t.Errorf("far color = %q", fg.patches["evt-far"])
	}
	if _, ok := fg.patches["evt-past"]; ok {
		t.Error("expired event must not be refreshed")
	}
}

func TestDeadlineColor(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		daysOut int
		want    string
	}{
		{30, colorRelaxed},
		{8, colorRelaxed},
		{7, colorWarning},
		{5, colorWarning},
		{3, colorCritical},
		{1, colorCritical},
		{0, colorCritical},
	}
	for _, tc := range cases {
		end := now.AddDate(0, 0, tc.daysOut)
		if got := deadlineColor(end, now); got != tc.want {
			t.Errorf("deadlineColor(+%dd) = %q, want %q", tc.daysOut, got, tc.want)
		}
	}
}

func connect(t *testing.T, svc *Service) {
	t.Helper()
	raw, _ := svc.AuthURL("team@example.com")
	u, _ := url.Parse(raw)
	if _, err := svc.Connect(context.Background(), u.Query().Get("state"), "good-code"); err != nil {
		t.Fatalf("connect: %v", err)
	}
}
