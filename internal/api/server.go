// Package api is the trackline REST server: ticket CRUD, branch operations,
// AI report endpoints, the webhook receiver and the Google OAuth callbacks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/trackline-io/trackline/internal/attach"
	"github.com/trackline-io/trackline/internal/branch"
	"github.com/trackline-io/trackline/internal/hosting"
	"github.com/trackline-io/trackline/internal/logbuf"
	"github.com/trackline-io/trackline/internal/notify"
	"github.com/trackline-io/trackline/internal/ticket"
	"github.com/trackline-io/trackline/pkg/protocol"
)

// Hosting is the slice of the Bitbucket client the server needs.
type Hosting interface {
	BranchHead(ctx context.Context, workspace, repoSlug, branch string) (string, error)
	CreateBranch(ctx context.Context, workspace, repoSlug, name, targetHash string) (string, error)
}

// Analyzer runs the AI flows behind the report endpoints.
type Analyzer interface {
	GenerateProgressReport(ctx context.Context, t *protocol.Ticket, link *protocol.BranchLink) (*protocol.ProgressReport, error)
	ReportsByTicket(ticketID string) ([]*protocol.ProgressReport, error)
	GenerateTestCases(ctx context.Context, t *protocol.Ticket) (*protocol.TestCaseSet, error)
	TestCasesByTicket(ticketID string) ([]*protocol.TestCaseSet, error)
	GenerateChecklist(ctx context.Context, t *protocol.Ticket) (*protocol.RequirementChecklist, error)
	ChecklistsByTicket(ticketID string) ([]*protocol.RequirementChecklist, error)
	DeveloperPerformance(ctx context.Context, developer string) (*protocol.PerformanceSummary, error)
}

// CalendarService is the slice of the calendar integration the server needs.
// A nil CalendarService disables the Google endpoints.
type CalendarService interface {
	AuthURL(subject string) (string, error)
	Connect(ctx context.Context, state, code string) (string, error)
	CreateTicketEvent(ctx context.Context, t *protocol.Ticket) error
}

// LogQuerier serves the /api/logs endpoint. Matches logbuf.Buffer.
type LogQuerier interface {
	Tail(minLevel slog.Level, limit int) []logbuf.Entry
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // API key for Bearer auth

	// Defaults for branch operations.
	Workspace  string
	RepoSlug   string
	MainBranch string // branch new work branches from; defaults to "main"
}

// Server is the trackline REST API server.
type Server struct {
	cfg      Config
	tickets  ticket.Store
	branches *branch.Registry
	hosting  Hosting
	analyzer Analyzer
	calendar CalendarService
	attach   *attach.Store
	notifier *notify.Notifier
	webhook  http.Handler
	logs     LogQuerier
	logger   *slog.Logger
	srv      *http.Server
}

// Deps bundles the server's collaborators. calendar, notifier, webhook and
// logs may be nil.
type Deps struct {
	Tickets  ticket.Store
	Branches *branch.Registry
	Hosting  Hosting
	Analyzer Analyzer
	Calendar CalendarService
	Attach   *attach.Store
	Notifier *notify.Notifier
	Webhook  http.Handler
	Logs     LogQuerier
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MainBranch == "" {
		cfg.MainBranch = "main"
	}
	s := &Server{
		cfg:      cfg,
		tickets:  deps.Tickets,
		branches: deps.Branches,
		hosting:  deps.Hosting,
		analyzer: deps.Analyzer,
		calendar: deps.Calendar,
		attach:   deps.Attach,
		notifier: deps.Notifier,
		webhook:  deps.Webhook,
		logs:     deps.Logs,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/issues", s.requireAuth(s.handleCreateTicket))
	mux.HandleFunc("GET /api/issues", s.requireAuth(s.handleListTickets))
	mux.HandleFunc("GET /api/issues/{id}", s.requireAuth(s.handleGetTicket))
	mux.HandleFunc("POST /api/ticket-comments", s.requireAuth(s.handleAddComment))
	mux.HandleFunc("GET /api/ticket-comments/{ticketID}", s.requireAuth(s.handleListComments))

	mux.HandleFunc("POST /api/bitbucket/create-branch", s.requireAuth(s.handleCreateBranch))
	mux.HandleFunc("GET /api/bitbucket/get/{ticketID}", s.requireAuth(s.handleTicketBranches))
	mux.HandleFunc("POST /api/bitbucket/progress-report", s.requireAuth(s.handleProgressReport))
	mux.HandleFunc("GET /api/bitbucket/reports/{ticketID}", s.requireAuth(s.handleTicketReports))
	if s.webhook != nil {
		mux.Handle("POST /api/bitbucket/webhook", s.webhook)
	}

	mux.HandleFunc("POST /api/tickets/checklist", s.requireAuth(s.handleChecklist))
	mux.HandleFunc("GET /api/tickets/checklist/{ticketID}", s.requireAuth(s.handleTicketChecklists))
	mux.HandleFunc("POST /api/tickets/testcases", s.requireAuth(s.handleTestCases))
	mux.HandleFunc("GET /api/tickets/testcases/{ticketID}", s.requireAuth(s.handleTicketTestCases))
	mux.HandleFunc("GET /api/developers/{name}/performance", s.requireAuth(s.handlePerformance))

	if s.calendar != nil {
		mux.HandleFunc("GET /api/google/auth", s.requireAuth(s.handleGoogleAuth))
		mux.HandleFunc("GET /api/google/callback", s.handleGoogleCallback)
	}

	mux.HandleFunc("GET /api/attachments/{name}", s.handleGetAttachment)
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Simple handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	if s.attach == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "attachments disabled"})
		return
	}
	rc, err := s.attach.Open(r.PathValue("name"))
	if errors.Is(err, attach.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "attachment not found"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	io.Copy(w, rc)
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	switch strings.ToLower(r.URL.Query().Get("level")) {
	case "info":
		minLevel = slog.LevelInfo
	case "warn":
		minLevel = slog.LevelWarn
	case "error":
		minLevel = slog.LevelError
	}

	entries := s.logs.Tail(minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// --- Error mapping ---

// writeError maps domain errors to HTTP statuses: missing records to 404,
// registry collisions to 409, upstream hosting failures to their own status.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *hosting.APIError
	switch {
	case errors.Is(err, ticket.ErrNotFound), errors.Is(err, branch.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, branch.ErrDuplicate), errors.Is(err, hosting.ErrBranchExists):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, hosting.ErrBranchNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.As(err, &apiErr):
		s.logger.Warn("upstream api error", "path", r.URL.Path, "status", apiErr.Status, "error", err)
		writeJSON(w, apiErr.Status, map[string]string{"error": err.Error()})
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}
