package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/trackline-io/trackline/internal/analysis"
	"github.com/trackline-io/trackline/pkg/protocol"
)

type progressReportRequest struct {
	TicketID   string `json:"ticket_id"`
	BranchName string `json:"branch_name"`
}

func (s *Server) handleProgressReport(w http.ResponseWriter, r *http.Request) {
	var req progressReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.TicketID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket_id is required"})
		return
	}

	t, err := s.tickets.Get(req.TicketID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	links, err := s.branches.ListByTicket(req.TicketID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	// Default to the ticket's most recent branch when none is named; a
	// named branch is matched against the registered links so the report
	// records the link it analyzed.
	var link *protocol.BranchLink
	if req.BranchName == "" {
		if len(links) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket has no linked branch"})
			return
		}
		link = links[0]
	} else {
		for _, l := range links {
			if l.BranchName == req.BranchName {
				link = l
				break
			}
		}
		if link == nil {
			// Unregistered branch; analyze it against the configured
			// repository without a link ID.
			link = &protocol.BranchLink{
				TicketID:   req.TicketID,
				BranchName: req.BranchName,
				Workspace:  s.cfg.Workspace,
				RepoSlug:   s.cfg.RepoSlug,
			}
		}
	}

	report, err := s.analyzer.GenerateProgressReport(r.Context(), t, link)
	if err != nil {
		s.writeAnalysisError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (s *Server) handleTicketReports(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("ticketID")
	if _, err := s.tickets.Get(ticketID); err != nil {
		s.writeError(w, r, err)
		return
	}
	reports, err := s.analyzer.ReportsByTicket(ticketID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if reports == nil {
		reports = []*protocol.ProgressReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

type ticketIDRequest struct {
	TicketID string `json:"ticket_id"`
}

func (s *Server) handleChecklist(w http.ResponseWriter, r *http.Request) {
	s.handleGeneration(w, r, func(t *protocol.Ticket) (any, error) {
		return s.analyzer.GenerateChecklist(r.Context(), t)
	})
}

func (s *Server) handleTestCases(w http.ResponseWriter, r *http.Request) {
	s.handleGeneration(w, r, func(t *protocol.Ticket) (any, error) {
		return s.analyzer.GenerateTestCases(r.Context(), t)
	})
}

func (s *Server) handleGeneration(w http.ResponseWriter, r *http.Request, generate func(*protocol.Ticket) (any, error)) {
	var req ticketIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.TicketID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket_id is required"})
		return
	}

	t, err := s.tickets.Get(req.TicketID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := generate(t)
	if err != nil {
		s.writeAnalysisError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleTicketChecklists(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("ticketID")
	if _, err := s.tickets.Get(ticketID); err != nil {
		s.writeError(w, r, err)
		return
	}
	checklists, err := s.analyzer.ChecklistsByTicket(ticketID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if checklists == nil {
		checklists = []*protocol.RequirementChecklist{}
	}
	writeJSON(w, http.StatusOK, checklists)
}

func (s *Server) handleTicketTestCases(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("ticketID")
	if _, err := s.tickets.Get(ticketID); err != nil {
		s.writeError(w, r, err)
		return
	}
	sets, err := s.analyzer.TestCasesByTicket(ticketID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sets == nil {
		sets = []*protocol.TestCaseSet{}
	}
	writeJSON(w, http.StatusOK, sets)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	summary, err := s.analyzer.DeveloperPerformance(r.Context(), name)
	if err != nil {
		if strings.Contains(err.Error(), "no progress reports") {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		s.writeAnalysisError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// writeAnalysisError treats unusable model output as an upstream failure
// rather than an internal one.
func (s *Server) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, analysis.ErrBadCompletion) {
		s.logger.Warn("model returned unusable output", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeError(w, r, err)
}
