package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackline-io/trackline/internal/ticket"
	"github.com/trackline-io/trackline/pkg/protocol"
)

var (
	errInvalidJSON = errors.New("invalid JSON body")
	errInvalidForm = errors.New("invalid multipart form")
)

// handleCreateTicket accepts either JSON or multipart/form-data. Multipart
// requests may carry an "attachment" file that is stored and linked from the
// ticket. Tickets with an end date also get a calendar event when the Google
// integration is connected.
func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.decodeTicket(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if t.Summary == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "summary is required"})
		return
	}
	if t.StartDate != "" && !validDate(t.StartDate) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start_date must be YYYY-MM-DD"})
		return
	}
	if t.EndDate != "" && !validDate(t.EndDate) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "end_date must be YYYY-MM-DD"})
		return
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = protocol.TicketCreated
	t.CreatedAt = time.Now().UTC()

	if err := s.tickets.Create(t); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "ticket id already exists"})
			return
		}
		s.writeError(w, r, err)
		return
	}

	if s.calendar != nil && t.EndDate != "" {
		// Calendar sync is best effort; the ticket is already committed.
		if err := s.calendar.CreateTicketEvent(r.Context(), t); err != nil {
			s.logger.Warn("calendar event creation failed", "ticket_id", t.ID, "error", err)
		}
	}
	s.notifier.TicketCreated(r.Context(), t)

	writeJSON(w, http.StatusCreated, t)
}

// decodeTicket reads a ticket from the request, storing a multipart
// attachment if one is present.
func (s *Server) decodeTicket(r *http.Request) (*protocol.Ticket, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "multipart/form-data") {
		var t protocol.Ticket
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			return nil, errInvalidJSON
		}
		return &t, nil
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, errInvalidForm
	}
	t := &protocol.Ticket{
		ID:           r.FormValue("id"),
		Summary:      r.FormValue("summary"),
		Description:  r.FormValue("description"),
		Category:     r.FormValue("category"),
		Priority:     r.FormValue("priority"),
		CustomerName: r.FormValue("customer_name"),
		Server:       r.FormValue("server"),
		StartDate:    r.FormValue("start_date"),
		EndDate:      r.FormValue("end_date"),
		Assignee:     r.FormValue("assignee"),
		Reporter:     r.FormValue("reporter"),
		Manager:      r.FormValue("manager"),
		Developer:    r.FormValue("developer"),
	}

	file, header, err := r.FormFile("attachment")
	if err == http.ErrMissingFile || s.attach == nil {
		return t, nil
	}
	if err != nil {
		return nil, errInvalidForm
	}
	defer file.Close()

	stored, err := s.attach.Save(header.Filename, file)
	if err != nil {
		return nil, err
	}
	t.AttachmentURL = "/api/attachments/" + stored
	return t, nil
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	filter := ticket.Filter{}
	if status := r.URL.Query().Get("status"); status != "" {
		ts := protocol.TicketStatus(status)
		filter.Status = &ts
	}
	filter.Developer = r.URL.Query().Get("developer")
	filter.EndDateFrom = r.URL.Query().Get("due_from")
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = n
		}
	}

	tickets, err := s.tickets.List(filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tickets == nil {
		tickets = []*protocol.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t, err := s.tickets.Get(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type addCommentRequest struct {
	TicketID   string `json:"ticket_id"`
	PersonName string `json:"person_name"`
	Category   string `json:"category"`
	Message    string `json:"message"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req addCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.TicketID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket_id and message are required"})
		return
	}

	c := &protocol.Comment{
		ID:         uuid.NewString(),
		TicketID:   req.TicketID,
		PersonName: req.PersonName,
		Category:   req.Category,
		Message:    req.Message,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.tickets.AddComment(c); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.tickets.Comments(r.PathValue("ticketID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if comments == nil {
		comments = []*protocol.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
