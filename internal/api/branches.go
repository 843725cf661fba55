package api

import (
	"encoding/json"
	"net/http"

	"github.com/trackline-io/trackline/pkg/protocol"
)

type createBranchRequest struct {
	TicketID   string `json:"ticket_id"`
	BranchName string `json:"branch_name"`
	// Workspace and RepoSlug default to the configured repository.
	Workspace string `json:"workspace,omitempty"`
	RepoSlug  string `json:"repo_slug,omitempty"`
	// From is the branch to fork off; defaults to the configured main branch.
	From      string `json:"from,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

// handleCreateBranch creates a remote branch and registers the link, in an
// order that survives crashes between the two writes: the name is claimed
// locally first (a pending row), then the branch is created remotely, then
// the claim is activated. A crash leaves a pending row for the reconciler to
// settle; it never leaves an untracked remote branch with a registered name.
func (s *Server) handleCreateBranch(w http.ResponseWriter, r *http.Request) {
	var req createBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.TicketID == "" || req.BranchName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "ticket_id and branch_name are required"})
		return
	}
	if _, err := s.tickets.Get(req.TicketID); err != nil {
		s.writeError(w, r, err)
		return
	}
	from := req.From
	if from == "" {
		from = s.cfg.MainBranch
	}
	workspace := req.Workspace
	if workspace == "" {
		workspace = s.cfg.Workspace
	}
	repoSlug := req.RepoSlug
	if repoSlug == "" {
		repoSlug = s.cfg.RepoSlug
	}

	link := &protocol.BranchLink{
		TicketID:   req.TicketID,
		BranchName: req.BranchName,
		Workspace:  workspace,
		RepoSlug:   repoSlug,
		CreatedBy:  req.CreatedBy,
	}
	if err := s.branches.Begin(link); err != nil {
		s.writeError(w, r, err)
		return
	}

	head, err := s.hosting.BranchHead(r.Context(), workspace, repoSlug, from)
	if err != nil {
		s.abandonAndFail(w, r, link.ID, err)
		return
	}

	branchURL, err := s.hosting.CreateBranch(r.Context(), workspace, repoSlug, req.BranchName, head)
	if err != nil {
		// The name already existing remotely also abandons the claim: the
		// existing branch is not ours to link.
		s.abandonAndFail(w, r, link.ID, err)
		return
	}

	if err := s.branches.Activate(link.ID, head, branchURL); err != nil {
		// The remote branch exists but the registry write failed. Surface a
		// partial success so the caller knows the branch is real; the
		// pending row stays for the reconciler.
		s.logger.Error("branch created but activation failed", "branch", req.BranchName, "error", err)
		writeJSON(w, http.StatusMultiStatus, map[string]string{
			"error":      "branch created remotely but local registration is incomplete",
			"branch_url": branchURL,
		})
		return
	}

	link.CommitHash = head
	link.BranchURL = branchURL
	link.Status = protocol.BranchActive
	s.notifier.BranchLinked(r.Context(), req.TicketID, req.BranchName, branchURL)

	s.logger.Info("branch created", "ticket_id", req.TicketID, "branch", req.BranchName, "from", from)
	writeJSON(w, http.StatusCreated, link)
}

// abandonAndFail rolls back a pending claim after a remote failure, then
// maps the remote error: a missing base branch is 404, a branch-exists
// collision is 409 even though the claim itself succeeded.
func (s *Server) abandonAndFail(w http.ResponseWriter, r *http.Request, linkID string, err error) {
	if abandonErr := s.branches.Abandon(linkID); abandonErr != nil {
		s.logger.Error("abandoning pending branch link failed", "link_id", linkID, "error", abandonErr)
	}
	s.writeError(w, r, err)
}

func (s *Server) handleTicketBranches(w http.ResponseWriter, r *http.Request) {
	ticketID := r.PathValue("ticketID")
	if _, err := s.tickets.Get(ticketID); err != nil {
		s.writeError(w, r, err)
		return
	}
	links, err := s.branches.ListByTicket(ticketID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if links == nil {
		links = []*protocol.BranchLink{}
	}
	writeJSON(w, http.StatusOK, links)
}
