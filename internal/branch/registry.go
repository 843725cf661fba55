// Package branch maintains the branch↔ticket linkage registry: the mapping
// that lets an inbound webhook, keyed only by branch name, be resolved back
// to the ticket whose lifecycle it drives.
package branch

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// ErrDuplicate is returned when a branch name is already registered, for
// any ticket. Branch names are globally unique: the webhook lookup key has
// no repository qualifier, so a collision is unresolvable.
var ErrDuplicate = errors.New("branch name already registered")

// ErrNotFound is returned when a branch name or link ID is not registered.
var ErrNotFound = errors.New("branch link not found")

// Registry is the SQLite-backed linkage store.
type Registry struct {
	db *sql.DB
}

// NewRegistry runs migrations and returns the registry.
func NewRegistry(db *sql.DB) (*Registry, error) {
	r := &Registry{db: db}
	if err := r.migrate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS branch_links (
			id          TEXT PRIMARY KEY,
			ticket_id   TEXT NOT NULL,
			branch_name TEXT NOT NULL UNIQUE,
			workspace   TEXT NOT NULL,
			repo_slug   TEXT NOT NULL,
			commit_hash TEXT NOT NULL DEFAULT '',
			branch_url  TEXT NOT NULL DEFAULT '',
			created_by  TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_branch_links_ticket ON branch_links(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_branch_links_status ON branch_links(status);
	`)
	if err != nil {
		return fmt.Errorf("branch registry: migrate: %w", err)
	}
	return nil
}

// Begin claims the branch name before the remote branch is created. The
// UNIQUE constraint on branch_name makes the claim atomic: a concurrent
// registration for the same name fails with ErrDuplicate, and no remote
// branch is created for it.
func (r *Registry) Begin(link *protocol.BranchLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	link.Status = protocol.BranchPending

	_, err := r.db.Exec(`INSERT INTO branch_links
		(id, ticket_id, branch_name, workspace, repo_slug, commit_hash, branch_url, created_by, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.TicketID, link.BranchName, link.Workspace, link.RepoSlug,
		link.CommitHash, link.BranchURL, link.CreatedBy,
		string(link.Status), link.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("branch %q: %w", link.BranchName, ErrDuplicate)
		}
		return fmt.Errorf("branch registry: begin: %w", err)
	}
	return nil
}

// Activate marks a pending link active once the hosting API has confirmed
// the branch, recording the base commit hash and public URL.
func (r *Registry) Activate(id, commitHash, branchURL string) error {
	result, err := r.db.Exec(`UPDATE branch_links SET status = 'active', commit_hash = ?, branch_url = ? WHERE id = ?`,
		commitHash, branchURL, id)
	if err != nil {
		return fmt.Errorf("branch registry: activate: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("link %q: %w", id, ErrNotFound)
	}
	return nil
}

// Abandon removes a pending claim whose remote branch creation failed.
func (r *Registry) Abandon(id string) error {
	if _, err := r.db.Exec(`DELETE FROM branch_links WHERE id = ? AND status = 'pending'`, id); err != nil {
		return fmt.Errorf("branch registry: abandon: %w", err)
	}
	return nil
}

// Register records a confirmed link in one step. Used when the caller has
// already verified the branch against the hosting system.
func (r *Registry) Register(link *protocol.BranchLink) error {
	if err := r.Begin(link); err != nil {
		return err
	}
	if err := r.Activate(link.ID, link.CommitHash, link.BranchURL); err != nil {
		return err
	}
	link.Status = protocol.BranchActive
	return nil
}

// Resolve returns the ticket ID a branch name is linked to. Pending rows
// resolve too: a registration whose remote creation succeeded but whose
// activation failed stays pending until the reconciler settles it, and
// events for that real branch must keep reaching the ticket in the
// meantime. The cost is that an event arriving inside the short window
// before a doomed claim is abandoned can also resolve; such a claim only
// collides with a branch that already exists remotely, and the saga rejects
// it within the same request.
func (r *Registry) Resolve(branchName string) (string, error) {
	var ticketID string
	err := r.db.QueryRow(`SELECT ticket_id FROM branch_links WHERE branch_name = ?`, branchName).Scan(&ticketID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("branch %q: %w", branchName, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("branch registry: resolve: %w", err)
	}
	return ticketID, nil
}

// ListByTicket returns a ticket's branch links, newest first.
func (r *Registry) ListByTicket(ticketID string) ([]*protocol.BranchLink, error) {
	rows, err := r.db.Query(`SELECT id, ticket_id, branch_name, workspace, repo_slug, commit_hash, branch_url, created_by, status, created_at
		FROM branch_links WHERE ticket_id = ? ORDER BY created_at DESC, id DESC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("branch registry: list: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

// PendingOlderThan returns pending links created before the cutoff; these
// are registrations that never heard back from the hosting API.
func (r *Registry) PendingOlderThan(cutoff time.Time) ([]*protocol.BranchLink, error) {
	rows, err := r.db.Query(`SELECT id, ticket_id, branch_name, workspace, repo_slug, commit_hash, branch_url, created_by, status, created_at
		FROM branch_links WHERE status = 'pending' AND created_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("branch registry: pending: %w", err)
	}
	defer rows.Close()
	return scanLinks(rows)
}

func scanLinks(rows *sql.Rows) ([]*protocol.BranchLink, error) {
	var links []*protocol.BranchLink
	for rows.Next() {
		var l protocol.BranchLink
		var status, created string
		if err := rows.Scan(&l.ID, &l.TicketID, &l.BranchName, &l.Workspace, &l.RepoSlug,
			&l.CommitHash, &l.BranchURL, &l.CreatedBy, &status, &created); err != nil {
			return nil, fmt.Errorf("branch registry: scan: %w", err)
		}
		l.Status = protocol.BranchStatus(status)
		l.CreatedAt, _ = time.Parse(time.RFC3339, created)
		links = append(links, &l)
	}
	return links, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
