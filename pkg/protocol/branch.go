package protocol

import "time"

// BranchStatus tracks the registration saga of a branch link: a link is
// written as pending before the remote branch is created and flipped to
// active once the hosting API confirms it.
type BranchStatus string

const (
	BranchPending BranchStatus = "pending"
	BranchActive  BranchStatus = "active"
)

// BranchLink associates a source-control branch with the ticket it
// implements. The branch name is globally unique in the registry: inbound
// webhooks carry only the branch name, with no repository qualifier, so the
// name is the lookup key.
type BranchLink struct {
	ID         string       `json:"id"`
	TicketID   string       `json:"ticket_id"`
	BranchName string       `json:"branch_name"`
	Workspace  string       `json:"workspace"`
	RepoSlug   string       `json:"repo_slug"`
	CommitHash string       `json:"commit_hash,omitempty"`
	BranchURL  string       `json:"branch_url,omitempty"`
	CreatedBy  string       `json:"created_by,omitempty"`
	Status     BranchStatus `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
}
