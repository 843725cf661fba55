package branch

import (
	"context"
	"log/slog"
	"time"
)

// HeadLookup asks the hosting system whether a branch exists, returning its
// head commit hash and public URL when it does. Implemented by the hosting
// client.
type HeadLookup interface {
	BranchInfo(ctx context.Context, workspace, repoSlug, branch string) (hash, url string, found bool, err error)
}

// Reconciler sweeps pending links whose registration never completed.
// A pending row means we claimed the name but either the remote call or
// the activation write was cut short; the sweep settles each row against
// what the hosting system actually has.
type Reconciler struct {
	Registry *Registry
	Hosting  HeadLookup
	// MinAge keeps the sweep away from registrations still in flight.
	MinAge time.Duration
	Logger *slog.Logger
}

// Run performs one sweep. Each pending link older than MinAge is activated
// if its branch exists remotely, abandoned otherwise.
func (r *Reconciler) Run(ctx context.Context) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	minAge := r.MinAge
	if minAge <= 0 {
		minAge = 15 * time.Minute
	}

	pending, err := r.Registry.PendingOlderThan(time.Now().Add(-minAge))
	if err != nil {
		return err
	}

	for _, link := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		hash, url, found, err := r.Hosting.BranchInfo(ctx, link.Workspace, link.RepoSlug, link.BranchName)
		if err != nil {
			// Hosting unreachable; leave the row for the next sweep.
			logger.Warn("reconcile: hosting lookup failed", "branch", link.BranchName, "error", err)
			continue
		}
		if found {
			if err := r.Registry.Activate(link.ID, hash, url); err != nil {
				logger.Error("reconcile: activate failed", "branch", link.BranchName, "error", err)
				continue
			}
			logger.Info("reconcile: pending link activated", "branch", link.BranchName, "ticket", link.TicketID)
			continue
		}
		if err := r.Registry.Abandon(link.ID); err != nil {
			logger.Error("reconcile: abandon failed", "branch", link.BranchName, "error", err)
			continue
		}
		logger.Info("reconcile: stale pending link abandoned", "branch", link.BranchName, "ticket", link.TicketID)
	}
	return nil
}
