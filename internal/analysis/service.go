// Package analysis turns ticket and branch data into AI-generated artifacts:
// progress reports from commit diffs, requirement checklists, test cases and
// per-developer performance summaries.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trackline-io/trackline/internal/hosting"
	"github.com/trackline-io/trackline/pkg/protocol"
)

// maxCommits bounds how much branch history goes into one progress prompt.
const maxCommits = 5

// maxDiffChars truncates a single commit diff before prompting. Full diffs of
// generated or vendored files would blow the context for no analytical gain.
const maxDiffChars = 4000

// CommitSource supplies branch history for progress analysis.
type CommitSource interface {
	CommitDiffs(ctx context.Context, workspace, repoSlug, branch string, maxCommits int) ([]hosting.Commit, error)
}

// Completer produces a completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req protocol.CompletionRequest) (*protocol.CompletionResponse, error)
	Name() string
}

// Service runs the analysis flows and persists their results.
type Service struct {
	store    *Store
	provider Completer
	commits  CommitSource
	logger   *slog.Logger
}

// NewService wires the analysis flows together.
func NewService(store *Store, provider Completer, commits CommitSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, provider: provider, commits: commits, logger: logger}
}

// GenerateProgressReport analyzes the linked branch's recent commits against
// the ticket and stores the resulting report.
func (s *Service) GenerateProgressReport(ctx context.Context, t *protocol.Ticket, link *protocol.BranchLink) (*protocol.ProgressReport, error) {
	commits, err := s.commits.CommitDiffs(ctx, link.Workspace, link.RepoSlug, link.BranchName, maxCommits)
	if err != nil {
		return nil, fmt.Errorf("analysis: progress report: %w", err)
	}
	if len(commits) == 0 {
		return nil, fmt.Errorf("analysis: branch %q has no commits to analyze", link.BranchName)
	}

	prompt := progressPrompt(t, link.BranchName, commits)
	resp, err := s.provider.Complete(ctx, protocol.CompletionRequest{
		System:    "You are a senior engineering manager reviewing development progress. Respond with a single JSON object and nothing else.",
		Prompt:    prompt,
		MaxTokens: 1500,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: progress report: %w", err)
	}

	var parsed protocol.ProgressAnalysis
	if err := ExtractJSON(resp.Text, &parsed); err != nil {
		return nil, fmt.Errorf("analysis: progress report: %w", err)
	}

	report := &protocol.ProgressReport{
		ID:                   uuid.NewString(),
		TicketID:             t.ID,
		BranchID:             link.ID,
		BranchName:           link.BranchName,
		ProgressAnalysis:     parsed,
		TotalCommitsAnalyzed: len(commits),
		GeneratedBy:          t.Developer,
		GeneratedAt:          time.Now().UTC(),
	}
	if err := s.store.SaveReport(report); err != nil {
		return nil, err
	}

	s.logger.Info("progress report generated",
		"ticket_id", t.ID,
		"branch", link.BranchName,
		"commits", len(commits),
		"completion", parsed.CompletionPercentage,
		"provider", s.provider.Name(),
		"tokens", resp.Usage.TotalTokens())
	return report, nil
}

// ReportsByTicket returns stored progress reports, newest first.
func (s *Service) ReportsByTicket(ticketID string) ([]*protocol.ProgressReport, error) {
	return s.store.ReportsByTicket(ticketID)
}

// GenerateTestCases asks the model for test cases covering a ticket and
// stores the raw result set.
func (s *Service) GenerateTestCases(ctx context.Context, t *protocol.Ticket) (*protocol.TestCaseSet, error) {
	resp, err := s.provider.Complete(ctx, protocol.CompletionRequest{
		System:    "You are a QA architect. Respond with a single JSON object and nothing else.",
		Prompt:    testCasesPrompt(t),
		MaxTokens: 2000,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: test cases: %w", err)
	}

	// The payload shape is prompt-owned; only verify it is an object.
	var payload json.RawMessage
	if err := ExtractJSON(resp.Text, &payload); err != nil {
		return nil, fmt.Errorf("analysis: test cases: %w", err)
	}

	set := &protocol.TestCaseSet{
		ID:          uuid.NewString(),
		TicketID:    t.ID,
		TestCases:   payload,
		GeneratedAt: time.Now().UTC(),
	}
	if err := s.store.SaveTestCases(set); err != nil {
		return nil, err
	}
	s.logger.Info("test cases generated", "ticket_id", t.ID, "provider", s.provider.Name())
	return set, nil
}

// TestCasesByTicket returns stored test case sets, newest first.
func (s *Service) TestCasesByTicket(ticketID string) ([]*protocol.TestCaseSet, error) {
	return s.store.TestCasesByTicket(ticketID)
}

// GenerateChecklist asks the model what a developer still needs before
// starting on the ticket.
func (s *Service) GenerateChecklist(ctx context.Context, t *protocol.Ticket) (*protocol.RequirementChecklist, error) {
	resp, err := s.provider.Complete(ctx, protocol.CompletionRequest{
		System:    "You are a business analyst preparing a ticket for development. Respond with a single JSON object and nothing else.",
		Prompt:    checklistPrompt(t),
		MaxTokens: 1500,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: checklist: %w", err)
	}

	var parsed protocol.RequirementChecklist
	if err := ExtractJSON(resp.Text, &parsed); err != nil {
		return nil, fmt.Errorf("analysis: checklist: %w", err)
	}
	parsed.ID = uuid.NewString()
	parsed.TicketID = t.ID
	parsed.GeneratedAt = time.Now().UTC()

	if err := s.store.SaveChecklist(&parsed); err != nil {
		return nil, err
	}
	s.logger.Info("requirement checklist generated", "ticket_id", t.ID, "provider", s.provider.Name())
	return &parsed, nil
}

// ChecklistsByTicket returns stored requirement checklists, newest first.
func (s *Service) ChecklistsByTicket(ticketID string) ([]*protocol.RequirementChecklist, error) {
	return s.store.ChecklistsByTicket(ticketID)
}

// DeveloperPerformance aggregates a developer's stored progress reports into
// a model-written performance summary.
func (s *Service) DeveloperPerformance(ctx context.Context, developer string) (*protocol.PerformanceSummary, error) {
	reports, err := s.store.ReportsByDeveloper(developer)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, fmt.Errorf("analysis: no progress reports for developer %q", developer)
	}

	resp, err := s.provider.Complete(ctx, protocol.CompletionRequest{
		System:    "You are an engineering manager writing a performance review. Respond with a single JSON object and nothing else.",
		Prompt:    performancePrompt(developer, reports),
		MaxTokens: 1500,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: performance: %w", err)
	}

	var summary protocol.PerformanceSummary
	if err := ExtractJSON(resp.Text, &summary); err != nil {
		return nil, fmt.Errorf("analysis: performance: %w", err)
	}
	summary.Developer = developer
	summary.TotalReports = len(reports)
	return &summary, nil
}

func progressPrompt(t *protocol.Ticket, branchName string, commits []hosting.Commit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze development progress on branch %q for this ticket.\n\n", branchName)
	writeTicketContext(&b, t)

	fmt.Fprintf(&b, "\nRecent commits (newest first, %d total):\n", len(commits))
	for i, c := range commits {
		fmt.Fprintf(&b, "\n--- Commit %d ---\nHash: %s\nAuthor: %s\nDate: %s\nMessage: %s\n",
			i+1, c.Hash, c.Author, c.Date.Format(time.RFC3339), c.Message)
		diff := c.Diff
		if len(diff) > maxDiffChars {
			diff = diff[:maxDiffChars] + "\n... (diff truncated)"
		}
		if diff != "" {
			fmt.Fprintf(&b, "Diff:\n%s\n", diff)
		}
	}

	b.WriteString(`
Return a JSON object with exactly these fields:
{
  "completion_percentage": <0-100>,
  "status": "just_started" | "in_progress" | "completed",
  "completed_features": ["..."],
  "in_progress": ["..."],
  "pending_work": ["..."],
  "code_quality": "short assessment",
  "overall_assessment": "2-3 sentence summary",
  "recommendations": ["..."]
}`)
	return b.String()
}

func testCasesPrompt(t *protocol.Ticket) string {
	var b strings.Builder
	b.WriteString("Generate comprehensive test cases for this ticket.\n\n")
	writeTicketContext(&b, t)
	b.WriteString(`
Return a JSON object of the form:
{
  "test_cases": [
    {
      "id": "TC-1",
      "title": "...",
      "preconditions": ["..."],
      "steps": ["..."],
      "expected_result": "...",
      "type": "functional" | "negative" | "edge_case"
    }
  ]
}
Cover the happy path, validation failures and edge cases.`)
	return b.String()
}

func checklistPrompt(t *protocol.Ticket) string {
	var b strings.Builder
	b.WriteString("Review this ticket and list everything a developer needs before starting work.\n\n")
	writeTicketContext(&b, t)
	b.WriteString(`
Return a JSON object with exactly these fields:
{
  "missing_information": ["..."],
  "required_apis": ["..."],
  "business_rules": ["..."],
  "ui_dependencies": ["..."],
  "developer_questions": ["..."],
  "risks": ["..."],
  "suggestions": ["..."]
}`)
	return b.String()
}

func performancePrompt(developer string, reports []*protocol.ProgressReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluate developer %q based on their %d progress reports.\n", developer, len(reports))
	for i, r := range reports {
		fmt.Fprintf(&b, "\n--- Report %d (ticket %s, branch %s, %s) ---\n", i+1, r.TicketID, r.BranchName, r.GeneratedAt.Format("2006-01-02"))
		fmt.Fprintf(&b, "Completion: %d%%, status: %s\n", r.CompletionPercentage, r.Status)
		fmt.Fprintf(&b, "Code quality: %s\n", r.CodeQuality)
		fmt.Fprintf(&b, "Assessment: %s\n", r.OverallAssessment)
	}
	b.WriteString(`
Return a JSON object with exactly these fields:
{
  "strengths": ["..."],
  "weaknesses": ["..."],
  "consistency_score": <0-10>,
  "quality_score": <0-10>,
  "reliability_score": <0-10>,
  "overall_rating": <0-10>,
  "final_summary": "2-3 sentences"
}`)
	return b.String()
}

func writeTicketContext(b *strings.Builder, t *protocol.Ticket) {
	fmt.Fprintf(b, "Ticket: %s\nSummary: %s\n", t.ID, t.Summary)
	if t.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", t.Description)
	}
	if t.Category != "" {
		fmt.Fprintf(b, "Category: %s\n", t.Category)
	}
	if t.Priority != "" {
		fmt.Fprintf(b, "Priority: %s\n", t.Priority)
	}
	if t.CustomerName != "" {
		fmt.Fprintf(b, "Customer: %s\n", t.CustomerName)
	}
	if t.Developer != "" {
		fmt.Fprintf(b, "Developer: %s\n", t.Developer)
	}
	if t.EndDate != "" {
		fmt.Fprintf(b, "Due: %s\n", t.EndDate)
	}
}
