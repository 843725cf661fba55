package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trackline-io/trackline/internal/hosting"
	"github.com/trackline-io/trackline/internal/store"
	"github.com/trackline-io/trackline/pkg/protocol"
)

type fakeProvider struct {
	text string
	err  error
	last protocol.CompletionRequest
}

func (f *fakeProvider) Complete(_ context.Context, req protocol.CompletionRequest) (*protocol.CompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &protocol.CompletionResponse{Text: f.text}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

type fakeCommits struct {
	commits []hosting.Commit
	err     error
}

func (f *fakeCommits) CommitDiffs(_ context.Context, _, _, _ string, _ int) ([]hosting.Commit, error) {
	return f.commits, f.err
}

func newTestService(t *testing.T, p *fakeProvider, c *fakeCommits) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return NewService(s, p, c, nil)
}

func sampleTicket() *protocol.Ticket {
	return &protocol.Ticket{
		ID:        "TL-7",
		Summary:   "Export invoices as PDF",
		Developer: "mira",
		Priority:  "high",
	}
}

func TestExtractJSON(t *testing.T) {
	var v struct {
		OK bool `json:"ok"`
	}
	cases := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"bare object", `{"ok": true}`, false},
		{"prose wrapped", "Here is the result:\n```json\n{\"ok\": true}\n```\nDone.", false},
		{"no object", "I cannot help with that.", true},
		{"broken object", `{"ok": `, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ExtractJSON(tc.text, &v)
			if tc.wantErr {
				if !errors.Is(err, ErrBadCompletion) {
					t.Fatalf("err = %v, want ErrBadCompletion", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if !v.OK {
				t.Error("ok not parsed")
			}
		})
	}
}

func TestGenerateProgressReport(t *testing.T) {
	p := &fakeProvider{text: `Analysis follows. {
		"completion_percentage": 70,
		"status": "in_progress",
		"completed_features": ["PDF layout"],
		"in_progress": ["email delivery"],
		"pending_work": ["retries"],
		"code_quality": "solid",
		"overall_assessment": "On track.",
		"recommendations": ["add tests"]
	}`}
	c := &fakeCommits{commits: []hosting.Commit{
		{Hash: "abc123", Message: "add pdf renderer", Author: "mira", Date: time.Now(), Diff: "+func Render()"},
		{Hash: "def456", Message: "wire invoice route", Author: "mira", Date: time.Now()},
	}}
	svc := newTestService(t, p, c)

	link := &protocol.BranchLink{
		ID: "lnk-1", TicketID: "TL-7", BranchName: "feature/TL-7-pdf",
		Workspace: "acme", RepoSlug: "billing",
	}
	got, err := svc.GenerateProgressReport(context.Background(), sampleTicket(), link)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.CompletionPercentage != 70 || got.Status != "in_progress" {
		t.Errorf("analysis = %+v", got.ProgressAnalysis)
	}
	if got.BranchID != "lnk-1" || got.BranchName != "feature/TL-7-pdf" {
		t.Errorf("branch identity = %q/%q", got.BranchID, got.BranchName)
	}
	if got.TotalCommitsAnalyzed != 2 {
		t.Errorf("commits analyzed = %d", got.TotalCommitsAnalyzed)
	}
	if got.GeneratedBy != "mira" {
		t.Errorf("generated by = %q", got.GeneratedBy)
	}
	if !strings.Contains(p.last.Prompt, "add pdf renderer") {
		t.Error("prompt missing commit message")
	}
	if !strings.Contains(p.last.Prompt, "Export invoices as PDF") {
		t.Error("prompt missing ticket summary")
	}

	// Report must be readable back, newest first.
	stored, err := svc.ReportsByTicket("TL-7")
	if err != nil {
		t.Fatalf("reports: %v", err)
	}
	if len(stored) != 1 || stored[0].ID != got.ID {
		t.Fatalf("stored = %+v", stored)
	}
	if stored[0].BranchID != "lnk-1" {
		t.Errorf("stored branch id = %q", stored[0].BranchID)
	}
	if len(stored[0].CompletedFeatures) != 1 || stored[0].CompletedFeatures[0] != "PDF layout" {
		t.Errorf("completed features = %v", stored[0].CompletedFeatures)
	}
}

func TestGenerateProgressReport_NoCommits(t *testing.T) {
	svc := newTestService(t, &fakeProvider{text: "{}"}, &fakeCommits{})
	_, err := svc.GenerateProgressReport(context.Background(), sampleTicket(), &protocol.BranchLink{
		BranchName: "feature/empty", Workspace: "acme", RepoSlug: "billing",
	})
	if err == nil {
		t.Fatal("expected error for empty branch")
	}
}

func TestGenerateProgressReport_BadCompletion(t *testing.T) {
	p := &fakeProvider{text: "Sorry, I produced no JSON."}
	c := &fakeCommits{commits: []hosting.Commit{{Hash: "a", Message: "m"}}}
	svc := newTestService(t, p, c)

	_, err := svc.GenerateProgressReport(context.Background(), sampleTicket(), &protocol.BranchLink{
		BranchName: "feature/x", Workspace: "acme", RepoSlug: "billing",
	})
	if !errors.Is(err, ErrBadCompletion) {
		t.Fatalf("err = %v, want ErrBadCompletion", err)
	}
}

func TestGenerateTestCases(t *testing.T) {
	p := &fakeProvider{text: `{"test_cases": [{"id": "TC-1", "title": "renders pdf"}]}`}
	svc := newTestService(t, p, &fakeCommits{})

	set, err := svc.GenerateTestCases(context.Background(), sampleTicket())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	var payload struct {
		TestCases []struct {
			ID string `json:"id"`
		} `json:"test_cases"`
	}
	if err := json.Unmarshal(set.TestCases, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.TestCases) != 1 || payload.TestCases[0].ID != "TC-1" {
		t.Errorf("payload = %+v", payload)
	}

	stored, err := svc.store.TestCasesByTicket("TL-7")
	if err != nil {
		t.Fatalf("stored: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored sets = %d", len(stored))
	}
}

func TestGenerateChecklist(t *testing.T) {
	p := &fakeProvider{text: `{
		"missing_information": ["invoice template"],
		"required_apis": ["billing service"],
		"business_rules": [],
		"ui_dependencies": [],
		"developer_questions": ["which locale formats?"],
		"risks": ["PDF lib license"],
		"suggestions": []
	}`}
	svc := newTestService(t, p, &fakeCommits{})

	got, err := svc.GenerateChecklist(context.Background(), sampleTicket())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.TicketID != "TL-7" || got.ID == "" {
		t.Errorf("checklist identity = %+v", got)
	}
	if len(got.MissingInformation) != 1 {
		t.Errorf("missing info = %v", got.MissingInformation)
	}

	stored, err := svc.store.ChecklistsByTicket("TL-7")
	if err != nil {
		t.Fatalf("stored: %v", err)
	}
	if len(stored) != 1 || stored[0].Risks[0] != "PDF lib license" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestDeveloperPerformance(t *testing.T) {
	p := &fakeProvider{text: `{
		"strengths": ["fast iteration"],
		"weaknesses": ["light on tests"],
		"consistency_score": 7.5,
		"quality_score": 8,
		"reliability_score": 7,
		"overall_rating": 7.5,
		"final_summary": "Reliable and quick."
	}`}
	c := &fakeCommits{commits: []hosting.Commit{{Hash: "a", Message: "work"}}}
	svc := newTestService(t, &fakeProvider{text: `{"completion_percentage": 50, "status": "in_progress"}`}, c)

	// Seed two reports through the normal flow.
	for _, id := range []string{"TL-1", "TL-2"} {
		tk := sampleTicket()
		tk.ID = id
		if _, err := svc.GenerateProgressReport(context.Background(), tk, &protocol.BranchLink{
			TicketID: id, BranchName: "feature/" + id, Workspace: "acme", RepoSlug: "billing",
		}); err != nil {
			t.Fatalf("seed report: %v", err)
		}
	}

	svc.provider = p
	got, err := svc.DeveloperPerformance(context.Background(), "mira")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if got.Developer != "mira" || got.TotalReports != 2 {
		t.Errorf("summary identity = %+v", got)
	}
	if got.OverallRating != 7.5 {
		t.Errorf("rating = %v", got.OverallRating)
	}
	if !strings.Contains(p.last.Prompt, "TL-1") || !strings.Contains(p.last.Prompt, "TL-2") {
		t.Error("prompt missing report context")
	}
}

func TestDeveloperPerformance_NoReports(t *testing.T) {
	svc := newTestService(t, &fakeProvider{text: "{}"}, &fakeCommits{})
	_, err := svc.DeveloperPerformance(context.Background(), "nobody")
	if err == nil {
		t.Fatal("expected error when no reports exist")
	}
}
