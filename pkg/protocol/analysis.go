package protocol

import (
	"encoding/json"
	"time"
)

// ProgressAnalysis is the structured output the completion model returns
// when asked to assess a branch's commits against its ticket.
type ProgressAnalysis struct {
	CompletionPercentage int      `json:"completion_percentage"`
	Status               string   `json:"status"` // just_started, in_progress, completed
	CompletedFeatures    []string `json:"completed_features"`
	InProgress           []string `json:"in_progress"`
	PendingWork          []string `json:"pending_work"`
	CodeQuality          string   `json:"code_quality"`
	OverallAssessment    string   `json:"overall_assessment"`
	Recommendations      []string `json:"recommendations"`
}

// ProgressReport is a persisted ProgressAnalysis with its provenance.
type ProgressReport struct {
	ID         string `json:"id"`
	TicketID   string `json:"ticket_id"`
	BranchID   string `json:"branch_id"`
	BranchName string `json:"branch_name"`

	ProgressAnalysis

	TotalCommitsAnalyzed int       `json:"total_commits_analyzed"`
	GeneratedBy          string    `json:"generated_by,omitempty"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// TestCaseSet is an AI-generated batch of test cases for a ticket. The
// payload is kept as raw JSON: its shape is owned by the prompt, not by
// the persistence layer.
type TestCaseSet struct {
	ID          string          `json:"id"`
	TicketID    string          `json:"ticket_id"`
	TestCases   json.RawMessage `json:"test_cases"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// RequirementChecklist lists everything a developer needs before starting
// on a ticket, as produced by the completion model.
type RequirementChecklist struct {
	ID                 string    `json:"id"`
	TicketID           string    `json:"ticket_id"`
	MissingInformation []string  `json:"missing_information"`
	RequiredAPIs       []string  `json:"required_apis"`
	BusinessRules      []string  `json:"business_rules"`
	UIDependencies     []string  `json:"ui_dependencies"`
	DeveloperQuestions []string  `json:"developer_questions"`
	Risks              []string  `json:"risks"`
	Suggestions        []string  `json:"suggestions"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// PerformanceSummary aggregates a developer's progress reports into a
// single model-written assessment.
type PerformanceSummary struct {
	Developer        string   `json:"developer"`
	TotalReports     int      `json:"total_reports"`
	Strengths        []string `json:"strengths"`
	Weaknesses       []string `json:"weaknesses"`
	ConsistencyScore float64  `json:"consistency_score"`
	QualityScore     float64  `json:"quality_score"`
	ReliabilityScore float64  `json:"reliability_score"`
	OverallRating    float64  `json:"overall_rating"`
	FinalSummary     string   `json:"final_summary"`
}
