package analysis

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/trackline-io/trackline/pkg/protocol"
)

// Store persists AI-generated artifacts: progress reports, test-case sets
// and requirement checklists.
type Store struct {
	db *sql.DB
}

// NewStore runs migrations and returns the artifact store.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS progress_reports (
			id                     TEXT PRIMARY KEY,
			ticket_id              TEXT NOT NULL,
			branch_id              TEXT NOT NULL DEFAULT '',
			branch_name            TEXT NOT NULL,
			completion_percentage  INTEGER NOT NULL,
			status                 TEXT NOT NULL,
			completed_features     TEXT NOT NULL DEFAULT '[]',
			in_progress            TEXT NOT NULL DEFAULT '[]',
			pending_work           TEXT NOT NULL DEFAULT '[]',
			code_quality           TEXT NOT NULL DEFAULT '',
			overall_assessment     TEXT NOT NULL DEFAULT '',
			recommendations        TEXT NOT NULL DEFAULT '[]',
			total_commits_analyzed INTEGER NOT NULL DEFAULT 0,
			generated_by           TEXT NOT NULL DEFAULT '',
			generated_at           TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ticket_test_cases (
			id           TEXT PRIMARY KEY,
			ticket_id    TEXT NOT NULL,
			test_cases   TEXT NOT NULL,
			generated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS requirement_checklists (
			id                  TEXT PRIMARY KEY,
			ticket_id           TEXT NOT NULL,
			missing_information TEXT NOT NULL DEFAULT '[]',
			required_apis       TEXT NOT NULL DEFAULT '[]',
			business_rules      TEXT NOT NULL DEFAULT '[]',
			ui_dependencies     TEXT NOT NULL DEFAULT '[]',
			developer_questions TEXT NOT NULL DEFAULT '[]',
			risks               TEXT NOT NULL DEFAULT '[]',
			suggestions         TEXT NOT NULL DEFAULT '[]',
			generated_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reports_ticket ON progress_reports(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_reports_developer ON progress_reports(generated_by);
		CREATE INDEX IF NOT EXISTS idx_test_cases_ticket ON ticket_test_cases(ticket_id);
		CREATE INDEX IF NOT EXISTS idx_checklists_ticket ON requirement_checklists(ticket_id);
	`)
	if err != nil {
		return fmt.Errorf("analysis store: migrate: %w", err)
	}
	return nil
}

func (s *Store) SaveReport(r *protocol.ProgressReport) error {
	completed, _ := json.Marshal(orEmpty(r.CompletedFeatures))
	inProgress, _ := json.Marshal(orEmpty(r.InProgress))
	pending, _ := json.Marshal(orEmpty(r.PendingWork))
	recs, _ := json.Marshal(orEmpty(r.Recommendations))

	_, err := s.db.Exec(`INSERT INTO progress_reports
		(id, ticket_id, branch_id, branch_name, completion_percentage, status,
		 completed_features, in_progress, pending_work, code_quality,
		 overall_assessment, recommendations, total_commits_analyzed, generated_by, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TicketID, r.BranchID, r.BranchName, r.CompletionPercentage, r.Status,
		string(completed), string(inProgress), string(pending), r.CodeQuality,
		r.OverallAssessment, string(recs), r.TotalCommitsAnalyzed, r.GeneratedBy,
		r.GeneratedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("analysis store: save report: %w", err)
	}
	return nil
}

func (s *Store) ReportsByTicket(ticketID string) ([]*protocol.ProgressReport, error) {
	return s.reports(`ticket_id = ?`, ticketID)
}

func (s *Store) ReportsByDeveloper(developer string) ([]*protocol.ProgressReport, error) {
	return s.reports(`generated_by = ?`, developer)
}

func (s *Store) reports(where string, arg any) ([]*protocol.ProgressReport, error) {
	rows, err := s.db.Query(`SELECT id, ticket_id, branch_id, branch_name, completion_percentage, status,
		completed_features, in_progress, pending_work, code_quality, overall_assessment,
		recommendations, total_commits_analyzed, generated_by, generated_at
		FROM progress_reports WHERE `+where+` ORDER BY generated_at DESC, id DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("analysis store: reports: %w", err)
	}
	defer rows.Close()

	var reports []*protocol.ProgressReport
	for rows.Next() {
		var r protocol.ProgressReport
		var completed, inProgress, pending, recs, generated string
		if err := rows.Scan(&r.ID, &r.TicketID, &r.BranchID, &r.BranchName,
			&r.CompletionPercentage, &r.Status, &completed, &inProgress, &pending,
			&r.CodeQuality, &r.OverallAssessment, &recs, &r.TotalCommitsAnalyzed,
			&r.GeneratedBy, &generated); err != nil {
			return nil, fmt.Errorf("analysis store: scan report: %w", err)
		}
		json.Unmarshal([]byte(completed), &r.CompletedFeatures)
		json.Unmarshal([]byte(inProgress), &r.InProgress)
		json.Unmarshal([]byte(pending), &r.PendingWork)
		json.Unmarshal([]byte(recs), &r.Recommendations)
		r.GeneratedAt, _ = time.Parse(time.RFC3339, generated)
		reports = append(reports, &r)
	}
	return reports, rows.Err()
}

func (s *Store) SaveTestCases(tc *protocol.TestCaseSet) error {
	_, err := s.db.Exec(`INSERT INTO ticket_test_cases (id, ticket_id, test_cases, generated_at)
		VALUES (?, ?, ?, ?)`,
		tc.ID, tc.TicketID, string(tc.TestCases), tc.GeneratedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("analysis store: save test cases: %w", err)
	}
	return nil
}

func (s *Store) TestCasesByTicket(ticketID string) ([]*protocol.TestCaseSet, error) {
	rows, err := s.db.Query(`SELECT id, ticket_id, test_cases, generated_at
		FROM ticket_test_cases WHERE ticket_id = ? ORDER BY generated_at DESC, id DESC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("analysis store: test cases: %w", err)
	}
	defer rows.Close()

	var sets []*protocol.TestCaseSet
	for rows.Next() {
		var tc protocol.TestCaseSet
		var raw, generated string
		if err := rows.Scan(&tc.ID, &tc.TicketID, &raw, &generated); err != nil {
			return nil, fmt.Errorf("analysis store: scan test cases: %w", err)
		}
		tc.TestCases = json.RawMessage(raw)
		tc.GeneratedAt, _ = time.Parse(time.RFC3339, generated)
		sets = append(sets, &tc)
	}
	return sets, rows.Err()
}

func (s *Store) SaveChecklist(c *protocol.RequirementChecklist) error {
	fields := make([]string, 7)
	for i, list := range [][]string{
		c.MissingInformation, c.RequiredAPIs, c.BusinessRules, c.UIDependencies,
		c.DeveloperQuestions, c.Risks, c.Suggestions,
	} {
		b, _ := json.Marshal(orEmpty(list))
		fields[i] = string(b)
	}

	_, err := s.db.Exec(`INSERT INTO requirement_checklists
		(id, ticket_id, missing_information, required_apis, business_rules,
		 ui_dependencies, developer_questions, risks, suggestions, generated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TicketID, fields[0], fields[1], fields[2], fields[3], fields[4],
		fields[5], fields[6], c.GeneratedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("analysis store: save checklist: %w", err)
	}
	return nil
}

func (s *Store) ChecklistsByTicket(ticketID string) ([]*protocol.RequirementChecklist, error) {
	rows, err := s.db.Query(`SELECT id, ticket_id, missing_information, required_apis,
		business_rules, ui_dependencies, developer_questions, risks, suggestions, generated_at
		FROM requirement_checklists WHERE ticket_id = ? ORDER BY generated_at DESC, id DESC`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("analysis store: checklists: %w", err)
	}
	defer rows.Close()

	var lists []*protocol.RequirementChecklist
	for rows.Next() {
		var c protocol.RequirementChecklist
		var missing, apis, rules, ui, questions, risks, suggestions, generated string
		if err := rows.Scan(&c.ID, &c.TicketID, &missing, &apis, &rules, &ui,
			&questions, &risks, &suggestions, &generated); err != nil {
			return nil, fmt.Errorf("analysis store: scan checklist: %w", err)
		}
		json.Unmarshal([]byte(missing), &c.MissingInformation)
		json.Unmarshal([]byte(apis), &c.RequiredAPIs)
		json.Unmarshal([]byte(rules), &c.BusinessRules)
		json.Unmarshal([]byte(ui), &c.UIDependencies)
		json.Unmarshal([]byte(questions), &c.DeveloperQuestions)
		json.Unmarshal([]byte(risks), &c.Risks)
		json.Unmarshal([]byte(suggestions), &c.Suggestions)
		c.GeneratedAt, _ = time.Parse(time.RFC3339, generated)
		lists = append(lists, &c)
	}
	return lists, rows.Err()
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
