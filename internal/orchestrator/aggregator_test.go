package orchestrator

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/valiloop/internal/ledger"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

type memLedger struct {
	entries []models.RunLedgerEntry
	err     error
}

func (m *memLedger) Append(e models.RunLedgerEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func testRun(round int) *models.ValidationRun {
	return models.NewValidationRun("run-1", "app.zip", "/tmp/app", round)
}

func mixedResults() []models.AgentResult {
	return []models.AgentResult{
		{CriterionIndex: 0, Outcome: models.OutcomeSuccess},
		{CriterionIndex: 1, Outcome: models.OutcomeSuccess},
		{CriterionIndex: 2, Outcome: models.OutcomeFailure, Detail: "cart total is wrong"},
		{CriterionIndex: 3, Outcome: models.OutcomeSuccess},
		{CriterionIndex: 4, Outcome: models.OutcomeWorkerError, Detail: "timed out after 5m0s"},
	}
}

func TestAggregator_Finish(t *testing.T) {
	sink := &memLedger{}
	agg := NewAggregator(sink)
	reportPath := filepath.Join(t.TempDir(), "app.txt")

	s := agg.Finish(testRun(2), mixedResults(), reportPath)

	if s.Passed() {
		t.Error("expected summary not to pass")
	}
	if s.Entry.SuccessCount != 3 || s.Entry.FailCount != 2 {
		t.Errorf("expected 3 success 2 fail, got %d/%d", s.Entry.SuccessCount, s.Entry.FailCount)
	}
	if s.Entry.SuccessCount+s.Entry.FailCount != s.Total {
		t.Errorf("expected counts to sum to %d", s.Total)
	}
	if s.Entry.FormattedRate() != "60.00%" {
		t.Errorf("expected rate 60.00%%, got %s", s.Entry.FormattedRate())
	}
	if s.ReportPath != reportPath {
		t.Errorf("expected report path %s, got %q", reportPath, s.ReportPath)
	}

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(sink.entries))
	}
	if sink.entries[0].RoundNumber != 2 || sink.entries[0].ArtifactID != "app.zip" {
		t.Errorf("unexpected ledger entry %+v", sink.entries[0])
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("expected report file: %v", err)
	}
	report := string(data)
	if !strings.Contains(report, "Test 3: Failure - cart total is wrong") {
		t.Errorf("expected report to list criterion 2, got:\n%s", report)
	}
	if !strings.Contains(report, "Test 5: Error - timed out after 5m0s") {
		t.Errorf("expected report to list criterion 4, got:\n%s", report)
	}
}

func TestAggregator_AllPassed(t *testing.T) {
	sink := &memLedger{}
	reportPath := filepath.Join(t.TempDir(), "app.txt")

	s := NewAggregator(sink).Finish(testRun(1), []models.AgentResult{
		{CriterionIndex: 0, Outcome: models.OutcomeSuccess},
	}, reportPath)

	if !s.Passed() {
		t.Error("expected summary to pass")
	}
	if _, err := os.Stat(reportPath); !os.IsNotExist(err) {
		t.Errorf("expected no report on success, stat err %v", err)
	}
	if s.ReportPath != "" {
		t.Errorf("expected empty report path, got %q", s.ReportPath)
	}
	if len(sink.entries) != 1 {
		t.Errorf("expected a ledger row even on success, got %d", len(sink.entries))
	}
}

func TestAggregator_EmptyResults(t *testing.T) {
	sink := &memLedger{}
	s := NewAggregator(sink).Finish(testRun(1), nil, "")

	if !s.Passed() {
		t.Error("expected zero criteria to pass")
	}
	if s.Entry.FormattedRate() != "0.00%" {
		t.Errorf("expected rate 0.00%%, got %s", s.Entry.FormattedRate())
	}
}

func TestAggregator_LedgerErrorStillSummarizes(t *testing.T) {
	sink := &memLedger{err: errors.New("disk full")}
	s := NewAggregator(sink).Finish(testRun(1), mixedResults(), "")

	if s.Entry.FailCount != 2 {
		t.Errorf("expected summary despite ledger error, got %+v", s.Entry)
	}
}

func TestAggregator_CSVLedger(t *testing.T) {
	l, err := ledger.Create(t.TempDir(), "sess", testRun(1).StartedAt)
	if err != nil {
		t.Fatalf("create ledger: %v", err)
	}
	agg := NewAggregator(nil)
	agg.SetLedger(l)

	agg.Finish(testRun(1), mixedResults(), "")
	agg.Finish(testRun(2), mixedResults()[:2], "")

	rows, err := l.ReadAll()
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected one row per attempt, got %d", len(rows))
	}
	if rows[0][0] != "1" || rows[1][0] != "2" {
		t.Errorf("expected rounds 1 and 2, got %v and %v", rows[0], rows[1])
	}
}

func TestFailureReport(t *testing.T) {
	s := Summary{Failures: mixedResults()[2:3]}

	got := failureReport(s.FailureLines())

	var lines []string
	if err := json.Unmarshal([]byte(got), &lines); err != nil {
		t.Fatalf("expected a JSON array, got %q: %v", got, err)
	}
	if len(lines) != 1 || lines[0] != "Test 3: Failure - cart total is wrong" {
		t.Errorf("unexpected lines %v", lines)
	}

	if out := failureReport([]string{"a <b> & c"}); !strings.Contains(out, "a <b> & c") {
		t.Errorf("expected HTML characters unescaped, got %s", out)
	}
}
