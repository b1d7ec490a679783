package orchestrator

import (
	"log"
	"sync"

	"github.com/ShayCichocki/valiloop/internal/ledger"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

// LedgerSink receives one entry per attempt.
type LedgerSink interface {
	Append(entry models.RunLedgerEntry) error
}

// Summary is the outcome of one attempt's rounds.
type Summary struct {
	Entry    models.RunLedgerEntry
	Total    int
	Failures []models.AgentResult
	// ReportPath is set when a failure report was written.
	ReportPath string
}

// Passed reports whether every criterion passed.
func (s Summary) Passed() bool {
	return len(s.Failures) == 0
}

// FailureLines renders each failure the way the feedback payload lists it.
func (s Summary) FailureLines() []string {
	lines := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		lines = append(lines, f.ReportLine())
	}
	return lines
}

// Aggregator tallies results and persists the ledger row and report.
type Aggregator struct {
	mu     sync.Mutex
	ledger LedgerSink
}

// NewAggregator creates an Aggregator. A nil sink skips the ledger.
func NewAggregator(sink LedgerSink) *Aggregator {
	return &Aggregator{ledger: sink}
}

// SetLedger replaces the ledger sink.
func (a *Aggregator) SetLedger(sink LedgerSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ledger = sink
}

// Finish records the attempt. The failure report is written to reportPath
// only when something failed. Persistence errors are logged; the summary is
// still returned.
func (a *Aggregator) Finish(run *models.ValidationRun, results []models.AgentResult, reportPath string) Summary {
	s := Summary{
		Entry: models.RunLedgerEntry{
			RoundNumber: run.RoundNumber,
			ArtifactID:  run.ArtifactID,
		},
		Total: len(results),
	}

	for _, r := range results {
		if r.Passed() {
			s.Entry.SuccessCount++
			continue
		}
		s.Entry.FailCount++
		s.Failures = append(s.Failures, r)
	}

	log.Printf("[vali] %s: success %d, fail %d (%s)", run.ArtifactID, s.Entry.SuccessCount, s.Entry.FailCount, s.Entry.FormattedRate())

	if len(s.Failures) > 0 && reportPath != "" {
		report := ledger.Report{
			Total:      s.Total,
			Successful: s.Entry.SuccessCount,
			Failed:     s.Entry.FailCount,
			Failures:   s.Failures,
		}
		if err := ledger.WriteReport(reportPath, report); err != nil {
			log.Printf("[vali] save report: %v", err)
		} else {
			s.ReportPath = reportPath
			debugLog("[aggregator] report saved to %s", reportPath)
		}
	}

	a.mu.Lock()
	sink := a.ledger
	a.mu.Unlock()
	if sink != nil {
		if err := sink.Append(s.Entry); err != nil {
			log.Printf("[vali] append ledger: %v", err)
		}
	}

	return s
}
