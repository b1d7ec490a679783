package models

import (
	"fmt"
	"time"
)

// Outcome classifies how a single criterion ended.
type Outcome string

const (
	// OutcomeSuccess means the agent's final output was exactly "Success".
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the agent finished with anything else.
	OutcomeFailure Outcome = "failure"
	// OutcomeWorkerError means the worker crashed, timed out or could not start.
	OutcomeWorkerError Outcome = "worker_error"
)

// SuccessVerdict is the only agent output that counts as a pass.
const SuccessVerdict = "Success"

// AgentResult is the outcome of testing one criterion.
type AgentResult struct {
	// CriterionIndex is the index of the criterion that was tested.
	CriterionIndex int `json:"criterion_index"`
	// Outcome classifies the result.
	Outcome Outcome `json:"outcome"`
	// Detail carries the failure report or error message. Empty on success.
	Detail string `json:"detail,omitempty"`
	// Duration is how long the worker ran.
	Duration time.Duration `json:"duration"`
}

// Passed returns true if the criterion passed.
func (r AgentResult) Passed() bool {
	return r.Outcome == OutcomeSuccess
}

// ReportLine formats the result for failure reports and feedback payloads.
// Passing results render as an empty string.
func (r AgentResult) ReportLine() string {
	switch r.Outcome {
	case OutcomeSuccess:
		return ""
	case OutcomeWorkerError:
		return fmt.Sprintf("Test %d: Error - %s", r.CriterionIndex+1, r.Detail)
	default:
		return fmt.Sprintf("Test %d: Failure - %s", r.CriterionIndex+1, r.Detail)
	}
}

// RunLedgerEntry is one row of the persistent run ledger.
type RunLedgerEntry struct {
	RoundNumber  int    `json:"round_number"`
	ArtifactID   string `json:"artifact_id"`
	SuccessCount int    `json:"success_count"`
	FailCount    int    `json:"fail_count"`
}

// Rate returns the success percentage, or 0 when nothing was attempted.
func (e RunLedgerEntry) Rate() float64 {
	total := e.SuccessCount + e.FailCount
	if total == 0 {
		return 0
	}
	return float64(e.SuccessCount) / float64(total) * 100
}

// FormattedRate renders the rate with two decimals and a percent sign.
func (e RunLedgerEntry) FormattedRate() string {
	return fmt.Sprintf("%.2f%%", e.Rate())
}

// Record returns the CSV fields for the entry.
func (e RunLedgerEntry) Record() []string {
	return []string{
		fmt.Sprintf("%d", e.RoundNumber),
		e.ArtifactID,
		fmt.Sprintf("%d", e.SuccessCount),
		fmt.Sprintf("%d", e.FailCount),
		e.FormattedRate(),
	}
}
