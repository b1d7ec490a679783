package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus represents the phase a validation run is in.
type RunStatus string

const (
	// RunStatusIdle indicates the run has been created but nothing has started.
	RunStatusIdle RunStatus = "idle"
	// RunStatusDeploying indicates instances are being installed and launched.
	RunStatusDeploying RunStatus = "deploying"
	// RunStatusProbing indicates the health probe is running.
	RunStatusProbing RunStatus = "probing"
	// RunStatusRunning indicates criterion rounds are executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusAggregating indicates results are being tallied and persisted.
	RunStatusAggregating RunStatus = "aggregating"
	// RunStatusSucceeded indicates every criterion passed.
	RunStatusSucceeded RunStatus = "succeeded"
	// RunStatusFailed indicates at least one criterion did not pass.
	RunStatusFailed RunStatus = "failed"
	// RunStatusAborted indicates the run stopped before rounds completed.
	RunStatusAborted RunStatus = "aborted"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusIdle, RunStatusDeploying, RunStatusProbing, RunStatusRunning,
		RunStatusAggregating, RunStatusSucceeded, RunStatusFailed, RunStatusAborted:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusAborted
}

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusIdle:        {RunStatusDeploying, RunStatusAborted},
	RunStatusDeploying:   {RunStatusProbing, RunStatusAborted},
	RunStatusProbing:     {RunStatusRunning, RunStatusAborted},
	RunStatusRunning:     {RunStatusAggregating, RunStatusAborted},
	RunStatusAggregating: {RunStatusSucceeded, RunStatusFailed},
}

// CanTransition reports whether a run may move from s to next.
func (s RunStatus) CanTransition(next RunStatus) bool {
	for _, allowed := range runTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Criterion is one acceptance test description. The payload is opaque to
// the orchestrator and is handed verbatim to the test agent.
type Criterion struct {
	// Index is the position of the criterion in the source list.
	Index int `json:"index"`
	// Payload is the criterion body as JSON.
	Payload json.RawMessage `json:"payload"`
}

// String returns the payload as text for prompt interpolation.
func (c Criterion) String() string {
	return string(c.Payload)
}

// ValidationRun is one attempt at validating an artifact.
type ValidationRun struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`
	// ArtifactID is derived from the artifact's file name.
	ArtifactID string `json:"artifact_id"`
	// ArtifactDir is the directory the artifact was extracted to.
	ArtifactDir string `json:"artifact_dir"`
	// InstancePorts lists the ports of instances that reported readiness.
	InstancePorts []int `json:"instance_ports"`
	// InstancesRequested is how many instances deployment asked for.
	InstancesRequested int `json:"instances_requested"`
	// Criteria is the ordered list of criteria under test.
	Criteria []Criterion `json:"criteria"`
	// RoundNumber is the 1-based feedback attempt this run belongs to.
	RoundNumber int `json:"round_number"`
	// Status is the current phase.
	Status RunStatus `json:"status"`
	// StartedAt is when the run was created.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is set once the run reaches a terminal status.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// NewValidationRun creates an idle run.
func NewValidationRun(id, artifactID, dir string, round int) *ValidationRun {
	return &ValidationRun{
		ID:          id,
		ArtifactID:  artifactID,
		ArtifactDir: dir,
		RoundNumber: round,
		Status:      RunStatusIdle,
		StartedAt:   time.Now(),
	}
}

// Transition moves the run to next, rejecting moves the lifecycle forbids.
func (r *ValidationRun) Transition(next RunStatus) error {
	if !r.Status.CanTransition(next) {
		return fmt.Errorf("invalid run transition %s -> %s", r.Status, next)
	}
	r.Status = next
	if next.Terminal() {
		now := time.Now()
		r.EndedAt = &now
	}
	return nil
}

// RoundBatch is the set of criteria executed concurrently in one round.
type RoundBatch struct {
	// RoundIndex is the 1-based round number within the run.
	RoundIndex int `json:"round_index"`
	// CriterionIndices holds the criteria in this round, ascending.
	CriterionIndices []int `json:"criterion_indices"`
	// AssignedURLs holds the instance URL for each criterion, by position.
	AssignedURLs []string `json:"assigned_urls"`
}

// InstanceURL returns the local URL for an instance port.
func InstanceURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
