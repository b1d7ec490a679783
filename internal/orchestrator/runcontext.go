package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// ErrRunInProgress is returned when a validation is requested while another
// one holds the run lock.
var ErrRunInProgress = errors.New("validation run already in progress")

// ExecutionStatus is a point-in-time view of the active run.
type ExecutionStatus struct {
	IsRunning            bool             `json:"is_running"`
	Phase                models.RunStatus `json:"phase"`
	RunID                string           `json:"run_id,omitempty"`
	ArtifactID           string           `json:"artifact_id,omitempty"`
	TotalTests           int              `json:"total_tests"`
	CompletedTests       int              `json:"completed_tests"`
	SuccessfulTests      int              `json:"successful_tests"`
	FailedTests          int              `json:"failed_tests"`
	StartTime            *time.Time       `json:"start_time"`
	EndTime              *time.Time       `json:"end_time"`
	CurrentResults       []string         `json:"current_results"`
	CurrentRound         int              `json:"current_round"`
	ExecutionTimeSeconds float64          `json:"execution_time_seconds"`
	CurrentValRound      int              `json:"current_val_round"`
	ValRoundLimit        int              `json:"val_round_limit"`
	ParallelCount        int              `json:"parallel_count"`
	InstancesRequested   int              `json:"instances_requested"`
	InstancesReady       int              `json:"instances_ready"`
	Provider             string           `json:"provider"`
}

// RunContext holds the state shared between the controller, the scheduler
// and status readers. Writers are the single goroutine driving the active
// run; readers get copies from Snapshot.
type RunContext struct {
	runMu sync.Mutex

	mu         sync.RWMutex
	status     ExecutionStatus
	attempts   int
	roundLimit int
	parallel   int
	provider   models.Provider

	now func() time.Time
}

// NewRunContext creates a RunContext for a process.
func NewRunContext(roundLimit, parallel int, provider models.Provider) *RunContext {
	rc := &RunContext{
		roundLimit: roundLimit,
		parallel:   parallel,
		provider:   provider,
		now:        time.Now,
	}
	rc.Reset()
	return rc
}

// TryBeginRun takes the run lock without waiting. The returned func
// releases it.
func (rc *RunContext) TryBeginRun() (func(), error) {
	if !rc.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	return rc.runMu.Unlock, nil
}

// NextAttempt increments the attempt counter and returns its value before
// the increment.
func (rc *RunContext) NextAttempt() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	prev := rc.attempts
	rc.attempts++
	rc.status.CurrentValRound = rc.attempts
	return prev
}

// Attempts returns how many validations have been requested.
func (rc *RunContext) Attempts() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.attempts
}

// RoundLimit returns the attempt budget.
func (rc *RunContext) RoundLimit() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.roundLimit
}

// Parallel returns the concurrency budget.
func (rc *RunContext) Parallel() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.parallel
}

// ErrInvalidSetting is returned by Configure for non-positive values.
var ErrInvalidSetting = errors.New("must be a positive integer")

// Configure changes the concurrency budget and attempt limit. Zero leaves a
// value unchanged. Changes apply from the next attempt.
func (rc *RunContext) Configure(parallel, roundLimit int) error {
	if parallel < 0 {
		return fmt.Errorf("parallel count %w", ErrInvalidSetting)
	}
	if roundLimit < 0 {
		return fmt.Errorf("round limit %w", ErrInvalidSetting)
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if parallel > 0 {
		rc.parallel = parallel
		rc.status.ParallelCount = parallel
	}
	if roundLimit > 0 {
		rc.roundLimit = roundLimit
		rc.status.ValRoundLimit = roundLimit
	}
	return nil
}

// Provider returns the generation provider feedback is addressed to.
func (rc *RunContext) Provider() models.Provider {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.provider
}

// SetProvider switches the generation provider.
func (rc *RunContext) SetProvider(p models.Provider) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.provider = p
	rc.status.Provider = p.String()
}

// ResetAll clears the status and the attempt counter, starting a new
// session of attempts.
func (rc *RunContext) ResetAll() {
	rc.mu.Lock()
	rc.attempts = 0
	rc.mu.Unlock()
	rc.Reset()
}

// Reset clears the status. The attempt counter is kept.
func (rc *RunContext) Reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.status = ExecutionStatus{
		Phase:           models.RunStatusIdle,
		CurrentResults:  []string{},
		CurrentValRound: rc.attempts,
		ValRoundLimit:   rc.roundLimit,
		ParallelCount:   rc.parallel,
		Provider:        rc.provider.String(),
	}
}

// Snapshot returns a copy of the current status.
func (rc *RunContext) Snapshot() ExecutionStatus {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	s := rc.status
	s.CurrentResults = append([]string(nil), rc.status.CurrentResults...)
	if s.CurrentResults == nil {
		s.CurrentResults = []string{}
	}
	if s.StartTime != nil {
		start := *s.StartTime
		s.StartTime = &start
		end := rc.now()
		if s.EndTime != nil {
			e := *s.EndTime
			s.EndTime = &e
			end = e
		}
		s.ExecutionTimeSeconds = end.Sub(start).Seconds()
	}
	return s
}

// beginRun resets the status for a new run.
func (rc *RunContext) beginRun(run *models.ValidationRun) {
	rc.Reset()
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.status.RunID = run.ID
	rc.status.ArtifactID = run.ArtifactID
	rc.status.Phase = run.Status
}

func (rc *RunContext) setPhase(phase models.RunStatus) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.status.Phase = phase
}

func (rc *RunContext) setInstances(requested, ready int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.status.InstancesRequested = requested
	rc.status.InstancesReady = ready
}

// startRounds marks the start of criterion execution.
func (rc *RunContext) startRounds(total int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	now := rc.now()
	rc.status.IsRunning = true
	rc.status.TotalTests = total
	rc.status.CompletedTests = 0
	rc.status.SuccessfulTests = 0
	rc.status.FailedTests = 0
	rc.status.StartTime = &now
	rc.status.EndTime = nil
	rc.status.CurrentResults = []string{}
	rc.status.CurrentRound = 0
}

func (rc *RunContext) beginRound(round int) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.status.CurrentRound = round
}

// completeRound folds one round's results into the counters.
func (rc *RunContext) completeRound(results []models.AgentResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Passed() {
			rc.status.SuccessfulTests++
		} else {
			rc.status.FailedTests++
		}
		rc.status.CompletedTests++
		lines = append(lines, r.ReportLine())
	}
	rc.status.CurrentResults = lines
}

// finishRounds marks the end of criterion execution.
func (rc *RunContext) finishRounds() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if !rc.status.IsRunning {
		return
	}
	now := rc.now()
	rc.status.IsRunning = false
	rc.status.EndTime = &now
}
