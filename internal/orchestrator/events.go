package orchestrator

import (
	"time"
)

// EventType represents the type of validation event.
type EventType string

const (
	// EventRunStarted indicates an attempt passed the round limit check.
	EventRunStarted EventType = "run_started"
	// EventDeployed indicates instances are up with detected ports.
	EventDeployed EventType = "deployed"
	// EventProbed indicates the primary instance rendered.
	EventProbed EventType = "probed"
	// EventRoundStarted indicates a round's workers were launched.
	EventRoundStarted EventType = "round_started"
	// EventRoundCompleted indicates every worker of a round terminated.
	EventRoundCompleted EventType = "round_completed"
	// EventRunFinished indicates the attempt produced its response.
	EventRunFinished EventType = "run_finished"
	// EventLimitWarning indicates the attempt budget is nearly spent.
	EventLimitWarning EventType = "limit_warning"
)

// Event is emitted as an attempt progresses.
type Event struct {
	Type       EventType
	RunID      string
	ArtifactID string
	// Round is the round index for round events.
	Round int
	// Passed and Failed are the round's or run's counts.
	Passed int
	Failed int
	// Message carries the response tag on EventRunFinished and free text
	// otherwise.
	Message   string
	Error     error
	Timestamp time.Time
}
