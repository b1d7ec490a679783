package state

import (
	"io"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// AttemptStore persists validation attempts.
type AttemptStore interface {
	SaveAttempt(a *Attempt, results []models.AgentResult) error
	GetAttempt(id string) (*Attempt, error)
	ListAttempts(artifactID string, limit int) ([]Attempt, error)
	CriterionResults(attemptID string) ([]models.AgentResult, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// StateStore is the full persistence surface.
type StateStore interface {
	io.Closer
	Migrator
	AttemptStore
}

var (
	_ StateStore   = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ AttemptStore = (*DB)(nil)
)
