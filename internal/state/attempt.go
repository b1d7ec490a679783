package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// Attempt is one recorded validation attempt.
type Attempt struct {
	ID         string `json:"id"`
	ArtifactID string `json:"artifact_id"`
	Round      int    `json:"round"`
	// Status is the run's final phase.
	Status models.RunStatus `json:"status"`
	// Response is the status tag returned to the caller.
	Response           string     `json:"response"`
	SuccessCount       int        `json:"success_count"`
	FailCount          int        `json:"fail_count"`
	InstancesRequested int        `json:"instances_requested"`
	InstancesReady     int        `json:"instances_ready"`
	Detail             string     `json:"detail,omitempty"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
}

// Entry returns the ledger view of the attempt.
func (a Attempt) Entry() models.RunLedgerEntry {
	return models.RunLedgerEntry{
		RoundNumber:  a.Round,
		ArtifactID:   a.ArtifactID,
		SuccessCount: a.SuccessCount,
		FailCount:    a.FailCount,
	}
}

// SaveAttempt inserts or replaces an attempt together with its criterion
// results.
func (db *DB) SaveAttempt(a *Attempt, results []models.AgentResult) error {
	var ended any
	if a.EndedAt != nil {
		ended = formatTime(*a.EndedAt)
	}

	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO attempts (id, artifact_id, round, status, response, success_count, fail_count,
				instances_requested, instances_ready, detail, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.ArtifactID, a.Round, string(a.Status), a.Response, a.SuccessCount, a.FailCount,
			a.InstancesRequested, a.InstancesReady, a.Detail, formatTime(a.StartedAt), ended)
		if err != nil {
			return fmt.Errorf("save attempt: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM criterion_results WHERE attempt_id = ?`, a.ID); err != nil {
			return fmt.Errorf("clear criterion results: %w", err)
		}
		for _, r := range results {
			_, err := tx.Exec(`
				INSERT INTO criterion_results (attempt_id, criterion_index, outcome, detail, duration_ms)
				VALUES (?, ?, ?, ?, ?)
			`, a.ID, r.CriterionIndex, string(r.Outcome), r.Detail, r.Duration.Milliseconds())
			if err != nil {
				return fmt.Errorf("save criterion result %d: %w", r.CriterionIndex, err)
			}
		}
		return nil
	})
}

const attemptColumns = `id, artifact_id, round, status, response, success_count, fail_count,
	instances_requested, instances_ready, detail, started_at, ended_at`

func scanAttempt(scan func(dest ...any) error) (*Attempt, error) {
	var a Attempt
	var status, startedAt string
	var detail, endedAt sql.NullString
	err := scan(&a.ID, &a.ArtifactID, &a.Round, &status, &a.Response, &a.SuccessCount, &a.FailCount,
		&a.InstancesRequested, &a.InstancesReady, &detail, &startedAt, &endedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.RunStatus(status)
	a.Detail = detail.String
	a.StartedAt, _ = parseTime(startedAt)
	a.EndedAt = parseNullableTime(endedAt)
	return &a, nil
}

// GetAttempt returns the attempt with id, or nil if there is none.
func (db *DB) GetAttempt(id string) (*Attempt, error) {
	row := db.QueryRow(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id)
	a, err := scanAttempt(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// ListAttempts returns the most recent attempts, newest first. A
// non-empty artifactID restricts the list to that artifact.
func (db *DB) ListAttempts(artifactID string, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + attemptColumns + ` FROM attempts`
	args := []any{}
	if artifactID != "" {
		query += ` WHERE artifact_id = ?`
		args = append(args, artifactID)
	}
	query += ` ORDER BY started_at DESC, round DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var attempts []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		attempts = append(attempts, *a)
	}
	return attempts, rows.Err()
}

// CriterionResults returns an attempt's results ordered by criterion.
func (db *DB) CriterionResults(attemptID string) ([]models.AgentResult, error) {
	rows, err := db.Query(`
		SELECT criterion_index, outcome, detail, duration_ms
		FROM criterion_results WHERE attempt_id = ? ORDER BY criterion_index
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list criterion results: %w", err)
	}
	defer rows.Close()

	var results []models.AgentResult
	for rows.Next() {
		var r models.AgentResult
		var outcome string
		var detail sql.NullString
		var ms int64
		if err := rows.Scan(&r.CriterionIndex, &outcome, &detail, &ms); err != nil {
			return nil, fmt.Errorf("scan criterion result: %w", err)
		}
		r.Outcome = models.Outcome(outcome)
		r.Detail = detail.String
		r.Duration = time.Duration(ms) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}
