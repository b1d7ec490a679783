package state

import (
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// InterruptedDetail is recorded on attempts closed by recovery.
const InterruptedDetail = "interrupted: process exited before the attempt finished"

// RecoveryManager closes attempts left open by a process that died mid-run.
type RecoveryManager struct {
	db  *DB
	now func() time.Time
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, now: time.Now}
}

// CheckForInterrupted returns attempts whose status is not terminal.
func (rm *RecoveryManager) CheckForInterrupted() ([]Attempt, error) {
	rows, err := rm.db.Query(`SELECT `+attemptColumns+` FROM attempts WHERE status NOT IN (?, ?, ?) ORDER BY started_at`,
		string(models.RunStatusSucceeded), string(models.RunStatusFailed), string(models.RunStatusAborted))
	if err != nil {
		return nil, fmt.Errorf("list open attempts: %w", err)
	}
	defer rows.Close()

	var open []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		open = append(open, *a)
	}
	return open, rows.Err()
}

// Clean marks every interrupted attempt as aborted. It returns how many
// attempts were closed.
func (rm *RecoveryManager) Clean() (int, error) {
	open, err := rm.CheckForInterrupted()
	if err != nil {
		return 0, err
	}

	now := rm.now()
	for _, a := range open {
		_, err := rm.db.Exec(`UPDATE attempts SET status = ?, detail = ?, ended_at = ? WHERE id = ?`,
			string(models.RunStatusAborted), InterruptedDetail, formatTime(now), a.ID)
		if err != nil {
			return 0, fmt.Errorf("close attempt %s: %w", a.ID, err)
		}
		log.Printf("[state] attempt %s (%s, round %d) was interrupted in %s; marked aborted", a.ID, a.ArtifactID, a.Round, a.Status)
	}
	return len(open), nil
}
