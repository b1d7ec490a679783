package state

import (
	"testing"
	"time"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

func TestRecovery_CleanInterrupted(t *testing.T) {
	db := setupTestDB(t)
	now := time.Now()

	running := newAttempt("r1", "a.zip", 1, now)
	running.Status = models.RunStatusRunning
	done := newAttempt("d1", "a.zip", 2, now)
	done.Status = models.RunStatusSucceeded
	for _, a := range []*Attempt{running, done} {
		if err := db.SaveAttempt(a, nil); err != nil {
			t.Fatal(err)
		}
	}

	rm := NewRecoveryManager(db)
	open, err := rm.CheckForInterrupted()
	if err != nil {
		t.Fatalf("CheckForInterrupted failed: %v", err)
	}
	if len(open) != 1 || open[0].ID != "r1" {
		t.Fatalf("expected r1 open, got %+v", open)
	}

	n, err := rm.Clean()
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleaned, got %d", n)
	}

	got, _ := db.GetAttempt("r1")
	if got.Status != models.RunStatusAborted || got.Detail != InterruptedDetail || got.EndedAt == nil {
		t.Errorf("expected aborted with detail, got %+v", got)
	}

	if n, _ := rm.Clean(); n != 0 {
		t.Errorf("expected second clean to be a no-op, got %d", n)
	}
}
