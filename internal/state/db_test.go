package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "a", "b", "c")

	db, err := Open(filepath.Join(nested, "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 2 {
		t.Errorf("expected schema version 2, got %d", version)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	if got := DefaultPath(); got != "/data/valiloop/state.db" {
		t.Errorf("expected /data/valiloop/state.db, got %s", got)
	}
}

func newAttempt(id, artifact string, round int, started time.Time) *Attempt {
	return &Attempt{
		ID:                 id,
		ArtifactID:         artifact,
		Round:              round,
		Status:             models.RunStatusDeploying,
		InstancesRequested: 3,
		StartedAt:          started,
	}
}

func TestSaveAndGetAttempt(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	a := newAttempt("a1", "todo.zip", 1, start)
	if err := db.SaveAttempt(a, nil); err != nil {
		t.Fatalf("SaveAttempt failed: %v", err)
	}

	end := start.Add(5 * time.Minute)
	a.Status = models.RunStatusFailed
	a.Response = "continue"
	a.SuccessCount = 4
	a.FailCount = 1
	a.InstancesReady = 2
	a.EndedAt = &end
	results := []models.AgentResult{
		{CriterionIndex: 0, Outcome: models.OutcomeSuccess, Duration: 1500 * time.Millisecond},
		{CriterionIndex: 1, Outcome: models.OutcomeFailure, Detail: "button missing"},
	}
	if err := db.SaveAttempt(a, results); err != nil {
		t.Fatalf("SaveAttempt update failed: %v", err)
	}

	got, err := db.GetAttempt("a1")
	if err != nil {
		t.Fatalf("GetAttempt failed: %v", err)
	}
	if got.Status != models.RunStatusFailed || got.Response != "continue" {
		t.Errorf("expected failed/continue, got %s/%s", got.Status, got.Response)
	}
	if got.SuccessCount != 4 || got.FailCount != 1 || got.InstancesReady != 2 {
		t.Errorf("unexpected counts: %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(end) {
		t.Errorf("expected ended_at %v, got %v", end, got.EndedAt)
	}
	if got.Entry().FormattedRate() != "80.00%" {
		t.Errorf("expected 80.00%%, got %s", got.Entry().FormattedRate())
	}

	stored, err := db.CriterionResults("a1")
	if err != nil {
		t.Fatalf("CriterionResults failed: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 results, got %d", len(stored))
	}
	if stored[1].Detail != "button missing" || stored[1].Outcome != models.OutcomeFailure {
		t.Errorf("unexpected result: %+v", stored[1])
	}
	if stored[0].Duration != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", stored[0].Duration)
	}
}

func TestGetAttempt_NotFound(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetAttempt("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestListAttempts(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, artifact := range []string{"a.zip", "b.zip", "a.zip"} {
		a := newAttempt(string(rune('x'+i)), artifact, i+1, base.Add(time.Duration(i)*time.Minute))
		if err := db.SaveAttempt(a, nil); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.ListAttempts("", 10)
	if err != nil {
		t.Fatalf("ListAttempts failed: %v", err)
	}
	if len(all) != 3 || all[0].Round != 3 {
		t.Errorf("expected newest first, got %+v", all)
	}

	onlyA, err := db.ListAttempts("a.zip", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyA) != 2 {
		t.Errorf("expected 2 attempts for a.zip, got %d", len(onlyA))
	}

	limited, _ := db.ListAttempts("", 1)
	if len(limited) != 1 {
		t.Errorf("expected limit 1, got %d", len(limited))
	}
}

func TestPurgeOldAttempts(t *testing.T) {
	db := setupTestDB(t)
	old := newAttempt("old", "a.zip", 1, time.Now().Add(-48*time.Hour))
	fresh := newAttempt("new", "a.zip", 2, time.Now())
	for _, a := range []*Attempt{old, fresh} {
		if err := db.SaveAttempt(a, []models.AgentResult{{CriterionIndex: 0, Outcome: models.OutcomeSuccess}}); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.PurgeOldAttempts(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldAttempts failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged, got %d", n)
	}
	if got, _ := db.GetAttempt("old"); got != nil {
		t.Error("expected old attempt to be gone")
	}
	if rs, _ := db.CriterionResults("old"); len(rs) != 0 {
		t.Errorf("expected cascaded delete, got %d results", len(rs))
	}
}
