// Package ledger persists validation outcomes: an append-only CSV with one
// row per attempt, and plain-text failure reports.
package ledger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// Header is the first row of every ledger file.
var Header = []string{"round", "folder", "success", "fail", "rate"}

// Ledger appends entries to a CSV file. The file is opened fresh per write.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// Create makes a new ledger file in dir named after the session and the
// creation time, and writes the header row.
func Create(dir, sessionID string, now time.Time) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}

	name := fmt.Sprintf("%s_vali_results_%s.csv", sessionID, now.Format("20060102_150405"))
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write ledger header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("write ledger header: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	return &Ledger{path: path}, nil
}

// Open wraps an existing ledger file.
func Open(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one entry.
func (l *Ledger) Append(e models.RunLedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(e.Record()); err != nil {
		return fmt.Errorf("append ledger: %w", err)
	}
	w.Flush()
	return w.Error()
}

// ReadAll returns every data row in the ledger.
func (l *Ledger) ReadAll() ([][]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	if len(rows) > 0 && strings.Join(rows[0], ",") == strings.Join(Header, ",") {
		rows = rows[1:]
	}
	return rows, nil
}

// Report is a human-readable summary of a run's failures.
type Report struct {
	Total      int
	Successful int
	Failed     int
	Failures   []models.AgentResult
}

// String renders the report.
func (r Report) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "test cases: %d\n", r.Total)
	fmt.Fprintf(&sb, "success: %d\n", r.Successful)
	fmt.Fprintf(&sb, "fail: %d\n", r.Failed)
	sb.WriteString(strings.Repeat("=", 50))
	sb.WriteString("\n")
	for i, f := range r.Failures {
		fmt.Fprintf(&sb, "%d. [criterion %d] %s\n", i+1, f.CriterionIndex, f.ReportLine())
	}
	return sb.String()
}

// WriteReport writes the rendered report to path, replacing any previous one.
func WriteReport(path string, r Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.String()), 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
