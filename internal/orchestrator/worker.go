package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/valiloop/internal/api"
	"github.com/ShayCichocki/valiloop/internal/browser"
	"github.com/ShayCichocki/valiloop/internal/metrics"
	"github.com/ShayCichocki/valiloop/internal/prompts"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

// TestAgent drives a browser through a task until it reports a verdict.
type TestAgent interface {
	Run(ctx context.Context, task string, tools api.ToolExecutor, maxSteps int) (*api.LoopResult, error)
}

// Job is one slot of a round.
type Job struct {
	// Slot is the 1-based position within the round.
	Slot      int
	Round     int
	Criterion models.Criterion
	URL       string
	// Provider selects the task prompt style.
	Provider models.Provider
	// Warmup jobs run the no-op task; their results are discarded.
	Warmup bool
}

// JobRunner executes a job and never fails: every problem is folded into
// the returned result.
type JobRunner interface {
	Run(ctx context.Context, job Job) models.AgentResult
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	MaxSteps int
	// Timeout bounds one job's wall time. Zero relies on MaxSteps alone.
	Timeout time.Duration
	// LogDir receives one trace file per job. Empty disables traces.
	LogDir  string
	Prompts *prompts.Loader
	Metrics *metrics.Metrics
}

// Worker runs one criterion in its own browser session.
type Worker struct {
	launcher browser.Launcher
	agent    TestAgent
	cfg      WorkerConfig
}

var _ JobRunner = (*Worker)(nil)

// NewWorker creates a Worker.
func NewWorker(launcher browser.Launcher, agent TestAgent, cfg WorkerConfig) *Worker {
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = 20
	}
	if cfg.Prompts == nil {
		cfg.Prompts = prompts.Default()
	}
	return &Worker{launcher: launcher, agent: agent, cfg: cfg}
}

// Task renders the instruction given to the agent for job.
func (w *Worker) Task(job Job) (string, error) {
	if job.Warmup {
		return w.cfg.Prompts.Render(prompts.Warmup, prompts.Data{})
	}
	name := prompts.SoapTest
	if job.Provider.SentenceStylePrompts() {
		name = prompts.SoapTestSentence
	}
	return w.cfg.Prompts.Render(name, prompts.Data{URL: job.URL, Criteria: job.Criterion.String()})
}

// Run executes job. The browser session is closed on every path.
func (w *Worker) Run(ctx context.Context, job Job) models.AgentResult {
	start := time.Now()
	result := models.AgentResult{CriterionIndex: job.Criterion.Index}
	finish := func(outcome models.Outcome, detail string) models.AgentResult {
		result.Outcome = outcome
		result.Detail = detail
		result.Duration = time.Since(start)
		return result
	}

	task, err := w.Task(job)
	if err != nil {
		return finish(models.OutcomeWorkerError, err.Error())
	}

	runCtx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	w.cfg.Metrics.WorkerStarted()
	defer w.cfg.Metrics.WorkerDone()

	session, err := w.launcher.Launch(runCtx)
	if err != nil {
		debugLog("[worker] slot %d round %d: launch failed: %v", job.Slot, job.Round, err)
		return finish(models.OutcomeWorkerError, fmt.Sprintf("launch browser: %v", err))
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			debugLog("[worker] slot %d round %d: close session: %v", job.Slot, job.Round, cerr)
		}
	}()

	debugLog("[worker] slot %d round %d: criterion %d -> %s", job.Slot, job.Round, job.Criterion.Index, job.URL)
	out, err := w.agent.Run(runCtx, task, browser.NewTools(session), w.cfg.MaxSteps)
	w.saveTrace(job, out, err)

	switch {
	case err == nil:
		verdict := strings.TrimSpace(out.Output)
		if verdict == models.SuccessVerdict {
			return finish(models.OutcomeSuccess, "")
		}
		if verdict == "" {
			verdict = "agent finished without a verdict"
		}
		return finish(models.OutcomeFailure, verdict)
	case errors.Is(err, api.ErrMaxSteps):
		return finish(models.OutcomeFailure, fmt.Sprintf("agent did not finish within %d steps", w.cfg.MaxSteps))
	case w.cfg.Timeout > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		return finish(models.OutcomeWorkerError, fmt.Sprintf("timed out after %s", w.cfg.Timeout))
	default:
		return finish(models.OutcomeWorkerError, err.Error())
	}
}

type trace struct {
	Slot           int             `json:"slot"`
	Round          int             `json:"round"`
	Warmup         bool            `json:"warmup,omitempty"`
	CriterionIndex int             `json:"criterion_index"`
	URL            string          `json:"url"`
	Error          string          `json:"error,omitempty"`
	Result         *api.LoopResult `json:"result,omitempty"`
	SavedAt        time.Time       `json:"saved_at"`
}

// TracePath returns where a job's trace is written.
func TracePath(dir string, job Job) string {
	return filepath.Join(dir, fmt.Sprintf("agent_%d_round_%d.json", job.Slot, job.Round))
}

func (w *Worker) saveTrace(job Job, out *api.LoopResult, runErr error) {
	if w.cfg.LogDir == "" {
		return
	}
	t := trace{
		Slot:           job.Slot,
		Round:          job.Round,
		Warmup:         job.Warmup,
		CriterionIndex: job.Criterion.Index,
		URL:            job.URL,
		Result:         out,
		SavedAt:        time.Now(),
	}
	if runErr != nil {
		t.Error = runErr.Error()
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err == nil {
		err = os.MkdirAll(w.cfg.LogDir, 0755)
	}
	if err == nil {
		err = os.WriteFile(TracePath(w.cfg.LogDir, job), data, 0644)
	}
	if err != nil {
		log.Printf("[worker] save trace: %v", err)
	}
}
