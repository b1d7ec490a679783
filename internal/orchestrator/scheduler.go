package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/valiloop/internal/metrics"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

// ErrNoPorts is returned when the scheduler is given no instances.
var ErrNoPorts = errors.New("no instance ports to test against")

// Plan splits criteria into rounds of at most parallel contiguous criteria.
// Slot i of each round is assigned ports[i mod len(ports)].
func Plan(criteria []models.Criterion, ports []int, parallel int) []models.RoundBatch {
	if parallel < 1 {
		parallel = 1
	}
	if len(ports) == 0 {
		return nil
	}

	var batches []models.RoundBatch
	for start := 0; start < len(criteria); start += parallel {
		end := min(start+parallel, len(criteria))
		b := models.RoundBatch{RoundIndex: len(batches) + 1}
		for i := start; i < end; i++ {
			slot := i - start
			b.CriterionIndices = append(b.CriterionIndices, i)
			b.AssignedURLs = append(b.AssignedURLs, models.InstanceURL(ports[slot%len(ports)]))
		}
		batches = append(batches, b)
	}
	return batches
}

// Scheduler runs criteria round by round. Rounds never overlap; within a
// round every slot runs concurrently.
type Scheduler struct {
	runner   JobRunner
	parallel int
	warmup   bool
	rc       *RunContext
	metrics  *metrics.Metrics
	events   *EventEmitter
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithWarmup toggles the discarded priming round.
func WithWarmup(enabled bool) SchedulerOption {
	return func(s *Scheduler) { s.warmup = enabled }
}

// WithRunContext publishes round progress to rc.
func WithRunContext(rc *RunContext) SchedulerOption {
	return func(s *Scheduler) { s.rc = rc }
}

// WithSchedulerMetrics records round and criterion metrics.
func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithSchedulerEvents emits round events.
func WithSchedulerEvents(e *EventEmitter) SchedulerOption {
	return func(s *Scheduler) { s.events = e }
}

// NewScheduler creates a Scheduler with the given concurrency budget.
func NewScheduler(runner JobRunner, parallel int, opts ...SchedulerOption) *Scheduler {
	if parallel < 1 {
		parallel = 1
	}
	s := &Scheduler{runner: runner, parallel: parallel, warmup: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunSettings are fixed for one attempt. They are read from the RunContext
// once, before deployment, so a reconfiguration mid-attempt cannot reshape
// the rounds.
type RunSettings struct {
	// Parallel is the round size. Zero uses the scheduler's own budget.
	Parallel int
	Provider models.Provider
}

// Run tests every criterion and returns one result per criterion, ordered
// by criterion index. The context is checked between rounds; on
// cancellation the results of completed rounds are returned with the error.
func (s *Scheduler) Run(ctx context.Context, criteria []models.Criterion, ports []int, settings RunSettings) ([]models.AgentResult, error) {
	if len(ports) == 0 {
		return nil, ErrNoPorts
	}

	if s.rc != nil {
		s.rc.startRounds(len(criteria))
		defer s.rc.finishRounds()
	}
	if len(criteria) == 0 {
		log.Printf("[scheduler] no criteria, nothing to run")
		return nil, nil
	}

	parallel := settings.Parallel
	if parallel < 1 {
		parallel = s.parallel
	}
	if s.warmup {
		s.runWarmup(ctx, ports, parallel, settings.Provider)
	}

	batches := Plan(criteria, ports, parallel)
	results := make([]models.AgentResult, 0, len(criteria))

	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("stopped before round %d: %w", b.RoundIndex, err)
		}

		log.Printf("[scheduler] round %d/%d: %d criteria, %d remaining", b.RoundIndex, len(batches), len(b.CriterionIndices), len(criteria)-len(results))
		if s.rc != nil {
			s.rc.beginRound(b.RoundIndex)
		}
		s.events.Emit(Event{Type: EventRoundStarted, Round: b.RoundIndex})

		jobs := make([]Job, len(b.CriterionIndices))
		for slot, idx := range b.CriterionIndices {
			jobs[slot] = Job{
				Slot:      slot + 1,
				Round:     b.RoundIndex,
				Criterion: criteria[idx],
				URL:       b.AssignedURLs[slot],
				Provider:  settings.Provider,
			}
			debugLog("[scheduler] criterion %d -> %s", idx+1, jobs[slot].URL)
		}

		start := time.Now()
		round := s.runRound(ctx, jobs)
		s.metrics.RoundCompleted(time.Since(start))

		passed := 0
		for _, r := range round {
			s.metrics.CriterionResult(r.Outcome)
			if r.Passed() {
				passed++
			}
		}
		if s.rc != nil {
			s.rc.completeRound(round)
		}
		s.events.Emit(Event{Type: EventRoundCompleted, Round: b.RoundIndex, Passed: passed, Failed: len(round) - passed})
		log.Printf("[scheduler] round %d completed: %d success, %d fail", b.RoundIndex, passed, len(round)-passed)

		results = append(results, round...)
	}

	return results, nil
}

// runWarmup starts one session per slot with the no-op task to prime the
// browsers. Results are discarded.
func (s *Scheduler) runWarmup(ctx context.Context, ports []int, parallel int, provider models.Provider) {
	jobs := make([]Job, parallel)
	for i := range jobs {
		jobs[i] = Job{
			Slot:      i + 1,
			Round:     0,
			Criterion: models.Criterion{Index: -1},
			URL:       models.InstanceURL(ports[i%len(ports)]),
			Provider:  provider,
			Warmup:    true,
		}
	}
	log.Printf("[scheduler] warm-up: %d sessions", len(jobs))
	s.runRound(ctx, jobs)
}

// runRound runs every job concurrently and waits for all of them.
func (s *Scheduler) runRound(ctx context.Context, jobs []Job) []models.AgentResult {
	results := make([]models.AgentResult, len(jobs))
	var g errgroup.Group
	for i, job := range jobs {
		g.Go(func() error {
			results[i] = s.runner.Run(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
