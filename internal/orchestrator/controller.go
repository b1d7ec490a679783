package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/valiloop/internal/artifact"
	"github.com/ShayCichocki/valiloop/internal/criteria"
	"github.com/ShayCichocki/valiloop/internal/deploy"
	"github.com/ShayCichocki/valiloop/internal/metrics"
	"github.com/ShayCichocki/valiloop/internal/probe"
	"github.com/ShayCichocki/valiloop/internal/prompts"
	"github.com/ShayCichocki/valiloop/internal/state"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

// ArtifactResolver turns a reference from the regeneration step into an
// extracted artifact.
type ArtifactResolver interface {
	Resolve(ref string) (*artifact.Artifact, error)
}

// Deployer starts and stops artifact instances.
type Deployer interface {
	Deploy(ctx context.Context, dir string, n int) ([]int, error)
	Teardown(ctx context.Context) ([]string, error)
}

// HealthProber checks the primary instance.
type HealthProber interface {
	Probe(ctx context.Context, url, snapshotPath string) (*probe.Result, error)
}

// CriteriaRunner executes every criterion against the instances.
type CriteriaRunner interface {
	Run(ctx context.Context, criteria []models.Criterion, ports []int, settings RunSettings) ([]models.AgentResult, error)
}

// LedgerFactory creates the ledger for a new session of attempts.
type LedgerFactory func() (LedgerSink, error)

// Controller runs validation attempts one at a time and decides what the
// regeneration step should do next.
type Controller struct {
	rc         *RunContext
	resolver   ArtifactResolver
	criteria   criteria.Source
	deployer   Deployer
	prober     HealthProber
	scheduler  CriteriaRunner
	aggregator *Aggregator
	newLedger  LedgerFactory
	history    state.AttemptStore
	metrics    *metrics.Metrics
	events     *EventEmitter
	logger     *DebugLogger
	prompts    *prompts.Loader

	warnBeforeLimit int
	teardownTimeout time.Duration
}

// NewController creates a Controller.
func NewController(req RequiredConfig, opts ...Option) *Controller {
	o := defaultControllerOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.aggregator == nil {
		o.aggregator = NewAggregator(nil)
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.prompts == nil {
		o.prompts = prompts.Default()
	}
	setPackageLogger(o.logger)

	return &Controller{
		rc:              req.RunContext,
		resolver:        req.Resolver,
		criteria:        req.Criteria,
		deployer:        req.Deployer,
		prober:          req.Prober,
		scheduler:       req.Scheduler,
		aggregator:      o.aggregator,
		newLedger:       o.newLedger,
		history:         o.history,
		metrics:         o.metrics,
		events:          o.events,
		logger:          o.logger,
		prompts:         o.prompts,
		warnBeforeLimit: o.warnBeforeLimit,
		teardownTimeout: o.teardownTimeout,
	}
}

// RunContext returns the controller's run context.
func (c *Controller) RunContext() *RunContext {
	return c.rc
}

// Reset starts a new session: the attempt counter and status are cleared
// and the next attempt opens a fresh ledger.
func (c *Controller) Reset() error {
	release, err := c.rc.TryBeginRun()
	if err != nil {
		return err
	}
	defer release()
	c.rc.ResetAll()
	c.logger.Log("[controller] session reset")
	return nil
}

// Validate runs one attempt against the artifact named by ref. It never
// returns an error; every outcome is a Response.
func (c *Controller) Validate(ctx context.Context, ref string) Response {
	release, err := c.rc.TryBeginRun()
	if err != nil {
		return errorResponse(err.Error())
	}
	defer release()

	prev := c.rc.NextAttempt()
	attempt := prev + 1
	log.Printf("[vali] validation %d", attempt)
	if prev == 0 {
		c.openLedger()
	}

	limit := c.rc.RoundLimit()
	if prev >= limit {
		resp := successResponse(fmt.Sprintf("Reached %d rounds, stopping further rounds.", limit))
		c.metrics.AttemptFinished(string(resp.Message))
		return resp
	}
	if remaining := limit - attempt; remaining <= c.warnBeforeLimit {
		log.Printf("[vali] WARNING: only %d rounds left before reaching the limit of %d rounds", remaining, limit)
		c.logger.Log("[controller] %d attempts left of %d", remaining, limit)
		c.events.Emit(Event{Type: EventLimitWarning, Round: attempt, Message: fmt.Sprintf("%d rounds left", remaining)})
	}

	resp := c.attempt(ctx, ref, attempt)
	c.metrics.AttemptFinished(string(resp.Message))
	return resp
}

func (c *Controller) openLedger() {
	if c.newLedger == nil {
		return
	}
	sink, err := c.newLedger()
	if err != nil {
		log.Printf("[vali] create ledger: %v", err)
		return
	}
	c.aggregator.SetLedger(sink)
}

// attemptRecord accumulates what is persisted about one attempt.
type attemptRecord struct {
	run     *models.ValidationRun
	results []models.AgentResult
	summary *Summary
	detail  string
}

func (c *Controller) attempt(ctx context.Context, ref string, round int) Response {
	art, err := c.resolver.Resolve(ref)
	if err != nil {
		c.logger.Log("[controller] resolve %q: %v", ref, err)
		return errorResponse(err.Error())
	}

	crit, err := c.criteria.Load()
	if err != nil {
		c.logger.Log("[controller] load criteria: %v", err)
		return errorResponse(fmt.Sprintf("load criteria: %v", err))
	}

	run := models.NewValidationRun(uuid.New().String()[:8], art.ID, art.Dir, round)
	run.Criteria = crit
	c.rc.beginRun(run)
	c.events.Emit(Event{Type: EventRunStarted, RunID: run.ID, ArtifactID: run.ArtifactID, Round: round})
	log.Printf("[vali] %s: %d criteria, attempt %d", run.ArtifactID, len(crit), round)

	rec := &attemptRecord{run: run}
	resp := c.execute(ctx, art, rec)

	if !run.Status.Terminal() {
		c.transition(run, models.RunStatusAborted)
	}
	c.rc.setPhase(run.Status)
	c.record(rec, resp)
	c.events.Emit(Event{
		Type:       EventRunFinished,
		RunID:      run.ID,
		ArtifactID: run.ArtifactID,
		Round:      round,
		Passed:     rec.passed(),
		Failed:     rec.failed(),
		Message:    string(resp.Message),
	})
	c.logger.Log("[controller] run %s finished: %s (%s)", run.ID, run.Status, resp.Message)
	return resp
}

// execute drives the run from Deploying to a terminal phase. Instances are
// torn down on every path once deployment has started.
func (c *Controller) execute(ctx context.Context, art *artifact.Artifact, rec *attemptRecord) Response {
	run := rec.run
	settings := RunSettings{Parallel: c.rc.Parallel(), Provider: c.rc.Provider()}
	provider := settings.Provider

	c.transition(run, models.RunStatusDeploying)
	c.save(rec, "")
	defer c.teardown(ctx)

	n := settings.Parallel
	run.InstancesRequested = n
	c.rc.setInstances(n, 0)

	deployStart := time.Now()
	ports, err := c.deployer.Deploy(ctx, art.Dir, n)
	if err == nil && len(ports) == 0 {
		err = &deploy.DeploymentError{Stage: deploy.StageDetect, Err: errors.New("no instance reported a port")}
	}
	if err != nil {
		rec.detail = err.Error()
		var de *deploy.DeploymentError
		if errors.As(err, &de) {
			c.metrics.DeployFailed(string(de.Stage))
		} else {
			c.metrics.DeployFailed("unknown")
		}
		log.Printf("[vali] %s: deployment failed: %v", run.ArtifactID, err)
		return continueResponse(c.prompts.MustRender(prompts.LaunchingFailed, prompts.Data{Errors: err.Error()}), provider)
	}

	run.InstancePorts = ports
	c.rc.setInstances(n, len(ports))
	c.metrics.Deployed(time.Since(deployStart), len(ports))
	if len(ports) < n {
		log.Printf("[vali] %s: only %d of %d instances reported a port, continuing", run.ArtifactID, len(ports), n)
	}
	log.Printf("[vali] %d applications running, ports: %v", len(ports), ports)
	c.events.Emit(Event{Type: EventDeployed, RunID: run.ID, ArtifactID: run.ArtifactID, Message: fmt.Sprintf("ports %v", ports)})

	c.transition(run, models.RunStatusProbing)
	c.save(rec, "")
	probed, err := c.prober.Probe(ctx, models.InstanceURL(ports[0]), art.SnapshotPath())
	if err != nil {
		rec.detail = err.Error()
		var lf *probe.LoadFailure
		var ce *probe.ClassificationError
		switch {
		case errors.As(err, &lf):
			c.metrics.Probed("load_failed")
			log.Printf("[vali] %s: page failed to load: %s", run.ArtifactID, lf.Detail)
			return continueResponse(c.prompts.MustRender(prompts.LoadingFailed, prompts.Data{Detail: lf.Detail}), provider)
		case errors.As(err, &ce):
			c.metrics.Probed("classification_error")
			return errorResponse(fmt.Sprintf("Initial image validation failed: %v", ce.Err))
		default:
			c.metrics.Probed("error")
			return errorResponse(fmt.Sprintf("Initial image validation failed: %v", err))
		}
	}
	c.metrics.Probed("loaded")
	if probed.Commentary != "" {
		log.Printf("[vali] %s: differences found against the reference design", run.ArtifactID)
	}
	c.events.Emit(Event{Type: EventProbed, RunID: run.ID, ArtifactID: run.ArtifactID})

	c.transition(run, models.RunStatusRunning)
	c.save(rec, "")
	results, err := c.scheduler.Run(ctx, run.Criteria, ports, settings)
	rec.results = results
	if err != nil {
		rec.detail = err.Error()
		log.Printf("[vali] %s: rounds stopped: %v", run.ArtifactID, err)
		return errorResponse(fmt.Sprintf("Application execution error: %v", err))
	}

	c.transition(run, models.RunStatusAggregating)
	summary := c.aggregator.Finish(run, results, art.ReportPath())
	rec.summary = &summary

	if summary.Passed() {
		c.transition(run, models.RunStatusSucceeded)
		return successResponse(models.SuccessVerdict)
	}

	c.transition(run, models.RunStatusFailed)
	reports := failureReport(summary.FailureLines())
	if probed.Commentary != "" {
		return continueResponse(c.prompts.MustRender(prompts.TestingFeedbackCompare, prompts.Data{Reports: reports, Compare: probed.Commentary}), provider)
	}
	return continueResponse(c.prompts.MustRender(prompts.TestingFeedback, prompts.Data{Reports: reports}), provider)
}

func (c *Controller) transition(run *models.ValidationRun, next models.RunStatus) {
	if err := run.Transition(next); err != nil {
		c.logger.Log("[controller] %v", err)
		return
	}
	c.rc.setPhase(next)
	debugLog("[controller] run %s -> %s", run.ID, next)
}

// teardown removes every instance, even when ctx has been cancelled.
func (c *Controller) teardown(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.teardownTimeout)
	defer cancel()

	removed, err := c.deployer.Teardown(tctx)
	if err != nil {
		log.Printf("[vali] teardown: %v", err)
	}
	c.metrics.TornDown()
	c.rc.setInstances(0, 0)
	if len(removed) > 0 {
		debugLog("[controller] removed instances %v", removed)
	}
}

func (rec *attemptRecord) passed() int {
	if rec.summary != nil {
		return rec.summary.Entry.SuccessCount
	}
	return 0
}

func (rec *attemptRecord) failed() int {
	if rec.summary != nil {
		return rec.summary.Entry.FailCount
	}
	return 0
}

func (c *Controller) save(rec *attemptRecord, response string) {
	if c.history == nil {
		return
	}
	run := rec.run
	a := &state.Attempt{
		ID:                 run.ID,
		ArtifactID:         run.ArtifactID,
		Round:              run.RoundNumber,
		Status:             run.Status,
		Response:           response,
		SuccessCount:       rec.passed(),
		FailCount:          rec.failed(),
		InstancesRequested: run.InstancesRequested,
		InstancesReady:     len(run.InstancePorts),
		Detail:             rec.detail,
		StartedAt:          run.StartedAt,
		EndedAt:            run.EndedAt,
	}
	if err := c.history.SaveAttempt(a, rec.results); err != nil {
		log.Printf("[vali] save history: %v", err)
	}
}

func (c *Controller) record(rec *attemptRecord, resp Response) {
	c.save(rec, string(resp.Message))
}
