package main

import (
	"fmt"
	"log"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/valiloop/internal/api"
	"github.com/ShayCichocki/valiloop/internal/artifact"
	"github.com/ShayCichocki/valiloop/internal/browser"
	"github.com/ShayCichocki/valiloop/internal/config"
	"github.com/ShayCichocki/valiloop/internal/criteria"
	"github.com/ShayCichocki/valiloop/internal/deploy"
	"github.com/ShayCichocki/valiloop/internal/exec"
	"github.com/ShayCichocki/valiloop/internal/ledger"
	"github.com/ShayCichocki/valiloop/internal/metrics"
	"github.com/ShayCichocki/valiloop/internal/orchestrator"
	"github.com/ShayCichocki/valiloop/internal/probe"
	"github.com/ShayCichocki/valiloop/internal/retry"
	"github.com/ShayCichocki/valiloop/internal/state"
)

// agentSystemPrompt frames every browser test agent.
const agentSystemPrompt = `You are a meticulous QA engineer. You test a running web application through the browser tools you are given. Act only through the tools, verify what the page actually shows, and finish by calling done with your verdict.`

// app holds the wired components of one process.
type app struct {
	cfg      *config.Config
	rc       *orchestrator.RunContext
	ctrl     *orchestrator.Controller
	deployer *deploy.Manager
	metrics  *metrics.Metrics
	events   *orchestrator.EventEmitter
	db       *state.DB
	logger   *orchestrator.DebugLogger
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newDeployer(cfg *config.Config) *deploy.Manager {
	runner := exec.NewRunner()
	pm2 := deploy.NewPM2(runner, cfg.Deploy.PM2Binary, cfg.Deploy.PM2LogDir, cfg.Deploy.StartTimeout)
	return deploy.NewManager(runner, pm2, deploy.Options{
		Prefix:           cfg.Deploy.InstancePrefix,
		NPM:              cfg.Deploy.NPMBinary,
		InstallTimeout:   cfg.Deploy.InstallTimeout,
		DetectionTimeout: cfg.Deploy.DetectionTimeout,
		PollInterval:     cfg.Deploy.PollInterval,
	})
}

// buildApp wires the controller from configuration. The caller must call
// close on the result.
func buildApp(cfg *config.Config) (*app, error) {
	logger, err := orchestrator.NewDebugLogger(cfg.Paths.LogFile)
	if err != nil {
		return nil, fmt.Errorf("open debug log: %w", err)
	}

	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
		Retry: retry.Policy{
			MaxAttempts: cfg.Backend.MaxAttempts,
			Backoff:     cfg.Backend.Backoff,
			OnRetry: func(attempt int, err error) {
				log.Printf("[api] attempt %d failed: %v", attempt, err)
			},
		},
	})
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("create API client: %w", err)
	}

	db, err := state.OpenAndMigrate(cfg.Paths.StateDB)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("open state: %w", err)
	}
	if n, err := state.NewRecoveryManager(db).Clean(); err != nil {
		log.Printf("[state] recovery: %v", err)
	} else if n > 0 {
		log.Printf("[state] marked %d interrupted attempts as aborted", n)
	}

	chrome := browser.NewChrome(browser.Options{
		ExecPath:    cfg.Browser.ExecPath,
		Headless:    cfg.Browser.Headless,
		Width:       cfg.Browser.ViewportWidth,
		Height:      cfg.Browser.ViewportHeight,
		SettleDelay: cfg.Browser.SettleDelay,
	})

	proberOpts := []probe.Option{probe.WithClassifyAttempts(cfg.Backend.ClassifyAttempts, cfg.Backend.Backoff)}
	if cfg.Paths.ReferenceImage != "" {
		ref, err := probe.LoadReference(cfg.Paths.ReferenceImage)
		if err != nil {
			db.Close()
			logger.Close()
			return nil, fmt.Errorf("load reference image: %w", err)
		}
		proberOpts = append(proberOpts, probe.WithReference(ref))
	}

	m := metrics.New()
	events := orchestrator.NewEventEmitter(256)
	rc := orchestrator.NewRunContext(cfg.Validation.RoundLimit, cfg.Validation.ParallelCount, cfg.Provider())
	deployer := newDeployer(cfg)

	worker := orchestrator.NewWorker(chrome, api.NewAgentLoop(client, agentSystemPrompt), orchestrator.WorkerConfig{
		MaxSteps: cfg.Validation.MaxSteps,
		Timeout:  cfg.Validation.WorkerTimeout,
		LogDir:   cfg.Paths.AgentLogDir,
		Metrics:  m,
	})
	scheduler := orchestrator.NewScheduler(worker, cfg.Validation.ParallelCount,
		orchestrator.WithWarmup(cfg.Validation.Warmup),
		orchestrator.WithRunContext(rc),
		orchestrator.WithSchedulerMetrics(m),
		orchestrator.WithSchedulerEvents(events),
	)

	ledgerDir := cfg.Paths.LedgerDir
	sessionID := cfg.Session.ID
	ctrl := orchestrator.NewController(orchestrator.RequiredConfig{
		RunContext: rc,
		Resolver:   artifact.NewResolver(cfg.Paths.DownloadsDir),
		Criteria:   criteria.FileSource{Path: cfg.Paths.CriteriaFile},
		Deployer:   deployer,
		Prober:     probe.New(chrome, client, proberOpts...),
		Scheduler:  scheduler,
	},
		orchestrator.WithLedgerFactory(func() (orchestrator.LedgerSink, error) {
			l, err := ledger.Create(ledgerDir, sessionID, time.Now())
			if err != nil {
				return nil, err
			}
			log.Printf("[vali] ledger: %s", l.Path())
			return l, nil
		}),
		orchestrator.WithHistory(db),
		orchestrator.WithMetrics(m),
		orchestrator.WithEvents(events),
		orchestrator.WithLogger(logger),
		orchestrator.WithWarnBeforeLimit(cfg.Validation.WarnBeforeLimit),
	)

	a := &app{
		cfg:      cfg,
		rc:       rc,
		ctrl:     ctrl,
		deployer: deployer,
		metrics:  m,
		events:   events,
		db:       db,
		logger:   logger,
	}
	go a.drainEvents()
	return a, nil
}

// drainEvents copies events into the debug log until the emitter closes.
func (a *app) drainEvents() {
	for e := range a.events.Events() {
		line := fmt.Sprintf("[event] %s run=%s artifact=%s round=%d passed=%d failed=%d", e.Type, e.RunID, e.ArtifactID, e.Round, e.Passed, e.Failed)
		if e.Message != "" {
			line += " " + e.Message
		}
		a.logger.Log("%s", line)
	}
}

func (a *app) close() {
	a.events.Close()
	if err := a.db.Close(); err != nil {
		log.Printf("[state] close: %v", err)
	}
	a.logger.Close()
}

// resolveServerURL returns the base URL client commands talk to.
func resolveServerURL(cfg *config.Config) string {
	if serverAddr != "" {
		return serverAddr
	}
	addr := cfg.Server.Addr
	if len(addr) > 0 && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
