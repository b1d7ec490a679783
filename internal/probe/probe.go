// Package probe checks that a deployed instance renders a real page before
// any test agent is spent on it.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/valiloop/internal/api"
	"github.com/ShayCichocki/valiloop/internal/browser"
	"github.com/ShayCichocki/valiloop/internal/prompts"
	"github.com/ShayCichocki/valiloop/internal/retry"
)

// CaptureFailedDetail is reported when no screenshot could be taken.
const CaptureFailedDetail = "Fail to capture screenshot"

// LoadFailure means the page did not render usable content.
type LoadFailure struct {
	Detail string
}

func (e *LoadFailure) Error() string {
	return "page failed to load: " + e.Detail
}

// ClassificationError means the model's verdict could not be interpreted.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return "classify snapshot: " + e.Err.Error()
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

var errBadVerdict = errors.New("invalid value for loading_success")

// Verdict is the model's JSON answer.
type Verdict struct {
	LoadingSuccess string `json:"loading_success"`
	Detail         string `json:"detail"`
}

// ParseVerdict decodes and checks a verdict.
func ParseVerdict(text string) (Verdict, error) {
	var v Verdict
	if err := json.Unmarshal([]byte(api.StripFences(text)), &v); err != nil {
		return v, fmt.Errorf("decode verdict: %w", err)
	}
	if v.LoadingSuccess != "True" && v.LoadingSuccess != "False" {
		return v, fmt.Errorf("%w: %q", errBadVerdict, v.LoadingSuccess)
	}
	return v, nil
}

// Result is a successful probe.
type Result struct {
	// Commentary holds the visual comparison against the reference image,
	// if one was configured and the model found differences.
	Commentary   string
	SnapshotPath string
}

// Prober snapshots a URL and asks a model whether it loaded.
type Prober struct {
	snap      browser.Snapshotter
	asker     api.Asker
	prompts   *prompts.Loader
	reference *api.Image
	policy    retry.Policy
}

// Option configures a Prober.
type Option func(*Prober)

// WithReference enables visual comparison against a design mockup.
func WithReference(img api.Image) Option {
	return func(p *Prober) {
		p.reference = &img
	}
}

// WithPrompts replaces the prompt loader.
func WithPrompts(l *prompts.Loader) Option {
	return func(p *Prober) {
		p.prompts = l
	}
}

// WithClassifyAttempts sets how many times a malformed verdict is re-asked.
func WithClassifyAttempts(n int, backoff time.Duration) Option {
	return func(p *Prober) {
		p.policy.MaxAttempts = n
		p.policy.Backoff = backoff
	}
}

// New creates a Prober.
func New(snap browser.Snapshotter, asker api.Asker, opts ...Option) *Prober {
	p := &Prober{
		snap:    snap,
		asker:   asker,
		prompts: prompts.Default(),
		policy: retry.Policy{
			MaxAttempts: 1,
			OnRetry: func(attempt int, err error) {
				log.Printf("[probe] verdict attempt %d rejected: %v", attempt, err)
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadReference reads a reference image, sniffing its media type.
func LoadReference(path string) (api.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.Image{}, fmt.Errorf("read reference image: %w", err)
	}
	return api.Image{MediaType: http.DetectContentType(data), Data: data}, nil
}

// Probe captures url and classifies it. When snapshotPath is set the PNG is
// also written there. A page that did not load yields *LoadFailure; an
// unusable verdict yields *ClassificationError.
func (p *Prober) Probe(ctx context.Context, url, snapshotPath string) (*Result, error) {
	png, err := p.snap.Snapshot(ctx, url)
	if err != nil || len(png) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("[probe] capture %s failed: %v", url, err)
		return nil, &LoadFailure{Detail: CaptureFailedDetail}
	}

	if snapshotPath != "" {
		if err := saveSnapshot(snapshotPath, png); err != nil {
			log.Printf("[probe] save snapshot: %v", err)
			snapshotPath = ""
		}
	}

	name := prompts.Screenshot
	images := []api.Image{api.PNG(png)}
	if p.reference != nil {
		name = prompts.ScreenshotCompare
		images = append(images, *p.reference)
	}
	instruction, err := p.prompts.Render(name, prompts.Data{})
	if err != nil {
		return nil, err
	}

	verdict, err := retry.Do(ctx, p.policy, func(ctx context.Context) (Verdict, error) {
		text, err := p.asker.Ask(ctx, instruction, images...)
		if err != nil {
			return Verdict{}, err
		}
		return ParseVerdict(text)
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ClassificationError{Err: err}
	}

	if verdict.LoadingSuccess == "False" {
		return nil, &LoadFailure{Detail: verdict.Detail}
	}

	res := &Result{SnapshotPath: snapshotPath}
	if p.reference != nil {
		res.Commentary = verdict.Detail
	}
	return res, nil
}

func saveSnapshot(path string, png []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, png, 0644)
}
