// Package browser drives headless Chrome for page snapshots and for the
// tools a test agent uses to operate a page.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Options configures browser sessions.
type Options struct {
	// ExecPath overrides the Chrome binary. Empty uses chromedp's lookup.
	ExecPath string
	Headless bool
	Width    int
	Height   int
	// SettleDelay is waited after the network goes idle.
	SettleDelay time.Duration
	// NavTimeout bounds a navigation including the idle wait.
	NavTimeout time.Duration
	// ActionTimeout bounds every other page action.
	ActionTimeout time.Duration
}

// DefaultOptions returns a 1920x1080 headless configuration.
func DefaultOptions() Options {
	return Options{
		Headless:      true,
		Width:         1920,
		Height:        1080,
		SettleDelay:   time.Second,
		NavTimeout:    45 * time.Second,
		ActionTimeout: 15 * time.Second,
	}
}

// Element is an interactive element found on the page.
type Element struct {
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Text     string `json:"text,omitempty"`
	Type     string `json:"type,omitempty"`
}

// Session is one exclusive browser instance.
type Session interface {
	Navigate(url string) error
	Click(selector string) error
	Type(selector, text string) error
	Text(selector string) (string, error)
	Elements() ([]Element, error)
	Back() error
	Reload() error
	Location() (string, error)
	Screenshot() ([]byte, error)
	Close() error
}

// Launcher starts sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// Snapshotter captures a full-page image of a URL.
type Snapshotter interface {
	Snapshot(ctx context.Context, url string) ([]byte, error)
}

// Chrome launches chromedp-backed sessions.
type Chrome struct {
	opts Options
}

// NewChrome creates a Chrome launcher.
func NewChrome(opts Options) *Chrome {
	d := DefaultOptions()
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = d.Width, d.Height
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = d.NavTimeout
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = d.ActionTimeout
	}
	return &Chrome{opts: opts}
}

// Launch starts a fresh browser process. The session lives until Close or
// until ctx is done.
func (c *Chrome) Launch(ctx context.Context) (Session, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.WindowSize(c.opts.Width, c.opts.Height))
	if !c.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if c.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(c.opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser and attaches the target.
	if err := chromedp.Run(browserCtx, chromedp.EmulateViewport(int64(c.opts.Width), int64(c.opts.Height))); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &chromeSession{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{browserCancel, allocCancel},
		opts:    c.opts,
	}, nil
}

// Snapshot loads url in a fresh session, waits for the network to go idle
// and returns a full-page PNG.
func (c *Chrome) Snapshot(ctx context.Context, url string) ([]byte, error) {
	s, err := c.Launch(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Navigate(url); err != nil {
		return nil, err
	}
	return s.Screenshot()
}

type chromeSession struct {
	ctx     context.Context
	cancels []context.CancelFunc
	opts    Options

	closeOnce sync.Once
	closeErr  error
}

func (s *chromeSession) run(timeout time.Duration, actions ...chromedp.Action) error {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// Navigate loads url and waits until the page's network has been quiet for
// half a second, then for the settle delay. An idle wait that runs out of
// time is not an error; slow pages are still usable.
func (s *chromeSession) Navigate(url string) error {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.NavTimeout)
	defer cancel()

	tracker := newIdleTracker()
	chromedp.ListenTarget(ctx, tracker.observe)

	if err := chromedp.Run(ctx, enableNetwork(), chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := tracker.wait(ctx, networkQuiet); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if s.opts.SettleDelay > 0 {
		select {
		case <-time.After(s.opts.SettleDelay):
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
	return nil
}

func (s *chromeSession) Click(selector string) error {
	return s.run(s.opts.ActionTimeout, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (s *chromeSession) Type(selector, text string) error {
	return s.run(s.opts.ActionTimeout,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (s *chromeSession) Text(selector string) (string, error) {
	var text string
	err := s.run(s.opts.ActionTimeout, chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.NodeVisible))
	return text, err
}

func (s *chromeSession) Elements() ([]Element, error) {
	var elems []Element
	err := s.run(s.opts.ActionTimeout, chromedp.Evaluate(listElementsJS, &elems))
	return elems, err
}

func (s *chromeSession) Back() error {
	return s.run(s.opts.NavTimeout, chromedp.NavigateBack())
}

func (s *chromeSession) Reload() error {
	return s.run(s.opts.NavTimeout, chromedp.Reload())
}

func (s *chromeSession) Location() (string, error) {
	var loc string
	err := s.run(s.opts.ActionTimeout, chromedp.Location(&loc))
	return loc, err
}

// Screenshot captures the full page as PNG.
func (s *chromeSession) Screenshot() ([]byte, error) {
	var buf []byte
	if err := s.run(s.opts.NavTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
		defer cancel()
		s.closeErr = chromedp.Cancel(ctx)
		for _, c := range s.cancels {
			c()
		}
	})
	return s.closeErr
}

// listElementsJS returns visible interactive elements with a selector that
// addresses each one.
const listElementsJS = `(() => {
  const out = [];
  const nodes = document.querySelectorAll('a, button, input, select, textarea, [role="button"], [onclick], [contenteditable="true"]');
  let i = 0;
  for (const el of nodes) {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) continue;
    if (!el.dataset.valiloopId) el.dataset.valiloopId = String(i++);
    out.push({
      selector: '[data-valiloop-id="' + el.dataset.valiloopId + '"]',
      tag: el.tagName.toLowerCase(),
      text: (el.innerText || el.value || el.placeholder || el.getAttribute('aria-label') || '').trim().slice(0, 80),
      type: el.getAttribute('type') || ''
    });
    if (out.length >= 150) break;
  }
  return out;
})()`
