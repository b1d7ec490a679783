// Package deploy installs a generated web application and runs several
// instances of it under a process supervisor.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/valiloop/internal/exec"
)

// Options configures a Manager.
type Options struct {
	// Prefix names instances; teardown deletes everything carrying it.
	Prefix           string
	NPM              string
	InstallTimeout   time.Duration
	DetectionTimeout time.Duration
	PollInterval     time.Duration
}

// DefaultOptions returns the standard deployment settings.
func DefaultOptions() Options {
	return Options{
		Prefix:           "webapp-",
		NPM:              "npm",
		InstallTimeout:   10 * time.Minute,
		DetectionTimeout: 60 * time.Second,
		PollInterval:     800 * time.Millisecond,
	}
}

// Manager deploys artifacts as N supervised instances.
type Manager struct {
	runner exec.CommandRunner
	sup    Supervisor
	opts   Options

	mu      sync.Mutex
	created map[string]struct{}
}

// NewManager creates a deployment manager.
func NewManager(runner exec.CommandRunner, sup Supervisor, opts Options) *Manager {
	if opts.Prefix == "" {
		opts.Prefix = DefaultOptions().Prefix
	}
	if opts.NPM == "" {
		opts.NPM = "npm"
	}
	return &Manager{
		runner:  runner,
		sup:     sup,
		opts:    opts,
		created: make(map[string]struct{}),
	}
}

// Deploy installs dependencies in dir, starts n instances and returns the
// ports of those that reported a local URL, in instance order. Fewer than n
// ports is not an error. Zero ports is a DeploymentError at the detect stage.
func (m *Manager) Deploy(ctx context.Context, dir string, n int) ([]int, error) {
	if n < 1 {
		return nil, fmt.Errorf("instance count must be at least 1, got %d", n)
	}

	log.Printf("[deploy] installing dependencies in %s", dir)
	if err := Install(ctx, m.runner, m.opts.NPM, dir, m.opts.InstallTimeout); err != nil {
		return nil, err
	}

	clearLogs(m.sup.LogDir())

	script := StartScript(dir)
	names := InstanceNames(m.opts.Prefix, n)
	path, err := NewEcosystem(dir, m.opts.NPM, script, names).Write(dir)
	if err != nil {
		return nil, &DeploymentError{Stage: StageLaunch, Err: err}
	}

	for _, name := range names {
		if err := m.sup.Delete(ctx, name); err != nil {
			return nil, &DeploymentError{Stage: StageLaunch, Err: fmt.Errorf("delete %s: %w", name, err)}
		}
	}

	m.track(names)
	if err := m.sup.Start(ctx, path, dir); err != nil {
		var de *DeploymentError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, &DeploymentError{Stage: StageLaunch, Err: err}
	}

	log.Printf("[deploy] started %d instances (npm run %s), waiting for ports", n, script)
	detections := DetectPorts(ctx, m.sup.LogDir(), names, m.opts.DetectionTimeout, m.opts.PollInterval)
	ports := Ports(detections)

	if len(ports) == 0 {
		return nil, &DeploymentError{
			Stage:  StageDetect,
			Output: m.logExcerpt(names),
			Err:    fmt.Errorf("no port found in logs under %s", m.sup.LogDir()),
		}
	}
	if len(ports) < n {
		var missing []string
		for _, d := range detections {
			if !d.Found {
				missing = append(missing, d.Name)
			}
		}
		log.Printf("[deploy] WARNING: only %d of %d instances ready, missing %s", len(ports), n, strings.Join(missing, ", "))
	}

	log.Printf("[deploy] ports: %v", ports)
	return ports, nil
}

// ErrTeardownIncomplete is returned when instances started by this manager
// could not be deleted.
var ErrTeardownIncomplete = errors.New("instances left running")

// Teardown deletes every supervised instance carrying the manager's prefix,
// including ones left behind by earlier processes, and returns their names.
// When the supervisor cannot list instances, the ones this manager started
// are deleted instead. Calling it again once everything is gone returns
// nothing.
func (m *Manager) Teardown(ctx context.Context) ([]string, error) {
	names, err := m.sup.List(ctx)
	if err != nil {
		names = m.Created()
		if len(names) == 0 {
			return nil, err
		}
		log.Printf("[deploy] list instances: %v; deleting the %d started here", err, len(names))
	}
	sort.Strings(names)

	var deleted, failed []string
	for _, name := range names {
		if !strings.HasPrefix(name, m.opts.Prefix) {
			continue
		}
		if err := m.sup.Delete(ctx, name); err != nil {
			log.Printf("[deploy] delete %s: %v", name, err)
			failed = append(failed, name)
			continue
		}
		deleted = append(deleted, name)
	}

	// Anything not failed is gone: deleted now, or absent from the listing.
	m.mu.Lock()
	remaining := make(map[string]struct{})
	var stuck []string
	for _, name := range failed {
		if _, ok := m.created[name]; ok {
			remaining[name] = struct{}{}
			stuck = append(stuck, name)
		}
	}
	m.created = remaining
	m.mu.Unlock()

	if len(deleted) > 0 {
		log.Printf("[deploy] removed %d instances", len(deleted))
	}
	if len(stuck) > 0 {
		return deleted, fmt.Errorf("%w: %s", ErrTeardownIncomplete, strings.Join(stuck, ", "))
	}
	return deleted, nil
}

// Created returns instances started by this manager and not yet torn down.
func (m *Manager) Created() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.created))
	for name := range m.created {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) track(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		m.created[name] = struct{}{}
	}
}

// logExcerpt collects the tail of each instance's error log for diagnostics.
func (m *Manager) logExcerpt(names []string) string {
	var sb strings.Builder
	for _, name := range names {
		files := LogFiles(m.sup.LogDir(), name)
		data, err := readFile(files[1])
		if err != nil || len(strings.TrimSpace(data)) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "[%s]\n%s\n", name, tail(ansiPattern.ReplaceAllString(data, ""), 1500))
	}
	return strings.TrimSpace(sb.String())
}
