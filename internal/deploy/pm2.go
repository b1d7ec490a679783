package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/valiloop/internal/exec"
)

// Supervisor is the process manager that keeps instances running.
type Supervisor interface {
	// Start launches every app in the ecosystem file.
	Start(ctx context.Context, ecosystemPath, dir string) error
	// Delete removes a named instance. Deleting an unknown name is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all managed instances.
	List(ctx context.Context) ([]string, error)
	// LogDir is where per-instance stdout/stderr logs are written.
	LogDir() string
}

// PM2 drives the pm2 CLI.
type PM2 struct {
	runner  exec.CommandRunner
	binary  string
	logDir  string
	timeout time.Duration
}

// NewPM2 creates a pm2 supervisor. timeout bounds each pm2 invocation.
func NewPM2(runner exec.CommandRunner, binary, logDir string, timeout time.Duration) *PM2 {
	if binary == "" {
		binary = "pm2"
	}
	return &PM2{runner: runner, binary: binary, logDir: logDir, timeout: timeout}
}

// Start runs pm2 start on the ecosystem file.
func (p *PM2) Start(ctx context.Context, ecosystemPath, dir string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	out, err := p.runner.Run(ctx, dir, p.binary, "start", ecosystemPath)
	if err != nil {
		return &DeploymentError{Stage: StageLaunch, Output: tail(string(out), maxOutputTail), Err: fmt.Errorf("pm2 start: %w", err)}
	}
	return nil
}

// Delete runs pm2 delete. pm2 exits non-zero for unknown names, which is
// ignored so deletion stays idempotent.
func (p *PM2) Delete(ctx context.Context, name string) error {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	_, err := p.runner.Run(ctx, "", p.binary, "delete", name)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// List parses pm2 jlist.
func (p *PM2) List(ctx context.Context) ([]string, error) {
	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	out, err := p.runner.Run(ctx, "", p.binary, "jlist")
	if err != nil {
		return nil, fmt.Errorf("pm2 jlist: %w", err)
	}
	return parseJList(out)
}

// LogDir returns the pm2 log directory.
func (p *PM2) LogDir() string {
	return p.logDir
}

func (p *PM2) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func parseJList(out []byte) ([]string, error) {
	if len(out) == 0 {
		return nil, nil
	}

	var procs []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(out, &procs); err != nil {
		return nil, fmt.Errorf("parse pm2 jlist: %w", err)
	}

	names := make([]string, 0, len(procs))
	for _, p := range procs {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return names, nil
}

// LogFiles returns the stdout and stderr log paths pm2 uses for name.
func LogFiles(logDir, name string) []string {
	return []string{
		filepath.Join(logDir, name+"-out.log"),
		filepath.Join(logDir, name+"-error.log"),
	}
}

// clearLogs removes regular files in dir so stale ports are not detected.
func clearLogs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			_ = os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func readFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	return string(data), err
}
