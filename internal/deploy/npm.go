package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/valiloop/internal/exec"
)

// installStrategies are tried in order until one succeeds.
var installStrategies = [][]string{
	{"install"},
	{"install", "--force"},
	{"install", "--legacy-peer-deps"},
}

// maxOutputTail bounds how much installer output is kept for diagnostics.
const maxOutputTail = 4000

// Install runs npm install in dir, escalating to --force and then
// --legacy-peer-deps. Each attempt gets its own timeout. The error from the
// last attempt is returned if all fail.
func Install(ctx context.Context, runner exec.CommandRunner, npm, dir string, timeout time.Duration) error {
	var lastOut []byte
	var lastErr error

	for _, args := range installStrategies {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		out, err := runner.Run(attemptCtx, dir, npm, args...)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &DeploymentError{Stage: StageInstall, Err: ctx.Err()}
		}
		log.Printf("[deploy] npm %s failed: %v", strings.Join(args, " "), err)
		lastOut, lastErr = out, err
	}

	return &DeploymentError{
		Stage:  StageInstall,
		Output: tail(string(lastOut), maxOutputTail),
		Err:    fmt.Errorf("npm install: %w", lastErr),
	}
}

// StartScript picks the package.json script used to launch the app:
// "dev" if present, otherwise "start", otherwise "dev".
func StartScript(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "dev"
	}

	var pkg struct {
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return "dev"
	}
	if _, ok := pkg.Scripts["dev"]; ok {
		return "dev"
	}
	if _, ok := pkg.Scripts["start"]; ok {
		return "start"
	}
	return "dev"
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "..." + s[i:]
}
