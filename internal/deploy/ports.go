package deploy

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
)

var (
	portPattern = regexp.MustCompile(`(?i)https?://(?:localhost|127\.0\.0\.1):(\d+)`)
	ansiPattern = regexp.MustCompile(`\x1b\[[0-?]*[ -/]*[@-~]`)
)

// Detection is the port discovered for one instance, if any.
type Detection struct {
	Name  string
	Port  int
	Found bool
}

// Ports returns the found ports in instance order.
func Ports(ds []Detection) []int {
	ports := make([]int, 0, len(ds))
	for _, d := range ds {
		if d.Found {
			ports = append(ports, d.Port)
		}
	}
	return ports
}

// ParsePort extracts the first local URL's port from log text, ignoring
// ANSI color codes.
func ParsePort(text string) (int, bool) {
	m := portPattern.FindStringSubmatch(ansiPattern.ReplaceAllString(text, ""))
	if m == nil {
		return 0, false
	}
	port, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return port, true
}

// DetectPorts watches the pm2 log files of each named instance until every
// instance has printed a local URL, timeout elapses, or ctx is done. Log
// writes wake the scan early; interval is the polling fallback. Results are
// returned in the order of names.
func DetectPorts(ctx context.Context, logDir string, names []string, timeout, interval time.Duration) []Detection {
	results := make([]Detection, len(names))
	for i, name := range names {
		results[i].Name = name
	}
	if len(names) == 0 {
		return results
	}

	var events <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := os.MkdirAll(logDir, 0755); err == nil && watcher.Add(logDir) == nil {
			events = watcher.Events
		}
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if scanLogs(logDir, results) {
			return results
		}

		select {
		case <-ctx.Done():
			return results
		case <-deadline.C:
			scanLogs(logDir, results)
			return results
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		}
	}
}

// scanLogs fills in ports for instances still missing one and reports
// whether every instance is resolved.
func scanLogs(logDir string, results []Detection) bool {
	done := true
	for i := range results {
		if results[i].Found {
			continue
		}
		for _, path := range LogFiles(logDir, results[i].Name) {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}
			if port, ok := ParsePort(string(data)); ok {
				results[i].Port = port
				results[i].Found = true
				break
			}
		}
		if !results[i].Found {
			done = false
		}
	}
	return done
}
