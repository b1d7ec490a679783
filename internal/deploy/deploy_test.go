package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

// fakeRunner records commands and fails those listed in fail.
type fakeRunner struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.calls = append(f.calls, cmd)
	if f.fail[cmd] {
		return []byte("npm ERR! ERESOLVE unable to resolve dependency tree"), errors.New("exit status 1")
	}
	return nil, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return "/usr/bin/" + name, nil
}

// fakeSupervisor keeps an in-memory registry and, on Start, writes log
// lines for the instances listed in ports.
type fakeSupervisor struct {
	mu       sync.Mutex
	logDir   string
	running  map[string]bool
	ports    map[string]string
	startErr error
	listErr  error
	failDel  map[string]bool
	deletes  []string
}

func newFakeSupervisor(t *testing.T) *fakeSupervisor {
	t.Helper()
	return &fakeSupervisor{
		logDir:  t.TempDir(),
		running: make(map[string]bool),
		ports:   make(map[string]string),
	}
}

func (f *fakeSupervisor) Start(ctx context.Context, ecosystemPath, dir string) error {
	if f.startErr != nil {
		return f.startErr
	}
	data, err := os.ReadFile(ecosystemPath)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for name, line := range f.ports {
		if !strings.Contains(string(data), `"`+name+`"`) {
			continue
		}
		f.running[name] = true
		if err := os.WriteFile(filepath.Join(f.logDir, name+"-out.log"), []byte(line), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSupervisor) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, name)
	if f.failDel[name] {
		return errors.New("process or namespace not found")
	}
	delete(f.running, name)
	return nil
}

func (f *fakeSupervisor) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.running {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeSupervisor) LogDir() string {
	return f.logDir
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.DetectionTimeout = 500 * time.Millisecond
	opts.PollInterval = 20 * time.Millisecond
	return opts
}

func writePackageJSON(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		name string
		text string
		port int
		ok   bool
	}{
		{"vite", "  VITE v5.0.0  ready\n  ➜  Local:   http://localhost:5173/", 5173, true},
		{"ansi colored", "\x1b[32m➜\x1b[39m  Local: \x1b[36mhttp://localhost:\x1b[1m5174\x1b[22m/\x1b[39m", 5174, true},
		{"loopback ip", "Listening on HTTP://127.0.0.1:3000", 3000, true},
		{"https", "https://localhost:8443", 8443, true},
		{"no url", "compiling...", 0, false},
		{"remote host", "http://example.com:8080", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port, ok := ParsePort(tt.text)
			if ok != tt.ok || port != tt.port {
				t.Errorf("ParsePort() = (%d, %v), want (%d, %v)", port, ok, tt.port, tt.ok)
			}
		})
	}
}

func TestDetectPorts_FakeLogWriters(t *testing.T) {
	logDir := t.TempDir()
	names := []string{"webapp-1", "webapp-2", "webapp-3"}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(logDir, "webapp-2-out.log"), []byte("Local: http://localhost:5174/"), 0644)
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(logDir, "webapp-1-error.log"), []byte("warn\nhttp://localhost:5173"), 0644)
	}()

	got := DetectPorts(context.Background(), logDir, names, 400*time.Millisecond, 25*time.Millisecond)

	want := []Detection{
		{Name: "webapp-1", Port: 5173, Found: true},
		{Name: "webapp-2", Port: 5174, Found: true},
		{Name: "webapp-3"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("DetectPorts() = %+v, want %+v", got, want)
	}
	if ports := Ports(got); !reflect.DeepEqual(ports, []int{5173, 5174}) {
		t.Errorf("Ports() = %v", ports)
	}
}

func TestDetectPorts_ReturnsEarlyWhenAllFound(t *testing.T) {
	logDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(logDir, "a-out.log"), []byte("http://localhost:4000"), 0644); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	got := DetectPorts(context.Background(), logDir, []string{"a"}, 10*time.Second, time.Second)
	if time.Since(start) > 2*time.Second {
		t.Errorf("expected early return, took %v", time.Since(start))
	}
	if !got[0].Found || got[0].Port != 4000 {
		t.Errorf("unexpected detection %+v", got[0])
	}
}

func TestDetectPorts_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := DetectPorts(ctx, t.TempDir(), []string{"a"}, 10*time.Second, time.Second)
	if got[0].Found {
		t.Error("expected nothing found")
	}
}

func TestInstall_Escalates(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{
		"npm install":         true,
		"npm install --force": true,
	}}

	if err := Install(context.Background(), runner, "npm", t.TempDir(), time.Minute); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	want := []string{"npm install", "npm install --force", "npm install --legacy-peer-deps"}
	if !reflect.DeepEqual(runner.calls, want) {
		t.Errorf("calls = %v, want %v", runner.calls, want)
	}
}

func TestInstall_AllFail(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{
		"npm install":                    true,
		"npm install --force":            true,
		"npm install --legacy-peer-deps": true,
	}}

	err := Install(context.Background(), runner, "npm", t.TempDir(), time.Minute)

	var de *DeploymentError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeploymentError, got %v", err)
	}
	if de.Stage != StageInstall {
		t.Errorf("expected install stage, got %s", de.Stage)
	}
	if !strings.Contains(de.Error(), "ERESOLVE") {
		t.Errorf("expected installer output in error, got %q", de.Error())
	}
}

func TestStartScript(t *testing.T) {
	tests := []struct {
		name string
		pkg  string
		want string
	}{
		{"dev preferred", `{"scripts":{"start":"node s.js","dev":"vite"}}`, "dev"},
		{"start fallback", `{"scripts":{"start":"node s.js"}}`, "start"},
		{"no scripts", `{}`, "dev"},
		{"invalid json", `{`, "dev"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writePackageJSON(t, dir, tt.pkg)
			if got := StartScript(dir); got != tt.want {
				t.Errorf("StartScript() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := StartScript(t.TempDir()); got != "dev" {
		t.Errorf("expected dev without package.json, got %q", got)
	}
}

func TestEcosystem_Write(t *testing.T) {
	dir := t.TempDir()
	path, err := NewEcosystem(dir, "npm", "start", InstanceNames("webapp-", 2)).Write(dir)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Base(path) != EcosystemFile {
		t.Errorf("unexpected file %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	for _, want := range []string{"module.exports = {", `"name": "webapp-1"`, `"name": "webapp-2"`, `"args": "run start"`, `"script": "npm"`} {
		if !strings.Contains(content, want) {
			t.Errorf("ecosystem missing %q:\n%s", want, content)
		}
	}
	if !strings.HasSuffix(content, "};") {
		t.Errorf("expected module terminator, got %q", content[len(content)-5:])
	}
}

func TestParseJList(t *testing.T) {
	names, err := parseJList([]byte(`[{"name":"webapp-1","pm_id":0},{"name":"other"},{"pm_id":3}]`))
	if err != nil {
		t.Fatalf("parseJList failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"webapp-1", "other"}) {
		t.Errorf("unexpected names %v", names)
	}

	if names, err := parseJList(nil); err != nil || names != nil {
		t.Errorf("expected empty list, got %v, %v", names, err)
	}
}

func TestManager_Deploy(t *testing.T) {
	dir := t.TempDir()
	writePackageJSON(t, dir, `{"scripts":{"dev":"vite"}}`)

	sup := newFakeSupervisor(t)
	sup.ports["webapp-1"] = "http://localhost:5173"
	sup.ports["webapp-2"] = "http://localhost:5174"
	// Stale log from a previous run must not be picked up.
	if err := os.WriteFile(filepath.Join(sup.logDir, "webapp-3-out.log"), []byte("http://localhost:9999"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(&fakeRunner{}, sup, testOptions())
	ports, err := m.Deploy(context.Background(), dir, 3)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	if !reflect.DeepEqual(ports, []int{5173, 5174}) {
		t.Errorf("expected ports [5173 5174], got %v", ports)
	}
	if len(ports) > 3 {
		t.Errorf("returned more ports than instances requested")
	}
	if !reflect.DeepEqual(sup.deletes, []string{"webapp-1", "webapp-2", "webapp-3"}) {
		t.Errorf("expected delete-before-start for every instance, got %v", sup.deletes)
	}
	if _, err := os.Stat(filepath.Join(dir, EcosystemFile)); err != nil {
		t.Errorf("expected ecosystem file: %v", err)
	}
}

func TestManager_DeployNoPorts(t *testing.T) {
	sup := newFakeSupervisor(t)
	m := NewManager(&fakeRunner{}, sup, testOptions())

	_, err := m.Deploy(context.Background(), t.TempDir(), 2)

	var de *DeploymentError
	if !errors.As(err, &de) {
		t.Fatalf("expected DeploymentError, got %v", err)
	}
	if de.Stage != StageDetect {
		t.Errorf("expected detect stage, got %s", de.Stage)
	}
}

func TestManager_DeployStartFails(t *testing.T) {
	sup := newFakeSupervisor(t)
	sup.startErr = errors.New("pm2 not running")
	m := NewManager(&fakeRunner{}, sup, testOptions())

	_, err := m.Deploy(context.Background(), t.TempDir(), 1)

	var de *DeploymentError
	if !errors.As(err, &de) || de.Stage != StageLaunch {
		t.Fatalf("expected launch DeploymentError, got %v", err)
	}
}

func TestManager_TeardownIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	sup := newFakeSupervisor(t)
	sup.ports["webapp-1"] = "http://localhost:5173"
	sup.ports["webapp-2"] = "http://localhost:5174"
	sup.running["unrelated"] = true

	m := NewManager(&fakeRunner{}, sup, testOptions())
	if _, err := m.Deploy(context.Background(), dir, 2); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	deleted, err := m.Teardown(context.Background())
	if err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if len(deleted) != 2 {
		t.Errorf("expected 2 instances removed, got %v", deleted)
	}
	if len(m.Created()) != 0 {
		t.Errorf("expected no tracked instances, got %v", m.Created())
	}
	if !sup.running["unrelated"] {
		t.Error("teardown removed an instance without the prefix")
	}

	again, err := m.Teardown(context.Background())
	if err != nil {
		t.Fatalf("second Teardown failed: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected second teardown to be a no-op, got %v", again)
	}
}

func TestManager_TeardownReportsStuckInstances(t *testing.T) {
	sup := newFakeSupervisor(t)
	sup.ports["webapp-1"] = "http://localhost:5173"
	sup.ports["webapp-2"] = "http://localhost:5174"

	m := NewManager(&fakeRunner{}, sup, testOptions())
	if _, err := m.Deploy(context.Background(), t.TempDir(), 2); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	sup.failDel = map[string]bool{"webapp-2": true}

	deleted, err := m.Teardown(context.Background())
	if !errors.Is(err, ErrTeardownIncomplete) {
		t.Fatalf("expected ErrTeardownIncomplete, got %v", err)
	}
	if !strings.Contains(err.Error(), "webapp-2") {
		t.Errorf("expected error to name webapp-2, got %v", err)
	}
	if !reflect.DeepEqual(deleted, []string{"webapp-1"}) {
		t.Errorf("expected webapp-1 removed, got %v", deleted)
	}
	if got := m.Created(); !reflect.DeepEqual(got, []string{"webapp-2"}) {
		t.Errorf("expected webapp-2 still tracked, got %v", got)
	}

	sup.failDel = nil
	if _, err := m.Teardown(context.Background()); err != nil {
		t.Fatalf("retry Teardown failed: %v", err)
	}
	if len(m.Created()) != 0 {
		t.Errorf("expected nothing tracked after retry, got %v", m.Created())
	}
}

func TestManager_TeardownWithoutListing(t *testing.T) {
	sup := newFakeSupervisor(t)
	sup.ports["webapp-1"] = "http://localhost:5173"
	sup.ports["webapp-2"] = "http://localhost:5174"

	m := NewManager(&fakeRunner{}, sup, testOptions())
	if _, err := m.Deploy(context.Background(), t.TempDir(), 2); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	sup.listErr = errors.New("pm2 daemon not responding")

	deleted, err := m.Teardown(context.Background())
	if err != nil {
		t.Fatalf("Teardown failed: %v", err)
	}
	if !reflect.DeepEqual(deleted, []string{"webapp-1", "webapp-2"}) {
		t.Errorf("expected started instances removed, got %v", deleted)
	}
	if len(sup.running) != 0 {
		t.Errorf("expected no running instances, got %v", sup.running)
	}

	if _, err := m.Teardown(context.Background()); err == nil {
		t.Error("expected the list error once nothing is tracked")
	}
}

func TestTail_RuneBoundary(t *testing.T) {
	if got := tail("  ok  ", 10); got != "ok" {
		t.Errorf("expected trimmed output, got %q", got)
	}

	got := tail(strings.Repeat("é", 10), 5)
	if !utf8.ValidString(got) {
		t.Errorf("expected valid UTF-8, got %q", got)
	}
	if got != "...ééé" {
		t.Errorf("expected \"...ééé\", got %q", got)
	}
}

func TestInstanceNames(t *testing.T) {
	if got := InstanceNames("webapp-", 3); !reflect.DeepEqual(got, []string{"webapp-1", "webapp-2", "webapp-3"}) {
		t.Errorf("unexpected names %v", got)
	}
}
