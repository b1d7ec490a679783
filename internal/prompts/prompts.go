// Package prompts renders the instruction and feedback texts sent to models
// and returned to the code generator. Templates are embedded and can be
// overridden per deployment by dropping a file of the same name into an
// override directory.
package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"text/template"
)

//go:embed templates/*.tmpl
var embeddedFS embed.FS

// Template names.
const (
	SoapTest               = "soap_test"
	SoapTestSentence       = "soap_test_sentence"
	Screenshot             = "screenshot"
	ScreenshotCompare      = "screenshot_compare"
	LoadingFailed          = "loading_failed"
	LaunchingFailed        = "launching_failed"
	TestingFeedback        = "testing_feedback"
	TestingFeedbackCompare = "testing_feedback_compare"
	Warmup                 = "warmup"
)

// Data carries every placeholder a template may use.
type Data struct {
	URL      string
	Criteria string
	Detail   string
	Errors   string
	Reports  string
	Compare  string
}

// Loader renders templates, preferring override files over embedded ones.
type Loader struct {
	overrideDirs []string
	cache        map[string]*template.Template
	mu           sync.RWMutex
}

// NewLoader creates a loader. Directories are checked in order; first match
// wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
	}
}

var defaultLoader = NewLoader()

// Default returns the loader over the embedded templates only.
func Default() *Loader {
	return defaultLoader
}

func (l *Loader) load(name string) (*template.Template, error) {
	l.mu.RLock()
	tmpl, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	file := name + ".tmpl"
	content, err := l.loadContent(file)
	if err != nil {
		return nil, fmt.Errorf("load prompt %s: %w", name, err)
	}

	tmpl, err = template.New(name).Option("missingkey=error").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("compile prompt %s: %w", name, err)
	}

	l.mu.Lock()
	l.cache[name] = tmpl
	l.mu.Unlock()
	return tmpl, nil
}

func (l *Loader) loadContent(file string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		if data, err := os.ReadFile(filepath.Join(dir, file)); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, "templates/"+file)
}

// Render executes the named template.
func (l *Loader) Render(name string, data Data) (string, error) {
	tmpl, err := l.load(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// MustRender is Render for the embedded templates, which are known good.
func (l *Loader) MustRender(name string, data Data) string {
	out, err := l.Render(name, data)
	if err != nil {
		panic(err)
	}
	return out
}
