package deploy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// EcosystemFile is the pm2 process file written into the artifact.
const EcosystemFile = "ecosystem.config.cjs"

// App is one pm2 process declaration.
type App struct {
	Name   string            `json:"name"`
	Cwd    string            `json:"cwd"`
	Script string            `json:"script"`
	Args   string            `json:"args"`
	Env    map[string]string `json:"env"`
}

// Ecosystem is the pm2 process file body.
type Ecosystem struct {
	Apps []App `json:"apps"`
}

// NewEcosystem declares one instance per name, each running the given
// package.json script through npm in dir.
func NewEcosystem(dir, npm, script string, names []string) Ecosystem {
	cwd := filepath.ToSlash(dir)
	apps := make([]App, 0, len(names))
	for _, name := range names {
		apps = append(apps, App{
			Name:   name,
			Cwd:    cwd,
			Script: npm,
			Args:   "run " + script,
			Env:    map[string]string{},
		})
	}
	return Ecosystem{Apps: apps}
}

// Write renders the ecosystem as a CommonJS module in dir and returns its path.
func (e Ecosystem) Write(dir string) (string, error) {
	body, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode ecosystem: %w", err)
	}

	path := filepath.Join(dir, EcosystemFile)
	content := "module.exports = " + string(body) + ";"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write ecosystem: %w", err)
	}
	return path, nil
}

// InstanceNames returns prefix1..prefixN.
func InstanceNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i+1)
	}
	return names
}
