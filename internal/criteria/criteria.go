// Package criteria loads the acceptance criteria a validation run tests.
package criteria

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// ErrNoCriteria is returned when a source holds no list of criteria.
var ErrNoCriteria = errors.New("no criteria list found")

// Source supplies criteria at the start of each run.
type Source interface {
	Load() ([]models.Criterion, error)
}

// FileSource reads criteria from a JSON or YAML file on every Load, so a
// regeneration step can replace the file between attempts.
type FileSource struct {
	Path string
}

// Load reads and normalizes the file.
func (s FileSource) Load() ([]models.Criterion, error) {
	return LoadFile(s.Path)
}

// Static is a fixed criteria set.
type Static []models.Criterion

// Load returns the set.
func (s Static) Load() ([]models.Criterion, error) {
	return s, nil
}

// LoadFile reads criteria from path. Files ending in .yaml or .yml are
// parsed as YAML, everything else as JSON.
func LoadFile(path string) ([]models.Criterion, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read criteria %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON parses a JSON array of criteria. An object wrapping the array
// under "test_criteria" or "criteria" is accepted too.
func ParseJSON(data []byte) ([]models.Criterion, error) {
	data = bytes.TrimSpace(data)

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		var wrapped map[string]json.RawMessage
		if werr := json.Unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("parse criteria: %w", err)
		}
		inner, ok := wrapped["test_criteria"]
		if !ok {
			inner, ok = wrapped["criteria"]
		}
		if !ok {
			return nil, ErrNoCriteria
		}
		if err := json.Unmarshal(inner, &items); err != nil {
			return nil, fmt.Errorf("parse criteria list: %w", err)
		}
	}

	out := make([]models.Criterion, 0, len(items))
	for i, raw := range items {
		payload, err := normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("criterion %d: %w", i, err)
		}
		out = append(out, models.Criterion{Index: i, Payload: payload})
	}
	return out, nil
}

// ParseYAML parses a YAML sequence of criteria by converting it to JSON.
func ParseYAML(data []byte) ([]models.Criterion, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse criteria yaml: %w", err)
	}
	if doc == nil {
		return nil, ErrNoCriteria
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert criteria yaml: %w", err)
	}
	return ParseJSON(encoded)
}

// generated mirrors the records the generation step produces. Only the two
// fields the test agent needs are kept.
type generated struct {
	StaticDescription json.RawMessage `json:"static_description,omitempty"`
	TestCriteria      json.RawMessage `json:"test_criteria"`
}

func normalize(raw json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err == nil {
		if tc, ok := fields["test_criteria"]; ok {
			return json.Marshal(generated{
				StaticDescription: fields["static_description"],
				TestCriteria:      tc,
			})
		}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
