package criteria

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSON_Array(t *testing.T) {
	got, err := ParseJSON([]byte(`[
		{"test_criteria": "add a todo", "static_description": "list view", "function": "todo"},
		"plain text criterion"
	]`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 criteria, got %d", len(got))
	}

	want := `{"static_description":"list view","test_criteria":"add a todo"}`
	if got[0].String() != want {
		t.Errorf("expected normalized payload %s, got %s", want, got[0].String())
	}
	if got[1].String() != `"plain text criterion"` {
		t.Errorf("expected opaque payload, got %s", got[1].String())
	}
	if got[1].Index != 1 {
		t.Errorf("expected index 1, got %d", got[1].Index)
	}
}

func TestParseJSON_OpaqueObjectsAreCompacted(t *testing.T) {
	got, err := ParseJSON([]byte(`[ { "goal" : "login",  "steps": [1, 2] } ]`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if got[0].String() != `{"goal":"login","steps":[1,2]}` {
		t.Errorf("unexpected payload %s", got[0].String())
	}
}

func TestParseJSON_Wrapped(t *testing.T) {
	got, err := ParseJSON([]byte(`{"test_criteria": [{"test_criteria": "a"}, {"test_criteria": "b"}]}`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 criteria, got %d", len(got))
	}
}

func TestParseJSON_NoList(t *testing.T) {
	_, err := ParseJSON([]byte(`{"something": 1}`))
	if !errors.Is(err, ErrNoCriteria) {
		t.Errorf("expected ErrNoCriteria, got %v", err)
	}
}

func TestParseJSON_Empty(t *testing.T) {
	got, err := ParseJSON([]byte(`[]`))
	if err != nil {
		t.Fatalf("ParseJSON failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no criteria, got %d", len(got))
	}
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.yaml")
	content := `
- static_description: header with logo
  test_criteria: click the logo and return home
- test_criteria: open the menu
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 criteria, got %d", len(got))
	}
	want := `{"static_description":"header with logo","test_criteria":"click the logo and return home"}`
	if got[0].String() != want {
		t.Errorf("expected %s, got %s", want, got[0].String())
	}
	if got[1].String() != `{"test_criteria":"open the menu"}` {
		t.Errorf("unexpected payload %s", got[1].String())
	}
}

func TestFileSource_RereadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "criteria.json")
	src := FileSource{Path: path}

	if err := os.WriteFile(path, []byte(`["a"]`), 0644); err != nil {
		t.Fatal(err)
	}
	first, err := src.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := os.WriteFile(path, []byte(`["a", "b"]`), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := src.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(first) != 1 || len(second) != 2 {
		t.Errorf("expected 1 then 2 criteria, got %d then %d", len(first), len(second))
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
