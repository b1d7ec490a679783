package models

import (
	"encoding/json"
	"testing"
)

func TestRunStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status RunStatus
		want   bool
	}{
		{"idle is valid", RunStatusIdle, true},
		{"running is valid", RunStatusRunning, true},
		{"aborted is valid", RunStatusAborted, true},
		{"empty string is invalid", RunStatus(""), false},
		{"unknown status is invalid", RunStatus("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("RunStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestValidationRun_Lifecycle(t *testing.T) {
	run := NewValidationRun("r1", "app.zip", "/tmp/app", 1)

	steps := []RunStatus{RunStatusDeploying, RunStatusProbing, RunStatusRunning, RunStatusAggregating, RunStatusFailed}
	for _, next := range steps {
		if err := run.Transition(next); err != nil {
			t.Fatalf("Transition(%s) failed: %v", next, err)
		}
	}
	if run.EndedAt == nil {
		t.Error("expected EndedAt to be set on terminal status")
	}
	if err := run.Transition(RunStatusRunning); err == nil {
		t.Error("expected transition out of a terminal status to fail")
	}
}

func TestValidationRun_AbortFromDeploying(t *testing.T) {
	run := NewValidationRun("r1", "app.zip", "/tmp/app", 1)
	_ = run.Transition(RunStatusDeploying)

	if err := run.Transition(RunStatusAborted); err != nil {
		t.Fatalf("expected abort from deploying, got %v", err)
	}
	if err := run.Transition(RunStatusSucceeded); err == nil {
		t.Error("expected aborted run to stay aborted")
	}
}

func TestValidationRun_CannotSkipProbe(t *testing.T) {
	run := NewValidationRun("r1", "app.zip", "/tmp/app", 1)
	_ = run.Transition(RunStatusDeploying)

	if err := run.Transition(RunStatusRunning); err == nil {
		t.Error("expected deploying -> running to be rejected")
	}
}

func TestCriterion_String(t *testing.T) {
	c := Criterion{Index: 0, Payload: json.RawMessage(`{"test_criteria":"click add"}`)}
	if got := c.String(); got != `{"test_criteria":"click add"}` {
		t.Errorf("expected payload text, got %q", got)
	}
}

func TestInstanceURL(t *testing.T) {
	if got := InstanceURL(5173); got != "http://localhost:5173" {
		t.Errorf("expected http://localhost:5173, got %q", got)
	}
}
