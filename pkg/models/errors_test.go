package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestWorkflowError(t *testing.T) {
	base := ErrWorkflowNotFound
	err := &WorkflowError{
		WorkflowID: "wf-1",
		Operation:  "load",
		Err:        base,
	}

	if got := err.Error(); got != "workflow wf-1 load: workflow not found" {
		t.Errorf("unexpected message: %s", got)
	}
	if !errors.Is(err, base) {
		t.Error("WorkflowError must unwrap to its cause")
	}
}

func TestExecutionError(t *testing.T) {
	base := errors.New("component blew up")

	t.Run("with node", func(t *testing.T) {
		err := &ExecutionError{ExecutionID: "exec-1", NodeID: "agent-2", Err: base}
		if got := err.Error(); got != "execution exec-1 node agent-2: component blew up" {
			t.Errorf("unexpected message: %s", got)
		}
		if !errors.Is(err, base) {
			t.Error("ExecutionError must unwrap to its cause")
		}
	})

	t.Run("without node", func(t *testing.T) {
		err := &ExecutionError{ExecutionID: "exec-1", Err: base}
		if got := err.Error(); got != "execution exec-1: component blew up" {
			t.Errorf("unexpected message: %s", got)
		}
	})
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Field: "interval_seconds", Message: "must be >= 1"}
	if got := err.Error(); got != "interval_seconds: must be >= 1" {
		t.Errorf("unexpected message: %s", got)
	}
}

func TestValidationErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		var errs ValidationErrors
		if got := errs.Error(); got != "validation failed" {
			t.Errorf("unexpected message: %s", got)
		}
	})

	t.Run("first error wins", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "slug", Message: "is required"},
			{Field: "name", Message: "is required"},
		}
		if got := errs.Error(); got != "slug: is required" {
			t.Errorf("unexpected message: %s", got)
		}
	})
}

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrWorkflowNotFound,
		ErrNodeNotFound,
		ErrEdgeNotFound,
		ErrExecutionNotFound,
		ErrExecutorNotFound,
		ErrScheduledJobNotFound,
		ErrJobNotActive,
		ErrCheckpointNotFound,
		ErrEpicNotFound,
		ErrTaskNotFound,
	}

	for i, a := range sentinels {
		if a.Error() == "" {
			t.Errorf("sentinel %d has an empty message", i)
		}
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinels %d and %d must not match each other", i, j)
			}
		}
	}
}

func TestSentinelErrors_SurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("scheduled job %s: %w", "job-1", ErrScheduledJobNotFound)
	if !errors.Is(wrapped, ErrScheduledJobNotFound) {
		t.Error("wrapped sentinel must still match with errors.Is")
	}
	if errors.Is(wrapped, ErrEpicNotFound) {
		t.Error("wrapped sentinel must not match a different sentinel")
	}
}
