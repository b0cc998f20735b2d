package models

import (
	"testing"
	"time"
)

func TestExecutionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   ExecutionStatus
		expected bool
	}{
		{"completed is terminal", ExecutionStatusCompleted, true},
		{"failed is terminal", ExecutionStatusFailed, true},
		{"cancelled is terminal", ExecutionStatusCancelled, true},
		{"pending is not terminal", ExecutionStatusPending, false},
		{"running is not terminal", ExecutionStatusRunning, false},
		{"interrupted is not terminal", ExecutionStatusInterrupted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.expected {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNodeExecutionStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		name     string
		status   NodeExecutionStatus
		expected bool
	}{
		{"success is terminal", NodeExecutionStatusSuccess, true},
		{"failed is terminal", NodeExecutionStatusFailed, true},
		{"skipped is terminal", NodeExecutionStatusSkipped, true},
		{"cancelled is terminal", NodeExecutionStatusCancelled, true},
		{"pending is not terminal", NodeExecutionStatusPending, false},
		{"running is not terminal", NodeExecutionStatusRunning, false},
		{"waiting is not terminal", NodeExecutionStatusWaiting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.expected {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExecution_CalculateDuration(t *testing.T) {
	startTime := time.Now().Add(-5 * time.Second)
	completedTime := startTime.Add(3 * time.Second)

	t.Run("completed execution", func(t *testing.T) {
		e := &Execution{StartedAt: startTime, CompletedAt: &completedTime}
		if got := e.CalculateDuration(); got != 3*time.Second {
			t.Errorf("CalculateDuration() = %v, want %v", got, 3*time.Second)
		}
	})

	t.Run("running execution measures from start until now", func(t *testing.T) {
		e := &Execution{StartedAt: time.Now().Add(-2 * time.Second)}
		got := e.CalculateDuration()
		if got < 1900*time.Millisecond || got > 2500*time.Millisecond {
			t.Errorf("CalculateDuration() = %v, want ~2s", got)
		}
	})
}

func TestExecutionStatus_Constants(t *testing.T) {
	statuses := []ExecutionStatus{
		ExecutionStatusPending,
		ExecutionStatusRunning,
		ExecutionStatusInterrupted,
		ExecutionStatusCompleted,
		ExecutionStatusFailed,
		ExecutionStatusCancelled,
	}

	expectedValues := []string{
		"pending",
		"running",
		"interrupted",
		"completed",
		"failed",
		"cancelled",
	}

	for i, status := range statuses {
		if string(status) != expectedValues[i] {
			t.Errorf("expected status %s, got %s", expectedValues[i], string(status))
		}
	}
}

func TestErrorCode_Constants(t *testing.T) {
	codes := []ErrorCode{
		ErrorCodeValidation,
		ErrorCodeComponentError,
		ErrorCodeTimeout,
		ErrorCodeBudgetExceeded,
		ErrorCodeCancelled,
		ErrorCodeCheckpointLost,
		ErrorCodeUpstreamFailed,
	}

	expectedValues := []string{
		"VALIDATION",
		"COMPONENT_ERROR",
		"TIMEOUT",
		"BUDGET_EXCEEDED",
		"CANCELLED",
		"CHECKPOINT_LOST",
		"UPSTREAM_FAILED",
	}

	for i, code := range codes {
		if string(code) != expectedValues[i] {
			t.Errorf("expected error code %s, got %s", expectedValues[i], string(code))
		}
	}
}
