package observer

import (
	"context"

	"github.com/theuselessai/pipelit/internal/infrastructure/logger"
)

// LoggerObserver bridges the observer fan-out onto the structured logger,
// one line per event. Operational logging is a subscriber like any
// other, not a separate path from the websocket stream.
type LoggerObserver struct {
	log *logger.Logger
}

// NewLoggerObserver wraps an existing structured logger.
func NewLoggerObserver(log *logger.Logger) *LoggerObserver {
	return &LoggerObserver{log: log}
}

func (o *LoggerObserver) Name() string { return "logger" }

func (o *LoggerObserver) Filter() EventFilter { return nil }

func (o *LoggerObserver) OnEvent(ctx context.Context, event Event) error {
	args := []interface{}{
		"event_type", string(event.Type),
		"execution_id", event.ExecutionID,
		"workflow_id", event.WorkflowID,
		"status", event.Status,
	}
	if event.NodeID != nil {
		args = append(args, "node_id", *event.NodeID)
	}
	if event.DurationMs != nil {
		args = append(args, "duration_ms", *event.DurationMs)
	}
	if event.Error != nil {
		args = append(args, "error", event.Error.Error())
		o.log.ErrorContext(ctx, "execution event", args...)
		return nil
	}
	o.log.InfoContext(ctx, "execution event", args...)
	return nil
}
