package engine

import "errors"

var (
	// ErrExecutionNotFound is returned when Run is asked to run an unknown execution.
	ErrExecutionNotFound = errors.New("engine: execution not found")
	// ErrAlreadyClaimed is returned when another worker already owns the execution.
	ErrAlreadyClaimed = errors.New("engine: execution already claimed by another worker")
	// ErrTriggerNodeNotConfigured is returned when a workflow has no usable trigger node.
	ErrTriggerNodeNotConfigured = errors.New("engine: workflow has no trigger node configured")
	// ErrComponentNotRegistered is returned when a node's component_type has no registered executor.
	ErrComponentNotRegistered = errors.New("engine: component type not registered")
	// ErrCheckpointLost is returned when a resumption checkpoint is missing on a sub-workflow resume.
	ErrCheckpointLost = errors.New("engine: resumption checkpoint lost or expired")
)
