package observer

import "strings"

// Channel is a broadcast-topic identifier. Three families exist:
// workflow:<slug>, execution:<id> and epic:<id>. When a producer could
// not resolve the workflow slug, the workflow channel falls back to the
// workflow id so the event is still addressable.
type Channel string

// WorkflowChannel addresses every event for a workflow, by slug.
func WorkflowChannel(slug string) Channel {
	return Channel("workflow:" + slug)
}

// ExecutionChannel addresses events narrowed to one execution.
func ExecutionChannel(executionID string) Channel {
	return Channel("execution:" + executionID)
}

// EpicChannel addresses epic/task mutation events.
func EpicChannel(epicID string) Channel {
	return Channel("epic:" + epicID)
}

// Channels returns every channel the event should be delivered to.
func (e Event) Channels() []Channel {
	var channels []Channel
	if e.ExecutionID != "" {
		channels = append(channels, ExecutionChannel(e.ExecutionID))
	}
	switch {
	case e.WorkflowSlug != "":
		channels = append(channels, WorkflowChannel(e.WorkflowSlug))
	case e.WorkflowID != "":
		channels = append(channels, WorkflowChannel(e.WorkflowID))
	}
	if e.EpicID != "" {
		channels = append(channels, EpicChannel(e.EpicID))
	}
	return channels
}

// ParseChannel reports the channel's family and id, e.g.
// ParseChannel("workflow:w1") -> ("workflow", "w1", true).
func ParseChannel(channel string) (family, id string, ok bool) {
	parts := strings.SplitN(channel, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
