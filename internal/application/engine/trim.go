package engine

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// defaultOutputReserve is the fixed budget reserved for the model's own
// reply.
const defaultOutputReserve = 4096

// contextWindows is the per-model lookup table; callers can
// override via extra_config.context_window.
var contextWindows = map[string]int{
	"gpt-4o":            128000,
	"gpt-4o-mini":        128000,
	"gpt-4-turbo":        128000,
	"gpt-3.5-turbo":      16385,
	"claude-3-5-sonnet":  200000,
	"claude-3-opus":      200000,
	"claude-3-haiku":     200000,
}

const defaultContextWindow = 8192

// ContextWindow resolves a model's context window, falling back to the
// closed lookup table and finally to a conservative default.
func ContextWindow(modelRef string, override int) int {
	if override > 0 {
		return override
	}
	if w, ok := contextWindows[modelRef]; ok {
		return w
	}
	return defaultContextWindow
}

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
	encErr  error
)

func encoding() (*tiktoken.Tiktoken, error) {
	encOnce.Do(func() {
		enc, encErr = tiktoken.GetEncoding("cl100k_base")
	})
	return enc, encErr
}

// CountTokens counts s's tokens with a deterministic, round-trip-safe BPE
// encoder; counts must be deterministic, not provider-exact.
func CountTokens(s string) int {
	e, err := encoding()
	if err != nil {
		// Deterministic fallback if the encoder's vocab data failed to load.
		return len(s) / 4
	}
	return len(e.Encode(s, nil, nil))
}

// TrimMessages drops the oldest non-system messages until the total token
// count fits within window minus reserve minus systemPromptTokens. System
// messages are always retained, regardless of position.
func TrimMessages(msgs []Message, modelRef string, systemPrompt string, windowOverride int) []Message {
	window := ContextWindow(modelRef, windowOverride)
	budget := window - defaultOutputReserve - CountTokens(systemPrompt)
	if budget < 0 {
		budget = 0
	}

	system := make([]Message, 0)
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	total := 0
	for _, m := range system {
		total += CountTokens(m.Content)
	}

	kept := make([]Message, 0, len(rest))
	runningFromEnd := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := CountTokens(rest[i].Content)
		if total+runningFromEnd+cost > budget {
			break
		}
		runningFromEnd += cost
		kept = append([]Message{rest[i]}, kept...)
	}

	return append(system, kept...)
}
