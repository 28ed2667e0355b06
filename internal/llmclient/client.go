// Package llmclient provides the LLM client the Agent Loop uses to drive
// each turn of a multi-turn conversation. It completes the dormant
// Anthropic integration the platform's older workflow agents left as a
// TODO stub.
package llmclient

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/orchestrator/internal/model"
)

// ErrRateLimited is returned when the provider signals HTTP 429. The Agent
// Loop treats this specially: sleep, then retry without consuming a turn.
var ErrRateLimited = errors.New("llmclient: rate limited")

// Response is a single assistant turn, plus the raw usage the caller may
// want to log.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the seam between the Agent Loop and whichever LLM provider is
// wired in. The sandboxed execution service and the provider itself are
// external collaborators; Client is the contract.
type Client interface {
	// Complete sends systemPrompt and the full message history and
	// returns the next assistant turn. history is ordered oldest-first.
	Complete(ctx context.Context, systemPrompt string, history []model.Message) (Response, error)
}
