package agent

import (
	"context"
)

// Service is the remote agent service a session talks to. Implementations
// are expected to be already authenticated.
type Service interface {
	// CreateAgent returns an agent for the definition. Creating twice with the
	// same definition yields the existing or an equivalent agent.
	CreateAgent(ctx context.Context, def AgentDefinition) (Agent, error)
	CreateThread(ctx context.Context) (Thread, error)
	AppendMessage(ctx context.Context, threadID string, role Role, text string) (Message, error)
	StartRun(ctx context.Context, threadID, agentID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	// ListMessages returns every message of the thread in no guaranteed order
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

// Conversation defines the contract front ends use to drive a session
type Conversation interface {
	Initialize(ctx context.Context) error
	SubmitTurn(ctx context.Context, text string) string
	Reset(ctx context.Context)
	History(ctx context.Context) []HistoryEntry
}

// Ensure Session implements Conversation
var _ Conversation = (*Session)(nil)
