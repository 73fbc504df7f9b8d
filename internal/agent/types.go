package agent

import "time"

// AgentDefinition holds the static parameters an agent is created with
type AgentDefinition struct {
	Model        string `yaml:"model"`
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
}

// Agent is a configured remote reasoning entity
type Agent struct {
	ID           string
	Name         string
	Model        string
	Instructions string
}

// Thread is an ordered conversation context held by the remote service
type Thread struct {
	ID        string
	CreatedAt time.Time
}

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType tags a content part of a message
type PartType string

const (
	PartText      PartType = "text"
	PartImageFile PartType = "image_file"
	PartImageURL  PartType = "image_url"
	PartRefusal   PartType = "refusal"
)

// ContentPart is a single typed element of a message body.
// Text is only meaningful for PartText and PartRefusal.
type ContentPart struct {
	Type PartType
	Text string
}

// TextPart builds a text content part
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// Message is an entry in a thread
type Message struct {
	ID        string
	ThreadID  string
	Role      Role
	Content   []ContentPart
	CreatedAt time.Time
}

// FirstText returns the first text part of the message, if any
func (m Message) FirstText() (string, bool) {
	for _, part := range m.Content {
		if part.Type == PartText {
			return part.Text, true
		}
	}
	return "", false
}

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunCancelling     RunStatus = "cancelling"
	RunCompleted      RunStatus = "completed"
	RunFailed         RunStatus = "failed"
	RunCancelled      RunStatus = "cancelled"
	RunExpired        RunStatus = "expired"
	RunRequiresAction RunStatus = "requires_action"
	RunIncomplete     RunStatus = "incomplete"
)

// Pending reports whether the run has not reached a terminal status yet
func (s RunStatus) Pending() bool {
	switch s {
	case RunQueued, RunInProgress, RunCancelling:
		return true
	}
	return false
}

// Run is one execution of an agent over a thread
type Run struct {
	ID        string
	ThreadID  string
	AgentID   string
	Status    RunStatus
	LastError string
}

// HistoryEntry is the display projection of a message
type HistoryEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
