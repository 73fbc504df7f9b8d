package agent

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized   = errors.New("conversation session is not initialized")
	ErrNoThread         = errors.New("no active conversation thread")
	ErrEmptyMessage     = errors.New("message text is required")
	ErrEndpointRequired = errors.New("agent service endpoint is required")
)

// ErrRunStatus indicates a run reached a terminal status other than completed
type ErrRunStatus struct {
	RunID  string
	Status RunStatus
	Detail string
}

func (e *ErrRunStatus) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("run %s ended with status %s: %s", e.RunID, e.Status, e.Detail)
	}
	return fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
}

// ErrRemote indicates a call to the agent service failed
type ErrRemote struct {
	Op  string
	Err error
}

func (e *ErrRemote) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ErrRemote) Unwrap() error {
	return e.Err
}

func remote(op string, err error) error {
	return &ErrRemote{Op: op, Err: err}
}
