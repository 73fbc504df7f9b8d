package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"foundrychat/internal/logger"
)

// Config holds configuration options for creating a new Session
type Config struct {
	Service    Service
	Definition AgentDefinition
	Backoff    Backoff   // Optional, defaults to DefaultBackoff
	Sleep      SleepFunc // Optional, defaults to Sleep
}

// Session mediates the turns of one conversation with one remote agent.
// Each session exclusively owns its agent and thread handles.
type Session struct {
	service    Service
	definition AgentDefinition
	backoff    Backoff
	sleep      SleepFunc

	// turnMu serializes turns so at most one run is active per thread
	turnMu sync.Mutex

	mu     sync.RWMutex
	agent  *Agent
	thread *Thread
}

// New creates an uninitialized Session with the provided configuration
func New(config Config) *Session {
	log := logger.Get()
	log.Debug().
		Str("model", config.Definition.Model).
		Str("name", config.Definition.Name).
		Msg("Creating new conversation session")

	sleep := config.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	return &Session{
		service:    config.Service,
		definition: config.Definition,
		backoff:    config.Backoff.withDefaults(),
		sleep:      sleep,
	}
}

// Initialize acquires the agent and opens a fresh thread. An error leaves the
// session unusable.
func (s *Session) Initialize(ctx context.Context) error {
	log := logger.Get()
	if s.service == nil {
		return errors.New("initialize session: agent service is required")
	}

	agent, err := s.service.CreateAgent(ctx, s.definition)
	if err != nil {
		log.Error().Err(err).Msg("Failed to acquire agent")
		return remote("create agent", err)
	}
	log.Info().Str("agentId", agent.ID).Msg("Acquired agent")

	thread, err := s.service.CreateThread(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create thread")
		return remote("create thread", err)
	}
	log.Info().Str("threadId", thread.ID).Msg("Created thread")

	s.mu.Lock()
	s.agent = &agent
	s.thread = &thread
	s.mu.Unlock()
	return nil
}

// Reset abandons the current thread and opens a new one. Failures are logged
// and leave the session without a thread, so the next turn fails with ErrNoThread.
func (s *Session) Reset(ctx context.Context) {
	log := logger.Get()

	s.mu.RLock()
	initialized := s.agent != nil
	s.mu.RUnlock()
	if !initialized {
		log.Warn().Msg("Reset requested before the session was initialized")
		return
	}

	thread, err := s.service.CreateThread(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.thread = nil
		log.Error().Err(err).Msg("Error resetting conversation")
		return
	}
	s.thread = &thread
	log.Info().Str("threadId", thread.ID).Msg("Reset conversation with new thread")
}

// SubmitTurn sends text as a user message, waits for the agent's run to
// finish and returns the reply. Every failure is reported through the
// returned text; the session stays usable for the next turn.
func (s *Session) SubmitTurn(ctx context.Context, text string) string {
	reply, err := s.submitTurn(ctx, text)
	if err == nil {
		return reply
	}

	var statusErr *ErrRunStatus
	if errors.As(err, &statusErr) {
		logger.Get().Error().
			Str("runId", statusErr.RunID).
			Str("status", string(statusErr.Status)).
			Str("detail", statusErr.Detail).
			Msg("Run failed")
		return statusReply(statusErr.Status)
	}

	logger.Get().Error().Err(err).Msg("Error sending message")
	return errorReply(err)
}

func (s *Session) submitTurn(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyMessage
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	agent, thread, err := s.handles()
	if err != nil {
		return "", err
	}

	log := logger.Get()
	message, err := s.service.AppendMessage(ctx, thread.ID, RoleUser, text)
	if err != nil {
		return "", remote("append message", err)
	}
	log.Info().Str("messageId", message.ID).Str("threadId", thread.ID).Msg("Added user message")

	run, err := s.service.StartRun(ctx, thread.ID, agent.ID)
	if err != nil {
		return "", remote("start run", err)
	}
	log.Info().Str("runId", run.ID).Str("threadId", thread.ID).Msg("Started run")

	run, err = s.awaitRun(ctx, thread.ID, run)
	if err != nil {
		return "", err
	}
	if run.Status != RunCompleted {
		return "", &ErrRunStatus{RunID: run.ID, Status: run.Status, Detail: run.LastError}
	}

	messages, err := s.service.ListMessages(ctx, thread.ID)
	if err != nil {
		return "", remote("list messages", err)
	}
	return latestAssistantReply(messages), nil
}

// awaitRun polls the run until it leaves the pending statuses. There is no
// retry cap or overall deadline; only a failed call or ctx ends it early.
func (s *Session) awaitRun(ctx context.Context, threadID string, run Run) (Run, error) {
	log := logger.Get()
	delay := s.backoff.Initial
	for {
		next, wait := s.backoff.Step(delay, run.Status)
		if !wait {
			return run, nil
		}

		log.Debug().
			Str("runId", run.ID).
			Str("status", string(run.Status)).
			Dur("backoff", delay).
			Msg("Waiting for run")
		if err := s.sleep(ctx, delay); err != nil {
			return run, fmt.Errorf("waiting for run %s: %w", run.ID, err)
		}

		polled, err := s.service.GetRun(ctx, threadID, run.ID)
		if err != nil {
			return run, remote("get run status", err)
		}
		run = polled
		delay = next
	}
}

// History returns the messages of the current thread oldest first. Failures
// are logged and yield an empty history.
func (s *Session) History(ctx context.Context) []HistoryEntry {
	log := logger.Get()
	_, thread, err := s.handles()
	if err != nil {
		log.Error().Err(err).Msg("Error getting conversation history")
		return []HistoryEntry{}
	}

	messages, err := s.service.ListMessages(ctx, thread.ID)
	if err != nil {
		log.Error().Err(err).Str("threadId", thread.ID).Msg("Error getting conversation history")
		return []HistoryEntry{}
	}
	return chronological(messages)
}

// AgentID returns the identifier of the session's agent, empty before Initialize
func (s *Session) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agent == nil {
		return ""
	}
	return s.agent.ID
}

// ThreadID returns the identifier of the live thread, empty when none is set
func (s *Session) ThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.thread == nil {
		return ""
	}
	return s.thread.ID
}

func (s *Session) handles() (Agent, Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.agent == nil {
		return Agent{}, Thread{}, ErrNotInitialized
	}
	if s.thread == nil {
		return Agent{}, Thread{}, ErrNoThread
	}
	return *s.agent, *s.thread, nil
}
