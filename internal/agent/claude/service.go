// Package claude provides an in-process agent.Service backed by the Anthropic
// Messages API. Agents, threads and runs live in memory; each run executes
// asynchronously so callers observe the same queued, in_progress and terminal
// statuses a hosted agent service reports.
package claude

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"foundrychat/internal/agent"
	"foundrychat/internal/logger"
)

const (
	DefaultModel      = anthropic.ModelClaude3_5HaikuLatest
	DefaultMaxTokens  = 1024
	DefaultRunTimeout = 10 * time.Minute
	DefaultRetention  = 24 * time.Hour
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrRunNotFound    = errors.New("run not found")
	ErrAgentNotFound  = errors.New("agent not found")
)

// ErrActiveRun indicates a run was started on a thread that already has one
type ErrActiveRun struct {
	ThreadID string
	RunID    string
}

func (e *ErrActiveRun) Error() string {
	return fmt.Sprintf("thread %s already has an active run %s", e.ThreadID, e.RunID)
}

// Messenger is the part of the Anthropic client the service uses
type Messenger interface {
	New(ctx context.Context, body anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// Config holds configuration options for creating a new Service
type Config struct {
	Messenger  Messenger
	MaxTokens  int64
	RunTimeout time.Duration // Runs still executing after this are expired
	// Retention is how long an idle thread is kept before it is discarded
	// together with its runs
	Retention time.Duration
}

// Service keeps agents, threads and runs in memory
type Service struct {
	messenger  Messenger
	maxTokens  int64
	runTimeout time.Duration
	retention  time.Duration
	now        func() time.Time

	mu      sync.Mutex
	agents  map[string]agent.Agent
	threads map[string]*thread
	runs    map[string]*agent.Run
	wg      sync.WaitGroup
}

type thread struct {
	id         string
	createdAt  time.Time
	lastActive time.Time
	messages   []agent.Message
	activeRun  string
	runIDs     []string
}

// New creates a Service with the provided configuration
func New(config Config) *Service {
	if config.MaxTokens <= 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = DefaultRunTimeout
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}

	logger.Get().Debug().
		Int64("maxTokens", config.MaxTokens).
		Dur("runTimeout", config.RunTimeout).
		Msg("Creating in-process agent service")

	return &Service{
		messenger:  config.Messenger,
		maxTokens:  config.MaxTokens,
		runTimeout: config.RunTimeout,
		retention:  config.Retention,
		now:        time.Now,
		agents:     make(map[string]agent.Agent),
		threads:    make(map[string]*thread),
		runs:       make(map[string]*agent.Run),
	}
}

// NewFromClient wraps an Anthropic client
func NewFromClient(client *anthropic.Client, config Config) *Service {
	config.Messenger = &client.Messages
	return New(config)
}

func (s *Service) CreateAgent(_ context.Context, def agent.AgentDefinition) (agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.agents {
		if existing.Name == def.Name && existing.Model == def.Model && existing.Instructions == def.Instructions {
			return existing, nil
		}
	}

	a := agent.Agent{
		ID:           "asst_" + uuid.NewString(),
		Name:         def.Name,
		Model:        def.Model,
		Instructions: def.Instructions,
	}
	s.agents[a.ID] = a
	return a, nil
}

func (s *Service) CreateThread(_ context.Context) (agent.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.pruneLocked(now)

	th := &thread{id: "thread_" + uuid.NewString(), createdAt: now, lastActive: now}
	s.threads[th.id] = th

	return agent.Thread{ID: th.id, CreatedAt: th.createdAt}, nil
}

func (s *Service) AppendMessage(_ context.Context, threadID string, role agent.Role, text string) (agent.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return agent.Message{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	if th.activeRun != "" {
		return agent.Message{}, &ErrActiveRun{ThreadID: threadID, RunID: th.activeRun}
	}
	return th.appendLocked(s.now().UTC(), role, []agent.ContentPart{agent.TextPart(text)}), nil
}

// appendLocked adds a message stamped strictly after the thread's last one
func (th *thread) appendLocked(created time.Time, role agent.Role, content []agent.ContentPart) agent.Message {
	th.lastActive = created
	if n := len(th.messages); n > 0 && !created.After(th.messages[n-1].CreatedAt) {
		created = th.messages[n-1].CreatedAt.Add(time.Microsecond)
	}

	msg := agent.Message{
		ID:        "msg_" + uuid.NewString(),
		ThreadID:  th.id,
		Role:      role,
		Content:   content,
		CreatedAt: created,
	}
	th.messages = append(th.messages, msg)
	return msg
}

// StartRun queues a run and executes it in the background. The run outlives
// ctx's cancellation but not the service's run timeout.
func (s *Service) StartRun(ctx context.Context, threadID, agentID string) (agent.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return agent.Run{}, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	a, ok := s.agents[agentID]
	if !ok {
		return agent.Run{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	if th.activeRun != "" {
		return agent.Run{}, &ErrActiveRun{ThreadID: threadID, RunID: th.activeRun}
	}

	run := &agent.Run{
		ID:       "run_" + uuid.NewString(),
		ThreadID: threadID,
		AgentID:  agentID,
		Status:   agent.RunQueued,
	}
	// Only the newest run of a thread stays queryable
	for _, old := range th.runIDs {
		delete(s.runs, old)
	}
	s.runs[run.ID] = run
	th.runIDs = []string{run.ID}
	th.activeRun = run.ID
	th.lastActive = s.now().UTC()

	params := s.buildParams(a, th.messages)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.execute(runCtx, run.ID, params)
	}()

	return *run, nil
}

func (s *Service) execute(ctx context.Context, runID string, params anthropic.MessageNewParams) {
	log := logger.Get()
	s.setStatus(runID, agent.RunInProgress, "")

	response, err := s.messenger.New(ctx, params)

	s.mu.Lock()
	defer s.mu.Unlock()

	run := s.runs[runID]
	th := s.threads[run.ThreadID]
	th.activeRun = ""

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		run.Status = agent.RunExpired
		run.LastError = err.Error()
	case err != nil:
		run.Status = agent.RunFailed
		run.LastError = err.Error()
	default:
		var parts []agent.ContentPart
		for _, block := range response.Content {
			if block.Type == "text" {
				parts = append(parts, agent.TextPart(block.Text))
			}
		}
		th.appendLocked(s.now().UTC(), agent.RoleAssistant, parts)
		run.Status = agent.RunCompleted
	}

	log.Debug().
		Str("runId", runID).
		Str("status", string(run.Status)).
		Str("lastError", run.LastError).
		Msg("Run finished")
}

func (s *Service) setStatus(runID string, status agent.RunStatus, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		run.Status = status
		run.LastError = lastError
	}
}

// buildParams converts the thread's conversation to a Messages API request
func (s *Service) buildParams(a agent.Agent, messages []agent.Message) anthropic.MessageNewParams {
	conversation := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		text, ok := msg.FirstText()
		if !ok {
			continue
		}
		switch msg.Role {
		case agent.RoleUser:
			conversation = append(conversation, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		case agent.RoleAssistant:
			conversation = append(conversation, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     a.Model,
		MaxTokens: s.maxTokens,
		Messages:  conversation,
	}
	if a.Instructions != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.Instructions}}
	}
	return params
}

func (s *Service) GetRun(_ context.Context, threadID, runID string) (agent.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok || run.ThreadID != threadID {
		return agent.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return *run, nil
}

func (s *Service) ListMessages(_ context.Context, threadID string) ([]agent.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
	}
	return slices.Clone(th.messages), nil
}

// pruneLocked discards threads idle since before the retention window along
// with their runs. Threads with a run in flight are kept.
func (s *Service) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	for id, th := range s.threads {
		if th.activeRun != "" || !th.lastActive.Before(cutoff) {
			continue
		}
		for _, runID := range th.runIDs {
			delete(s.runs, runID)
		}
		delete(s.threads, id)
		logger.Get().Debug().Str("threadId", id).Msg("Discarded idle thread")
	}
}

// Wait blocks until every background run has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Ensure Service implements agent.Service
var _ agent.Service = (*Service)(nil)
