// Package agenttest provides an in-memory agent.Service for tests.
package agenttest

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"foundrychat/internal/agent"
)

// Operation names accepted by Service.Fail
const (
	OpCreateAgent   = "CreateAgent"
	OpCreateThread  = "CreateThread"
	OpAppendMessage = "AppendMessage"
	OpStartRun      = "StartRun"
	OpGetRun        = "GetRun"
	OpListMessages  = "ListMessages"
)

// Service is a scripted agent.Service. Runs walk through Script one status
// per StartRun/GetRun call, repeating the last entry; when a run first
// reports completed the assistant reply is appended to its thread.
type Service struct {
	// Script is the status sequence of every run. Defaults to [completed].
	Script []agent.RunStatus
	// Reply builds the assistant text for a user message. Defaults to an echo.
	Reply func(text string) string
	// Descending makes ListMessages return newest first.
	Descending bool

	mu       sync.Mutex
	fail     map[string]error
	calls    map[string]int
	seq      int
	clock    time.Time
	agents   map[string]agent.Agent
	threads  map[string][]agent.Message
	runs     map[string]*scriptedRun
	lastText map[string]string
}

type scriptedRun struct {
	run   agent.Run
	step  int
	reply string
}

// NewService returns an empty scripted service
func NewService() *Service {
	return &Service{
		fail:     make(map[string]error),
		calls:    make(map[string]int),
		clock:    time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		agents:   make(map[string]agent.Agent),
		threads:  make(map[string][]agent.Message),
		runs:     make(map[string]*scriptedRun),
		lastText: make(map[string]string),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
func (s *Service) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

// Calls returns how many times op was invoked
func (s *Service) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Messages returns a copy of the thread's messages in insertion order
func (s *Service) Messages(threadID string) []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.threads[threadID])
}

// Seed appends a message with an explicit timestamp to a thread
func (s *Service) Seed(threadID string, msg agent.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ThreadID = threadID
	s.threads[threadID] = append(s.threads[threadID], msg)
}

func (s *Service) enter(op string) error {
	s.calls[op]++
	return s.fail[op]
}

func (s *Service) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

func (s *Service) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *Service) CreateAgent(_ context.Context, def agent.AgentDefinition) (agent.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpCreateAgent); err != nil {
		return agent.Agent{}, err
	}

	for _, existing := range s.agents {
		if existing.Name == def.Name && existing.Model == def.Model && existing.Instructions == def.Instructions {
			return existing, nil
		}
	}

	a := agent.Agent{
		ID:           s.nextID("asst"),
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
	if err := s.enter(OpCreateThread); err != nil {
		return agent.Thread{}, err
	}

	t := agent.Thread{ID: s.nextID("thread"), CreatedAt: s.tick()}
	s.threads[t.ID] = nil
	return t, nil
}

func (s *Service) AppendMessage(_ context.Context, threadID string, role agent.Role, text string) (agent.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpAppendMessage); err != nil {
		return agent.Message{}, err
	}
	if _, ok := s.threads[threadID]; !ok {
		return agent.Message{}, fmt.Errorf("thread %s not found", threadID)
	}

	msg := s.appendLocked(threadID, role, text)
	if role == agent.RoleUser {
		s.lastText[threadID] = text
	}
	return msg, nil
}

func (s *Service) appendLocked(threadID string, role agent.Role, text string) agent.Message {
	msg := agent.Message{
		ID:        s.nextID("msg"),
		ThreadID:  threadID,
		Role:      role,
		Content:   []agent.ContentPart{agent.TextPart(text)},
		CreatedAt: s.tick(),
	}
	s.threads[threadID] = append(s.threads[threadID], msg)
	return msg
}

func (s *Service) StartRun(_ context.Context, threadID, agentID string) (agent.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpStartRun); err != nil {
		return agent.Run{}, err
	}
	if _, ok := s.threads[threadID]; !ok {
		return agent.Run{}, fmt.Errorf("thread %s not found", threadID)
	}

	reply := "echo: " + s.lastText[threadID]
	if s.Reply != nil {
		reply = s.Reply(s.lastText[threadID])
	}

	r := &scriptedRun{
		run:   agent.Run{ID: s.nextID("run"), ThreadID: threadID, AgentID: agentID},
		reply: reply,
	}
	s.runs[r.run.ID] = r
	s.advanceLocked(r)
	return r.run, nil
}

func (s *Service) GetRun(_ context.Context, threadID, runID string) (agent.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGetRun); err != nil {
		return agent.Run{}, err
	}

	r, ok := s.runs[runID]
	if !ok || r.run.ThreadID != threadID {
		return agent.Run{}, fmt.Errorf("run %s not found", runID)
	}
	s.advanceLocked(r)
	return r.run, nil
}

func (s *Service) advanceLocked(r *scriptedRun) {
	script := s.Script
	if len(script) == 0 {
		script = []agent.RunStatus{agent.RunCompleted}
	}

	idx := min(r.step, len(script)-1)
	r.step++
	previous := r.run.Status
	r.run.Status = script[idx]
	if r.run.Status == agent.RunFailed {
		r.run.LastError = "scripted failure"
	}
	if r.run.Status == agent.RunCompleted && previous != agent.RunCompleted && r.reply != "" {
		s.appendLocked(r.run.ThreadID, agent.RoleAssistant, r.reply)
	}
}

func (s *Service) ListMessages(_ context.Context, threadID string) ([]agent.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpListMessages); err != nil {
		return nil, err
	}

	messages, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}

	out := slices.Clone(messages)
	if s.Descending {
		slices.Reverse(out)
	}
	return out, nil
}

// Ensure Service implements agent.Service
var _ agent.Service = (*Service)(nil)
