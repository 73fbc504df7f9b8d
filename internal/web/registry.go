package web

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"foundrychat/internal/agent"
	"foundrychat/internal/logger"
)

var ErrSessionNotFound = errors.New("session not found")

// Factory builds an uninitialized conversation for a new user
type Factory func() agent.Conversation

// Registry keeps one conversation per web user, keyed by a random ID
type Registry struct {
	factory Factory
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	conv agent.Conversation

	mu         sync.Mutex
	lastActive time.Time
	inFlight   int
}

func (e *entry) acquire(now time.Time) {
	e.mu.Lock()
	e.lastActive = now
	e.inFlight++
	e.mu.Unlock()
}

func (e *entry) release(now time.Time) {
	e.mu.Lock()
	e.lastActive = now
	e.inFlight--
	e.mu.Unlock()
}

// idleBefore reports whether the entry has no request in flight and was last
// used before cutoff
func (e *entry) idleBefore(cutoff time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight == 0 && e.lastActive.Before(cutoff)
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

// Create initializes a new conversation and stores it. A conversation that
// fails to initialize is not stored.
func (r *Registry) Create(ctx context.Context) (string, agent.Conversation, error) {
	conv := r.factory()
	if err := conv.Initialize(ctx); err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = &entry{conv: conv, lastActive: r.now()}
	r.mu.Unlock()

	logger.Get().Info().Str("sessionId", id).Msg("Chat session started")
	return id, conv, nil
}

// Get returns the conversation for id and marks it in use. The caller must
// call release when done; the conversation is not swept in between.
func (r *Registry) Get(id string) (conv agent.Conversation, release func(), err error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, ErrSessionNotFound
	}

	e.acquire(r.now())
	var once sync.Once
	return e.conv, func() { once.Do(func() { e.release(r.now()) }) }, nil
}

// Delete discards the conversation for id
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	logger.Get().Info().Str("sessionId", id).Msg("Chat session ended")
	return nil
}

// Len returns the number of stored conversations
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep discards conversations idle for longer than ttl and returns how many
// were removed. Conversations with a request in flight are kept.
func (r *Registry) Sweep(ttl time.Duration) int {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.sessions {
		if e.idleBefore(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Get().Info().Int("removed", removed).Dur("idleTTL", ttl).Msg("Swept idle chat sessions")
	}
	return removed
}

// SweepEvery runs Sweep on every tick of interval until ctx is done
func (r *Registry) SweepEvery(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ttl)
		}
	}
}
