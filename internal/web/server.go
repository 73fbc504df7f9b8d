// Package web serves conversation sessions to browsers over REST and a
// websocket chat endpoint.
package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"

	"foundrychat/internal/agent"
	"foundrychat/internal/logger"
)

// Server holds the HTTP handlers and the per-user session registry
type Server struct {
	registry *Registry
	factory  Factory
	upgrader websocket.Upgrader

	// Websocket keepalive: a ping every pingPeriod, and the connection is
	// dropped when nothing arrives within pongWait
	pingPeriod time.Duration
	pongWait   time.Duration
}

// New creates a Server whose sessions are built by factory
func New(factory Factory) *Server {
	return &Server{
		registry: NewRegistry(factory),
		factory:  factory,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingPeriod: defaultPingPeriod,
		pongWait:   defaultPongWait,
	}
}

// Registry returns the REST session registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Routes wires the HTTP routes
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(*logger.Get()))

	// The websocket route is kept outside the access log so the upgrade sees
	// the raw ResponseWriter.
	r.Get("/ws", s.handleWebSocket)

	r.Group(func(r chi.Router) {
		r.Use(accessLog)

		r.Get("/healthz", s.handleHealth)

		r.Route("/api", func(api chi.Router) {
			api.Get("/schema", s.handleSchema)
			api.Post("/sessions", s.handleCreateSession)
			api.Route("/sessions/{sessionID}", func(sr chi.Router) {
				sr.Delete("/", s.handleDeleteSession)
				sr.Post("/messages", s.handleSendMessage)
				sr.Post("/reset", s.handleReset)
				sr.Get("/history", s.handleHistory)
			})
		})
	})

	return r
}

func accessLog(next http.Handler) http.Handler {
	return hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("requestId", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("Request handled")
	})(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, frameSchemas)
}

// handleCreateSession starts a conversation and returns its ID with the
// welcome text
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, _, err := s.registry.Create(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Failed to initialize chat session")
		respondError(w, http.StatusBadGateway, initFailureText(err))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"id":      id,
		"welcome": WelcomeText,
	})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	conv, release, ok := s.conversation(w, r)
	if !ok {
		return
	}
	defer release()

	var payload struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}

	reply := conv.SubmitTurn(r.Context(), payload.Text)
	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	conv, release, ok := s.conversation(w, r)
	if !ok {
		return
	}
	defer release()

	conv.Reset(r.Context())
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "reset",
		"message": ResetText,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	conv, release, ok := s.conversation(w, r)
	if !ok {
		return
	}
	defer release()

	respondJSON(w, http.StatusOK, map[string][]agent.HistoryEntry{
		"history": conv.History(r.Context()),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Delete(chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// conversation looks up the session named in the URL and holds it against
// sweeping until release is called, answering 404 when there is none
func (s *Server) conversation(w http.ResponseWriter, r *http.Request) (agent.Conversation, func(), bool) {
	conv, release, err := s.registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, http.StatusNotFound, NotInitializedText)
		return nil, nil, false
	}
	return conv, release, true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
