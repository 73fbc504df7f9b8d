package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"foundrychat/internal/agent"
)

const (
	defaultPongWait   = 60 * time.Second
	defaultPingPeriod = 30 * time.Second
	writeWait         = 10 * time.Second

	// pendingFrames bounds the requests queued behind a running turn
	pendingFrames = 16
)

// wsConn serializes writes to a websocket connection
type wsConn struct {
	conn *websocket.Conn
	log  *zerolog.Logger

	mu sync.Mutex
}

func (c *wsConn) send(frame OutboundFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		c.log.Warn().Err(err).Str("frame", frame.Type).Msg("Failed to write websocket frame")
	}
}

// handleWebSocket gives the connection its own conversation for as long as it
// stays open. If the conversation cannot be initialized the connection stays
// up and every request is answered with the not-initialized notice.
//
// Frames are answered in order on a worker goroutine so the reader keeps
// handling pongs while a run is pending.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongWait))
		return nil
	})
	go pingLoop(ctx, conn, s.pingPeriod)

	out := &wsConn{conn: conn, log: log}
	frames := make(chan InboundFrame, pendingFrames)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.serveFrames(ctx, out, frames)
	}()
	defer func() {
		cancel()
		close(frames)
		wg.Wait()
		log.Info().Msg("Chat session ended")
	}()

	for {
		var frame InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Websocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.pongWait))

		select {
		case frames <- frame:
		default:
			out.send(newFrame(FrameError, "too many pending requests, wait for the current reply"))
		}
	}
}

// serveFrames initializes the connection's conversation and answers frames
// until the channel is closed
func (s *Server) serveFrames(ctx context.Context, out *wsConn, frames <-chan InboundFrame) {
	var conv agent.Conversation
	candidate := s.factory()
	if err := candidate.Initialize(ctx); err != nil {
		out.log.Error().Err(err).Msg("Failed to initialize chat session")
		out.send(newFrame(FrameError, initFailureText(err)))
	} else {
		conv = candidate
		out.log.Info().Msg("Chat session started")
		out.send(newFrame(FrameWelcome, WelcomeText))
	}

	for frame := range frames {
		if ctx.Err() != nil {
			continue
		}
		out.send(handleFrame(ctx, conv, frame))
	}
}

// handleFrame answers one inbound frame. conv is nil when the session never
// initialized.
func handleFrame(ctx context.Context, conv agent.Conversation, frame InboundFrame) OutboundFrame {
	switch frame.Type {
	case FrameMessage, FrameReset, FrameHistory:
	default:
		return newFrame(FrameError, "unsupported frame type: "+frame.Type)
	}

	if conv == nil {
		return newFrame(FrameError, NotInitializedText)
	}

	switch frame.Type {
	case FrameReset:
		conv.Reset(ctx)
		return newFrame(FrameReset, ResetText)
	case FrameHistory:
		out := newFrame(FrameHistory, "")
		out.History = conv.History(ctx)
		return out
	default:
		return newFrame(FrameReply, conv.SubmitTurn(ctx, frame.Text))
	}
}

func pingLoop(ctx context.Context, conn *websocket.Conn, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
