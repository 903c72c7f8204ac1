package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgeflow/conductor/internal/eventstream"
	"github.com/forgeflow/conductor/internal/session"
)

// Grounded on the teacher's internal/gateway/ws_control_plane.go: one
// wsSession per upgraded connection, a buffered send channel drained by a
// dedicated writeLoop goroutine, and a readLoop that owns SetReadDeadline/
// SetPongHandler. Unlike the teacher's handleChatSend, which runs a chat
// turn inline on the read goroutine, handleQuery here is dispatched onto
// its own goroutine: spec §4.7 step 5 requires a cancel control message to
// interrupt an in-flight query, which is impossible if the reader that
// would receive it is blocked driving that same query.
const (
	wsMaxPayloadBytes = 1 << 20
	wsWriteWait       = 10 * time.Second
	wsPongWait        = 60 * time.Second
	wsPingInterval    = (wsPongWait * 9) / 10
)

// wsServer upgrades HTTP connections onto the Session Controller.
type wsServer struct {
	controller *session.Controller
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

func newWSServer(controller *session.Controller, log *slog.Logger) *wsServer {
	return &wsServer{
		controller: controller,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *wsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &wsSession{
		server: s,
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
	}
	sess.run(r)
}

// controlFrame is the client-to-engine envelope (spec §6.4). Exactly one of
// WorkspacePath/Text/CorrelationID+Decision is populated, selected by Type.
type controlFrame struct {
	Type          string `json:"type"`
	WorkspacePath string `json:"workspace_path,omitempty"`
	Text          string `json:"text,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Decision      string `json:"decision,omitempty"`
	Feedback      string `json:"feedback,omitempty"`
}

// protocolError is sent to a client that violates the control protocol
// itself (bad JSON, init out of order) — distinct from the tagged
// domain-event union in internal/eventstream, which always carries a
// session id the connection may not have yet.
type protocolError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type wsSession struct {
	server *wsServer
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	bound *session.Bound
}

func (s *wsSession) run(r *http.Request) {
	defer s.close()
	go s.writeLoop()
	s.readLoop(r)
}

func (s *wsSession) close() {
	s.cancel()
	if s.bound != nil {
		s.bound.Close()
	}
	close(s.send)
	_ = s.conn.Close()
}

func (s *wsSession) readLoop(r *http.Request) {
	s.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	pending := s.server.controller.Connect(r.URL.Query().Get("session_id"), s.publish)

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.sendProtocolError(fmt.Sprintf("invalid control frame: %v", err))
			continue
		}

		if s.bound == nil {
			if frame.Type != "init" {
				s.sendProtocolError("first control message must be \"init\"")
				continue
			}
			bound, err := pending.Init(frame.WorkspacePath)
			if err != nil {
				s.sendProtocolError(fmt.Sprintf("init failed: %v", err))
				return
			}
			s.bound = bound
			continue
		}

		switch frame.Type {
		case "init":
			s.sendProtocolError("already initialized")
		case "query":
			go s.handleQuery(frame.Text)
		case "cancel":
			s.bound.Cancel()
		case "approval_response":
			if err := s.bound.ResolveApproval(frame.CorrelationID, decodeDecision(frame)); err != nil {
				s.sendProtocolError(fmt.Sprintf("approval_response: %v", err))
			}
		default:
			s.sendProtocolError(fmt.Sprintf("unknown control message type %q", frame.Type))
		}
	}
}

func (s *wsSession) handleQuery(text string) {
	s.bound.Query(s.ctx, text)
}

func decodeDecision(frame controlFrame) session.Decision {
	switch frame.Decision {
	case "approved":
		return session.Decision{Approved: true, Feedback: frame.Feedback}
	case "modified":
		return session.Decision{Approved: true, Modified: true, Feedback: frame.Feedback}
	default:
		return session.Decision{Approved: false, Feedback: frame.Feedback}
	}
}

// publish is the eventstream.Subscriber handed to Controller.Connect: it
// marshals the event and enqueues it for writeLoop, matching the teacher's
// sendEvent/enqueue split so a slow client can never block event
// production inside the workflow graph.
func (s *wsSession) publish(e eventstream.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		s.server.log.Error("marshal event", "error", err, "type", e.Type)
		return
	}
	select {
	case s.send <- data:
	default:
		s.server.log.Warn("websocket send buffer full, dropping event", "type", e.Type, "session_id", e.SessionID)
	}
}

func (s *wsSession) sendProtocolError(message string) {
	data, err := json.Marshal(protocolError{Type: "protocol_error", Message: message})
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
	}
}

func (s *wsSession) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
