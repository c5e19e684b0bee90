// -----------------------------------------------------------------------
// Live Tail - WebSocket stream of one session's lines
// -----------------------------------------------------------------------

package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/models"
	"github.com/ternarybob/seqlog/internal/services/tail"
)

const tailWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// TailMessage is sent to websocket tail clients
type TailMessage struct {
	Type             string `json:"type"` // "hello" or "line"
	SessionID        string `json:"session_id"`
	ServerInstanceID string `json:"server_instance_id,omitempty"`
	Sequence         int64  `json:"sequence,omitempty"`
	Text             string `json:"text,omitempty"`
}

// TailHandler streams drained lines of one session over a websocket
type TailHandler struct {
	hub              *tail.Hub
	config           *common.Config
	pingInterval     time.Duration
	serverInstanceID string // Lets clients detect a server restart
	logger           arbor.ILogger
}

func NewTailHandler(hub *tail.Hub, config *common.Config, logger arbor.ILogger) *TailHandler {
	h := &TailHandler{
		hub:              hub,
		config:           config,
		pingInterval:     config.PingInterval(),
		serverInstanceID: uuid.New().String(),
		logger:           logger,
	}
	logger.Debug().Str("server_instance_id", h.serverInstanceID).Msg("Tail handler initialized")
	return h
}

// ServerInstanceID returns the id sent in every hello message
func (h *TailHandler) ServerInstanceID() string {
	return h.serverInstanceID
}

// HandleWebSocket serves GET /ws/logs?session=<id>
func (h *TailHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if HideInProduction(w, h.config) {
		return
	}

	sessionID := r.URL.Query().Get("session")
	if !models.ValidSessionID(sessionID) {
		WriteError(w, http.StatusBadRequest, "Invalid session id")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	h.logger.Debug().Str("session_id", sessionID).Msg("Tail client connected")

	// Clients that stop answering pings are dropped
	pongWait := 2 * h.pingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// The read loop only exists to notice the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Str("session_id", sessionID).Msg("Tail client read error")
				}
				return
			}
		}
	}()

	if err := h.write(conn, TailMessage{Type: "hello", SessionID: sessionID, ServerInstanceID: h.serverInstanceID}); err != nil {
		return
	}

	ping := time.NewTicker(h.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			h.logger.Debug().Str("session_id", sessionID).Msg("Tail client disconnected")
			return
		case line, ok := <-sub.Lines():
			if !ok {
				return
			}
			msg := TailMessage{Type: "line", SessionID: line.SessionID, Sequence: line.Sequence, Text: line.Text}
			if err := h.write(conn, msg); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(tailWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *TailHandler) write(conn *websocket.Conn, msg TailMessage) error {
	conn.SetWriteDeadline(time.Now().Add(tailWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Debug().Err(err).Str("session_id", msg.SessionID).Msg("Failed to write tail message")
		return err
	}
	return nil
}
