package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/busflow/internal/app"
	"github.com/ukydev/busflow/internal/fleet"
	"github.com/ukydev/busflow/internal/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamHandler pushes the session's view over a WebSocket after every
// fleet mutation. Bursts of mutations are coalesced into one frame.
type StreamHandler struct {
	app      *app.App
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(a *app.App, log logrus.FieldLogger) *StreamHandler {
	return &StreamHandler{
		app: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeHTTP upgrades the connection and streams views until the client
// leaves or the session ends.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	changed <- struct{}{}
	cancel := h.app.Store.Subscribe(func(fleet.Event) {
		// runs under the store lock: never block
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	gone := make(chan struct{})
	go h.readPump(conn, gone)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			if !h.setWriteDeadline(conn) {
				return
			}
			if !h.sameSession(claims.UserID) {
				h.closeSessionEnded(conn)
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.log.WithError(err).Debug("Stream ping failed")
				return
			}
		case <-changed:
			if !h.setWriteDeadline(conn) {
				return
			}
			if !h.sameSession(claims.UserID) {
				h.closeSessionEnded(conn)
				return
			}
			v, err := h.app.View()
			if err != nil {
				h.closeSessionEnded(conn)
				return
			}
			if err := conn.WriteJSON(v); err != nil {
				h.log.WithError(err).Debug("Stream write failed")
				return
			}
		}
	}
}

func (h *StreamHandler) sameSession(userID string) bool {
	user, ok := h.app.Sessions.Current()
	return ok && user.ID == userID
}

func (h *StreamHandler) setWriteDeadline(conn *websocket.Conn) bool {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		h.log.WithError(err).Debug("Stream write deadline failed")
		return false
	}
	return true
}

func (h *StreamHandler) closeSessionEnded(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended")
	if err := conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		h.log.WithError(err).Debug("Stream close frame failed")
	}
}

// readPump discards client frames and signals when the peer is gone.
func (h *StreamHandler) readPump(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		h.log.WithError(err).Debug("Stream read deadline failed")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
