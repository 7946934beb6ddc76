package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/critter-cv/critter-cv/server/session"
)

// ProgressHandler streams session progress over a websocket. One socket
// follows one session; updates arrive as JSON session.Update messages.
type ProgressHandler struct {
	manager  *session.Manager
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewProgressHandler(manager *session.Manager, logger *zap.Logger) *ProgressHandler {
	return &ProgressHandler{
		manager: manager,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Stream upgrades the connection and forwards throttled progress updates
// until the client disconnects. A slow client drops intermediate updates
// rather than stalling the run.
func (h *ProgressHandler) Stream(c *gin.Context) {
	s, err := h.manager.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such session"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Info("progress stream connected",
		zap.String("session_id", s.ID()),
		zap.String("client_ip", c.ClientIP()))

	updates := make(chan session.Update, 64)
	unsubscribe := s.Subscribe(func(u session.Update) {
		select {
		case updates <- u:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go h.readUntilClose(conn, done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	// Send the current state immediately so late subscribers see where the
	// run stands.
	first := session.Update{SessionID: s.ID(), State: s.State(), Progress: s.Progress()}
	if err := h.write(conn, first); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case u := <-updates:
			if err := h.write(conn, u); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (h *ProgressHandler) write(conn *websocket.Conn, u session.Update) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(u); err != nil {
		h.logger.Debug("progress stream write failed", zap.Error(err))
		return err
	}
	return nil
}

// readUntilClose drains client frames so control messages are processed and
// signals when the peer goes away.
func (h *ProgressHandler) readUntilClose(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(1024)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("progress stream closed", zap.Error(err))
			}
			return
		}
	}
}
