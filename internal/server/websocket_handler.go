package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumenchat/chatcore/internal/events"
	"github.com/lumenchat/chatcore/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const readTimeout = 5 * time.Minute

// handleWebSocket upgrades the request, registers the connection, and runs
// its read loop: one inbound JSON message starts exactly one pipeline turn.
// Turns for the same connection run sequentially; a client wanting
// concurrent turns opens multiple connections.
func (s *Server) handleWebSocket(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId query parameter is required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.New().String()
	conn := newConn(connID, userID, ws, s.log)
	s.hub.register(conn)
	defer s.hub.unregister(conn)

	ctx := logger.WithConnID(c.Request.Context(), connID)
	ctx = logger.WithUserID(ctx, userID)

	pl := s.deps.pipelineFor(conn)

	for {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var msg inboundChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.LogError(ctx, err, "malformed inbound message")
			conn.MessageResponse(events.MessageResponse{
				IsComplete: true,
				Chunk:      "malformed request: " + err.Error(),
			})
			continue
		}

		done := s.deps.Metrics.PipelineStarted()
		start := time.Now()
		pl.Process(ctx, conn, msg.toRequest(userID))
		s.deps.Metrics.ObserveStreamDuration(time.Since(start))
		done()
	}
}
