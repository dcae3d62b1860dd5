package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket streams a reply for every chat request read from the socket.
// Requests on one connection are answered in order.
func (h *Handler) WebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		stream, err := h.vision.ChatStream(c.Request.Context(), req.prompt())
		if err != nil {
			if conn.WriteJSON(Frame{Type: FrameError, Message: domain.Describe(err)}) != nil {
				return
			}
			continue
		}

		ok := true
		frames(c, stream, func(fr Frame) bool {
			if err := conn.WriteJSON(fr); err != nil {
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return
		}
	}
}
