package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are restricted by the CORS middleware
		return true
	},
}

// HandleWebSocket streams instance dispatch messages to the client
// @Summary WebSocket endpoint for instance dispatches
// @Description Establishes a WebSocket connection; every text frame is one InstanceDispatch
// @Tags websocket
// @Produce json
// @Success 101 {string} string "Switching Protocols"
// @Router /ws/events [get]
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return err
	}

	client := &Client{
		hub:  s.hub,
		conn: ws,
		send: make(chan []byte, 256),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		return ws.Close()
	}

	go client.writePump()
	go client.readPump()

	return nil
}

// GetWebSocketStats returns WebSocket connection statistics
// @Summary Get WebSocket statistics
// @Tags websocket
// @Produce json
// @Success 200 {object} WebSocketStats
// @Router /ws/stats [get]
func (s *Server) GetWebSocketStats(c echo.Context) error {
	return c.JSON(http.StatusOK, WebSocketStats{
		ConnectedClients: s.hub.ClientCount(),
		Status:           "operational",
	})
}
