package v1

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Operator consoles connect from their own origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events upgrades the connection and streams session events to the operator.
// GET /v1/events/ws?session_id=...
func (h *Handler) Events(c echo.Context) error {
	if h.hub == nil {
		return c.JSON(http.StatusNotImplemented, map[string]string{"error": "event push is not enabled"})
	}
	sessionID := c.QueryParam("session_id")
	if sessionID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "session_id is required"})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	// Attach blocks reading until the client goes away.
	h.hub.Attach(ws, sessionID)
	return nil
}
