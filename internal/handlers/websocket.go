package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/openlift/carpool-backend/internal/services"
)

// WebSocketHandler upgrades the connection, binding it to the caller's
// verified identity.
func WebSocketHandler(hub *services.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		username := c.GetString("username")

		services.HandleWebSocket(hub, c.Writer, c.Request, userID, username)
	}
}
