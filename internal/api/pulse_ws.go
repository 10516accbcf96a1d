package api

import (
	"crypto/subtle"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"pisowifi-backend/internal/coin"
)

// pulseWebSocketHandler handles GET /api/hw/pulses: the coin controller
// firmware connects once and streams a JSON frame per electrical pulse.
func pulseWebSocketHandler(c echo.Context) error {
	if deps.HardwareToken != "" {
		token := c.QueryParam("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(deps.HardwareToken)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid hardware token"})
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	ws, err := upgrader.Upgrade(c.Response().Writer, c.Request(), nil)
	if err != nil {
		log.Printf("pulse websocket: upgrade failed: %v", err)
		return err
	}
	defer ws.Close()

	log.Printf("pulse websocket: coin controller connected from %s", c.RealIP())

	for {
		var ev coin.PulseEvent
		if err := ws.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("pulse websocket: read error: %v", err)
			}
			break
		}
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		deps.Aggregator.Pulse(ev)
	}

	log.Printf("pulse websocket: coin controller disconnected")
	return nil
}
