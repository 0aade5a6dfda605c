package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/homebank/internal/auth"
)

// HandleWebSocket upgrades an authenticated request and runs it as a Hub
// client until the connection closes.
func HandleWebSocket(hub *Hub, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			InsecureSkipVerify: true, // household LAN, any origin
		})
		if err != nil {
			logger.Warn("websocket accept", "user_id", ac.UserID, "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, ac.UserID).Run(r.Context())
	}
}
