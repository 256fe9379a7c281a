package broadcast

import (
	"net/http"
	"time"

	"transit-pulse/internal/general/jwt"
	"transit-pulse/internal/general/logger"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	ctrlTimeout    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// WSGateway exposes the broadcast hub over WebSocket with JWT auth.
type WSGateway struct {
	logger *logger.Logger
	jwtMgr *jwt.Manager
	hub    *Hub
}

func NewWSGateway(log *logger.Logger, jwtMgr *jwt.Manager, hub *Hub) *WSGateway {
	return &WSGateway{logger: log, jwtMgr: jwtMgr, hub: hub}
}

// ConnectViewer serves the live-view stream. Riders may pass ?trip_id= to
// also receive that trip's monitor alerts; the gateway does not check who the
// trip belongs to, so clients should only subscribe to their own trip.
func (g *WSGateway) ConnectViewer(w http.ResponseWriter, r *http.Request) {
	// 1) Auth happens before the upgrade; token may arrive as a query param.
	raw, err := jwt.FromAuthorization(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	_, claims, err := g.jwtMgr.ParseAndValidate(raw)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// 2) Upgrade HTTP -> WS
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()

	tripID := r.URL.Query().Get("trip_id")
	sub := g.hub.Subscribe(tripID)
	defer g.hub.Unsubscribe(sub)

	g.logger.Info(r.Context(), "ws_connected", "Viewer WebSocket connected", map[string]any{
		"subject": claims.Subject,
		"trip_id": tripID,
	})

	conn.SetReadLimit(1 << 20) // 1 MiB
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	// 3) Reader goroutine: viewers never send data; drain to surface closes.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					g.logger.Error(r.Context(), "ws_unexpected_close", "Viewer connection closed unexpectedly", err, map[string]any{
						"subject": claims.Subject,
					})
				}
				return
			}
		}
	}()

	// 4) Writer loop: pump hub messages and pings until either side closes.
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				g.logger.Error(r.Context(), "ws_write_failed", "Failed to deliver broadcast payload", err, map[string]any{
					"subject": claims.Subject,
				})
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout)); err != nil {
				return
			}
		case <-readDone:
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
				time.Now().Add(ctrlTimeout),
			)
			return
		case <-r.Context().Done():
			return
		}
	}
}
