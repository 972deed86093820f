// WebSocket endpoint.
//
// Authentication happens before the socket joins anything: the route is
// registered behind the JWT middleware, so by the time the upgrade runs the
// user identity in the Gin context has been verified. The connection is
// auto-joined to the group named after that identity; clients may join
// additional groups with join_room/leave_room control messages.
package realtime

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/socialhub/go-social-backend/internal/http/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-origin policy is enforced by the CORS layer and the token check;
	// the handshake accepts any Origin.
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// controlMessage is what clients send to manage group membership.
type controlMessage struct {
	Action string `json:"action"` // "join_room" | "leave_room"
	Room   string `json:"room"`
}

// ServeWS returns the Gin handler upgrading authenticated requests to
// WebSocket connections. Register it behind middleware.RequireAuth.
func ServeWS(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := middleware.UserIDFrom(c)
		lg := middleware.LoggerFrom(c)

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			lg.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		cl := &client{send: make(chan Envelope, sendBuffer)}
		hub.join(uid, cl)
		lg.Info().Str("user_id", uid).Msg("websocket connected")

		go writePump(conn, cl)
		readPump(conn, hub, cl, uid)

		hub.remove(cl)
		lg.Info().Str("user_id", uid).Msg("websocket disconnected")
	}
}

// readPump consumes control messages until the connection drops. It owns all
// reads on conn.
func readPump(conn *websocket.Conn, hub *Hub, cl *client, uid string) {
	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Action {
		case "join_room":
			// The private group is implicit; extra rooms are opt-in.
			if msg.Room != "" && msg.Room != uid {
				hub.join(msg.Room, cl)
			}
		case "leave_room":
			if msg.Room != "" && msg.Room != uid {
				hub.leave(msg.Room, cl)
			}
		}
	}
}

// writePump owns all writes on conn: queued envelopes plus keepalive pings.
func writePump(conn *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case env, open := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
