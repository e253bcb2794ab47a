package rtm

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 512 * 1024
)

// WSHandler upgrades HTTP requests to WebSocket connections and runs the
// read/write pumps for each client.
type WSHandler struct {
	hub      *Hub
	router   *Router
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

func NewWSHandler(hub *Hub, router *Router, checkOrigin func(*http.Request) bool, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:    hub,
		router: router,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		log: log.With().Str("component", "rtm.ws").Logger(),
	}
}

// Serve upgrades the request and blocks until the connection closes. The
// accountID comes from the authenticated session.
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request, accountID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := h.hub.NewClient(accountID)
	h.log.Debug().Str("clientId", client.ID).Str("accountId", accountID).Msg("client connected")

	go h.writePump(conn, client)
	h.readPump(r.Context(), conn, client)
}

func (h *WSHandler) readPump(ctx context.Context, conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.CloseClient(client)
		_ = conn.Close()
		h.log.Debug().Str("clientId", client.ID).Msg("client disconnected")
	}()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Str("clientId", client.ID).Msg("unexpected close")
			}
			return
		}
		h.router.Dispatch(ctx, client, raw)
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.Outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.done:
			return
		}
	}
}
