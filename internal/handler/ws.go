package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"flirtmarket/internal/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Telegram Web Apps are served from Telegram's origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BalanceStream pushes the caller's balance changes over a WebSocket.
// GET /api/v1/ws
//
// The first frame carries the current balance so the client mirror can
// reconcile before any change arrives.
func (h *Handler) BalanceStream(c *gin.Context) {
	id, ok := h.identity(c)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	events, cancel := h.Hub.Subscribe(id.AccountID, 32)
	defer cancel()

	bal, err := h.Store.Balance(c.Request.Context(), id.AccountID)
	if err != nil {
		h.log.Error("websocket initial balance", "account_id", id.AccountID, "err", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(realtime.BalanceEvent{AccountID: id.AccountID, Balance: bal, Reason: "snapshot", At: time.Now().UTC()}); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
