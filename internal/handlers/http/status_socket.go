package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StatusSocket pushes every status snapshot to the client, starting with the
// current one. Inbound frames are ignored.
func (h *ControlHandler) StatusSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnw("status websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.feed.Subscribe(8)
	defer unsubscribe()

	readTimeout := 2 * h.cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	errorChan := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				errorChan <- err
				return
			}
		}
	}()

	pingTicker := time.NewTicker(h.cfg.PingInterval)
	defer pingTicker.Stop()

	h.logger.Debugw("status subscriber connected", "remote_addr", c.ClientIP())

	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				h.logger.Debugw("status push failed", "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.logger.Debugw("status ping failed", "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("status subscriber read error", "error", err)
			}
			h.logger.Debugw("status subscriber disconnected", "remote_addr", c.ClientIP())
			return
		}
	}
}
