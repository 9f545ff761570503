package stream

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler streams hub quotes to websocket clients as JSON text
// frames. The code query parameter picks one instrument; without it every
// quote is sent. The connection is closed normally when the hub stops.
func WebSocketHandler(h *Hub, logger zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("code")))
		if code == "" {
			code = All
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ch := h.Subscribe(code)
		logger.Debug().Str("code", code).Str("remote", r.RemoteAddr).Msg("quote stream opened")

		// Clients never send data; reading only surfaces their close.
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case q, ok := <-ch:
				if !ok {
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session over")
					_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(q); err != nil {
					logger.Debug().Err(err).Str("code", code).Msg("quote stream write failed")
					h.Unsubscribe(code, ch)
					return
				}
			case <-gone:
				h.Unsubscribe(code, ch)
				return
			}
		}
	})
}
