package httpserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 5 * time.Second

// ServeWS streams the same messages as ServeHTTP over a websocket. Messages
// from the client are read and discarded so close frames are noticed.
func (b *EventBroker) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer ws.Close()

	messageChan, ok := b.subscribe()
	if !ok {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"),
			time.Now().Add(wsWriteTimeout))
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			b.unsubscribe(messageChan)
			return
		case msg, open := <-messageChan:
			if !open {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(wsWriteTimeout))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				b.log.Debug("websocket write", zap.Error(err))
				b.unsubscribe(messageChan)
				return
			}
		}
	}
}
