package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The server binds to loopback; cross-origin hosts are the normal
	// clients (editor webviews).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamEvents pushes broker events to the client until either side
// closes. Slow clients fall behind and miss events rather than stalling
// the broker; this mirrors the broker's own drop policy.
func (a *App) streamEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub := a.manager.Broker().Subscribe(256)
	defer a.manager.Broker().Unsubscribe(sub)

	// Reader goroutine only to observe the client closing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
