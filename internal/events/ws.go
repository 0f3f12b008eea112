package events

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS は接続をWebSocketへアップグレードし、指定ジョブのイベントをJSONで配信します。
// jobIDs が空の場合は全ジョブを購読します。接続が切れた時点で購読は解除され、
// 切断中に発生したイベントが再送されることはありません。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, jobIDs []string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("events: websocket upgrade failed: %v", err)
		return
	}

	ch, cancel := h.Subscribe(jobIDs...)
	h.logger.Printf("events: client connected (subscribers: %d)", h.SubscriberCount())

	// クライアントからの受信は切断検知のためだけに読み捨てます。
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		cancel()
		conn.Close()
		h.logger.Printf("events: client disconnected (subscribers: %d)", h.SubscriberCount())
	}()

	for event := range ch {
		if err := conn.WriteJSON(event); err != nil {
			h.logger.Printf("events: failed to send %s event to client: %v", event.Type, err)
			return
		}
	}
}
