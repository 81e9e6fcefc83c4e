package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/pagechat/internal/feed"
	"github.com/eldtechnologies/pagechat/internal/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Agents connect from anywhere, same as the CORS policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WatchFrame is one snapshot pushed to a websocket watcher. A frame with
// Error set is the last one before the server closes the connection.
type WatchFrame struct {
	Messages []MessageResponse `json:"messages"`
	Error    string            `json:"error,omitempty"`
}

// WatchRoom upgrades to a websocket and streams snapshots of the page
// selected by ?limit= and ?before=: once immediately, then after every
// change to the room.
func (h *Handler) WatchRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.loadRoom(w, r)
	if !ok {
		return
	}
	limit, before := h.pageParams(r)
	roomID := room.ID.String()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied.
		h.logger.Debug().Err(err).Str("room", roomID).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.ActiveWatchers.Inc()
	defer metrics.ActiveWatchers.Dec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := h.feed.Watch(ctx, feed.Query{RoomID: roomID, Limit: limit, Before: before})
	if err != nil {
		h.logger.Error().Err(err).Str("room", roomID).Msg("watch failed")
		writeFrame(conn, WatchFrame{Error: "watch unavailable"})
		return
	}

	go readPump(conn, cancel)

	log := h.logger.With().Str("room", roomID).Int("limit", limit).Int64("before", before).Logger()
	log.Debug().Msg("watcher connected")
	defer log.Debug().Msg("watcher disconnected")

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-stream:
			if !ok {
				return
			}
			if snap.Err != nil {
				log.Warn().Err(snap.Err).Msg("watch stream failed")
				writeFrame(conn, WatchFrame{Error: "feed unavailable"})
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "feed unavailable"),
					time.Now().Add(writeWait))
				return
			}
			if err := writeFrame(conn, WatchFrame{Messages: toMessageResponses(snap.Messages)}); err != nil {
				return
			}
			metrics.SnapshotsPushed.Inc()

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame WatchFrame) error {
	if frame.Messages == nil {
		frame.Messages = []MessageResponse{}
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(frame)
}

// readPump drains the connection so pongs and close frames are processed.
// Watchers never send data, so incoming messages are discarded.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
