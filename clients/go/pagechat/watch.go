package pagechat

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eldtechnologies/pagechat/internal/feed"
)

// watchFrame mirrors the server's websocket frame.
type watchFrame struct {
	Messages []Message `json:"messages"`
	Error    string    `json:"error,omitempty"`
}

// Watch implements feed.Source over the room's websocket endpoint. The
// server pushes a fresh page whenever the room changes. A server error
// frame or a dropped connection ends the stream with Snapshot.Err.
func (c *Client) Watch(ctx context.Context, q feed.Query) (<-chan feed.Snapshot, error) {
	u, err := c.watchURL(q)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if c.RoomKey != "" {
		header.Set("X-Pagechat-Room-Key", c.RoomKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, err
	}

	out := make(chan feed.Snapshot, 1)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer close(out)
		defer close(done)
		for {
			var frame watchFrame
			if err := conn.ReadJSON(&frame); err != nil {
				if ctx.Err() == nil {
					send(ctx, out, feed.Snapshot{Err: err})
				}
				return
			}
			if frame.Error != "" {
				send(ctx, out, feed.Snapshot{Err: errors.New(frame.Error)})
				return
			}
			if !send(ctx, out, feed.Snapshot{Messages: toModels(q.RoomID, frame.Messages)}) {
				return
			}
		}
	}()

	return out, nil
}

func (c *Client) watchURL(q feed.Query) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/room/" + url.PathEscape(q.RoomID) + "/watch"
	u.RawQuery = strings.TrimPrefix(pageQuery(q.Limit, q.Before), "?")
	return u.String(), nil
}

func send(ctx context.Context, out chan<- feed.Snapshot, snap feed.Snapshot) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}
