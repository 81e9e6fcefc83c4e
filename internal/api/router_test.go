package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/pagechat/internal/api/middleware"
	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/handlers"
	"github.com/eldtechnologies/pagechat/internal/models"
	"github.com/eldtechnologies/pagechat/internal/store"
)

type testAgent struct {
	id   string
	priv string
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	s := store.NewMemoryStore()
	router, _ := NewRouter(zerolog.Nop(), Deps{
		Data:      s,
		Messages:  s,
		Nonces:    s,
		Limits:    middleware.NewLocalBackend(),
		PageSize:  20,
		RateLimit: middleware.RateLimiterConfig{Whitelist: []string{"127.0.0.1", "::1"}},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, req *http.Request, out any) int {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func register(t *testing.T, srv *httptest.Server) testAgent {
	t.Helper()
	pub, priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/register",
		strings.NewReader(`{"public_key":"`+pub+`","name":"tester"}`))
	req.Header.Set("Content-Type", "application/json")

	var resp handlers.RegisterResponse
	require.Equal(t, http.StatusCreated, do(t, req, &resp))
	return testAgent{id: resp.ID, priv: priv}
}

func (a testAgent) post(t *testing.T, srv *httptest.Server, path, body string, header http.Header) *http.Request {
	t.Helper()
	priv, err := crypto.ParsePrivateKey(a.priv)
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	nonce := crypto.NewNonce()
	ts := time.Now().UnixMilli()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderAgent, a.id)
	req.Header.Set(middleware.HeaderNonce, nonce)
	req.Header.Set(middleware.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(middleware.HeaderSignature, crypto.SignRequest(priv, []byte(body), nonce, ts))
	return req
}

func getPage(t *testing.T, srv *httptest.Server, query string) handlers.RoomMessagesResponse {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/room/"+models.GlobalRoomID+query, nil)
	var page handlers.RoomMessagesResponse
	require.Equal(t, http.StatusOK, do(t, req, &page))
	return page
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	var resp handlers.HealthResponse
	require.Equal(t, http.StatusOK, do(t, req, &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestRegisterIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	pub, _, err := crypto.GenerateKey()
	require.NoError(t, err)

	body := `{"public_key":"` + pub + `"}`
	var first, second handlers.RegisterResponse

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusCreated, do(t, req, &first))

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	require.Equal(t, http.StatusOK, do(t, req, &second))

	assert.Equal(t, first.ID, second.ID)
}

func TestPostAndPage(t *testing.T) {
	srv := newTestServer(t)
	agent := register(t, srv)
	path := "/room/" + models.GlobalRoomID

	for i := 0; i < 5; i++ {
		var resp handlers.PostMessageResponse
		code := do(t, agent.post(t, srv, path, `{"body":"  msg `+strconv.Itoa(i)+` "}`, nil), &resp)
		require.Equal(t, http.StatusCreated, code)
		assert.NotEmpty(t, resp.ID)
		assert.NotZero(t, resp.Timestamp)
	}

	head := getPage(t, srv, "?limit=2")
	require.Len(t, head.Messages, 2)
	assert.Equal(t, "msg 4", head.Messages[0].Body)
	assert.Equal(t, agent.id, head.Messages[0].From)
	assert.True(t, head.HasMore)

	older := getPage(t, srv, "?limit=2&before="+strconv.FormatInt(head.Messages[1].Timestamp, 10))
	require.Len(t, older.Messages, 2)
	assert.Equal(t, "msg 2", older.Messages[0].Body)
	assert.Equal(t, "msg 1", older.Messages[1].Body)
	assert.True(t, older.HasMore)

	last := getPage(t, srv, "?limit=2&before="+strconv.FormatInt(older.Messages[1].Timestamp, 10))
	require.Len(t, last.Messages, 1)
	assert.False(t, last.HasMore)
}

func TestPostRetryWithSameID(t *testing.T) {
	srv := newTestServer(t)
	agent := register(t, srv)
	path := "/room/" + models.GlobalRoomID
	body := `{"id":"` + ulid.Make().String() + `","body":"once"}`

	var first, retry handlers.PostMessageResponse
	require.Equal(t, http.StatusCreated, do(t, agent.post(t, srv, path, body, nil), &first))
	require.Equal(t, http.StatusOK, do(t, agent.post(t, srv, path, body, nil), &retry))
	assert.Equal(t, first, retry)

	page := getPage(t, srv, "")
	require.Len(t, page.Messages, 1)
	assert.Equal(t, first.ID, page.Messages[0].ID)
	assert.Equal(t, first.Timestamp, page.Messages[0].Timestamp)
}

func TestPostValidation(t *testing.T) {
	srv := newTestServer(t)
	agent := register(t, srv)
	path := "/room/" + models.GlobalRoomID

	tests := []struct {
		name string
		body string
		want int
	}{
		{"blank", `{"body":"   "}`, http.StatusBadRequest},
		{"control only", `{"body":"\u0000\u0007"}`, http.StatusBadRequest},
		{"too long", `{"body":"` + strings.Repeat("a", 4097) + `"}`, http.StatusUnprocessableEntity},
		{"bad id", `{"id":"nope","body":"hi"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, do(t, agent.post(t, srv, path, tt.body, nil), nil))
		})
	}
}

func TestPostRequiresSignature(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/room/"+models.GlobalRoomID, strings.NewReader(`{"body":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, do(t, req, nil))
}

func TestPrivateRoom(t *testing.T) {
	srv := newTestServer(t)
	agent := register(t, srv)

	var room handlers.CreateRoomResponse
	code := do(t, agent.post(t, srv, "/room", `{"name":"secret","is_private":true,"key":"0123456789abcdef"}`, nil), &room)
	require.Equal(t, http.StatusCreated, code)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/room/"+room.ID, nil)
	assert.Equal(t, http.StatusForbidden, do(t, req, nil))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/room/"+room.ID, nil)
	req.Header.Set(handlers.RoomKeyHeader, "wrong-key-wrong-key")
	assert.Equal(t, http.StatusForbidden, do(t, req, nil))

	key := http.Header{}
	key.Set(handlers.RoomKeyHeader, "0123456789abcdef")
	assert.Equal(t, http.StatusCreated, do(t, agent.post(t, srv, "/room/"+room.ID, `{"body":"psst"}`, key), nil))

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/room/"+room.ID, nil)
	req.Header.Set(handlers.RoomKeyHeader, "0123456789abcdef")
	var page handlers.RoomMessagesResponse
	require.Equal(t, http.StatusOK, do(t, req, &page))
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "psst", page.Messages[0].Body)

	// Private rooms stay off the public channel list.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/channels", nil)
	var channels handlers.ChannelListResponse
	require.Equal(t, http.StatusOK, do(t, req, &channels))
	for _, ch := range channels.Channels {
		assert.NotEqual(t, room.ID, ch.ID)
	}
}

func TestWatchRoom(t *testing.T) {
	srv := newTestServer(t)
	agent := register(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/room/" + models.GlobalRoomID + "/watch?limit=5"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var frame handlers.WatchFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Empty(t, frame.Messages)
	assert.Empty(t, frame.Error)

	code := do(t, agent.post(t, srv, "/room/"+models.GlobalRoomID, `{"body":"live"}`, nil), nil)
	require.Equal(t, http.StatusCreated, code)

	require.NoError(t, conn.ReadJSON(&frame))
	require.Len(t, frame.Messages, 1)
	assert.Equal(t, "live", frame.Messages[0].Body)
}

func TestWatchUnknownRoom(t *testing.T) {
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/room/00000000-0000-0000-0000-00000000ffff/watch"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
