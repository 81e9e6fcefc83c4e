package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/models"
	"github.com/eldtechnologies/pagechat/internal/store"
)

type signer struct {
	agent   *models.Agent
	privB64 string
}

func newSigner(t *testing.T, s *store.MemoryStore) signer {
	t.Helper()
	pub, priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	agent, err := s.CreateAgent(context.Background(), pub, "tester")
	require.NoError(t, err)
	return signer{agent: agent, privB64: priv}
}

func (s signer) request(t *testing.T, body, nonce string, ts int64) *http.Request {
	t.Helper()
	priv, err := crypto.ParsePrivateKey(s.privB64)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/room/x", strings.NewReader(body))
	req.Header.Set(HeaderAgent, s.agent.ID.String())
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, crypto.SignRequest(priv, []byte(body), nonce, ts))
	return req
}

func authHandler(s *store.MemoryStore) (http.Handler, *string) {
	var seen string
	m := NewAuthMiddleware(s, s)
	return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if agent := GetAgentFromContext(r.Context()); agent != nil {
			seen = agent.ID.String()
		}
		w.WriteHeader(http.StatusNoContent)
	})), &seen
}

func TestRequireAuthAcceptsSignedRequest(t *testing.T) {
	s := store.NewMemoryStore()
	sg := newSigner(t, s)
	h, seen := authHandler(s)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, sg.request(t, `{"body":"hi"}`, crypto.NewNonce(), time.Now().UnixMilli()))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, sg.agent.ID.String(), *seen)
}

func TestRequireAuthRejectsReplay(t *testing.T) {
	s := store.NewMemoryStore()
	sg := newSigner(t, s)
	h, _ := authHandler(s)

	nonce := crypto.NewNonce()
	ts := time.Now().UnixMilli()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, sg.request(t, `{}`, nonce, ts))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, sg.request(t, `{}`, nonce, ts))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "nonce already used")
}

func TestRequireAuthFailures(t *testing.T) {
	s := store.NewMemoryStore()
	sg := newSigner(t, s)
	h, _ := authHandler(s)
	now := time.Now().UnixMilli()

	tests := []struct {
		name    string
		req     func() *http.Request
		wantErr string
	}{
		{"missing headers", func() *http.Request {
			return httptest.NewRequest(http.MethodPost, "/room/x", nil)
		}, "missing auth headers"},
		{"expired", func() *http.Request {
			return sg.request(t, `{}`, crypto.NewNonce(), now-time.Minute.Milliseconds())
		}, "timestamp expired"},
		{"short nonce", func() *http.Request {
			return sg.request(t, `{}`, "short", now)
		}, "nonce must be"},
		{"tampered body", func() *http.Request {
			req := sg.request(t, `{"body":"a"}`, crypto.NewNonce(), now)
			req.Body = http.NoBody
			return req
		}, "invalid signature"},
		{"unknown agent", func() *http.Request {
			req := sg.request(t, `{}`, crypto.NewNonce(), now)
			req.Header.Set(HeaderAgent, "00000000-0000-0000-0000-00000000beef")
			return req
		}, "agent not found"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req())
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantErr)
		})
	}
}
