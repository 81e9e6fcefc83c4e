package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		ctype  string
		body   string
		want   int
	}{
		{"plain get", http.MethodGet, "/room/abc?limit=5", "", "", http.StatusNoContent},
		{"json post", http.MethodPost, "/room/abc", "application/json; charset=utf-8", `{}`, http.StatusNoContent},
		{"form post", http.MethodPost, "/room/abc", "application/x-www-form-urlencoded", "a=b", http.StatusUnsupportedMediaType},
		{"empty post", http.MethodPost, "/room/abc", "", "", http.StatusNoContent},
		{"traversal", http.MethodGet, "/room/../etc", "", "", http.StatusBadRequest},
		{"script in query", http.MethodGet, "/channels?q=%3Cscript%3E", "", "", http.StatusNoContent},
		{"raw script in query", http.MethodGet, "/channels?q=<script>", "", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://example.com/", strings.NewReader(tt.body))
			req.URL.Path, req.URL.RawQuery, _ = strings.Cut(tt.target, "?")
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			rec := httptest.NewRecorder()
			ValidateRequest(okHandler).ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSecurityHeadersHSTSOnlyOverHTTPS(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestMaxBodySize(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/room", strings.NewReader(strings.Repeat("a", 64)))
	rec := httptest.NewRecorder()
	MaxBodySize(16)(okHandler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
