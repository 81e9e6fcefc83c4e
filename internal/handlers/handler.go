package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/pagechat/internal/feed"
	"github.com/eldtechnologies/pagechat/internal/store"
)

// Pinger is anything the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	data     store.DataStore
	messages store.MessageStore
	feed     feed.Source
	checks   map[string]Pinger
	logger   zerolog.Logger
	pageSize int
}

// NewHandler creates a new Handler with the given stores. pageSize is the
// page returned by GET /room/{id} when no ?limit= is given.
func NewHandler(data store.DataStore, messages store.MessageStore, logger zerolog.Logger, pageSize int) *Handler {
	if pageSize <= 0 {
		pageSize = feed.DefaultPageSize
	}
	return &Handler{
		data:     data,
		messages: messages,
		feed:     store.NewFeedSource(messages, logger),
		checks: map[string]Pinger{
			"database": data,
			"messages": messages,
		},
		logger:   logger,
		pageSize: pageSize,
	}
}

// AddCheck registers another dependency for GET /health.
func (h *Handler) AddCheck(name string, p Pinger) {
	h.checks[name] = p
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeName trims and limits name to 100 bytes, removing control characters.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, strings.TrimSpace(name))

	for len(name) > 100 {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}
