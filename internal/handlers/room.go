package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/pagechat/internal/api/middleware"
	"github.com/eldtechnologies/pagechat/internal/feed"
	"github.com/eldtechnologies/pagechat/internal/metrics"
	"github.com/eldtechnologies/pagechat/internal/models"
	"github.com/eldtechnologies/pagechat/internal/store"
)

// RoomKeyHeader carries the shared secret of a private room.
const RoomKeyHeader = "X-Pagechat-Room-Key"

const maxPageSize = 200

// Room name validation: alphanumeric, hyphens, underscores, 1-50 chars
var roomNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,50}$`)

// CreateRoomRequest represents the room creation request.
type CreateRoomRequest struct {
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
	Key       string `json:"key,omitempty"` // Shared secret for private rooms
}

// CreateRoomResponse represents the room creation response.
type CreateRoomResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	IsPrivate bool   `json:"is_private"`
}

// RoomInfo represents basic room information.
type RoomInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
}

// RoomMessagesResponse represents the get room messages response.
type RoomMessagesResponse struct {
	Room     RoomInfo          `json:"room"`
	Messages []MessageResponse `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// PostMessageRequest represents the post message request. ID is optional;
// clients that want idempotent retries send their own ULID, and a retry is
// answered 200 with the original timestamp.
type PostMessageRequest struct {
	ID   string `json:"id,omitempty"`
	Body string `json:"body"`
}

// PostMessageResponse represents the post message response.
type PostMessageResponse struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

func toMessageResponses(messages []models.Message) []MessageResponse {
	out := make([]MessageResponse, len(messages))
	for i, msg := range messages {
		out[i] = MessageResponse{
			ID:        msg.ID,
			From:      msg.AuthorID,
			Body:      msg.Body,
			Timestamp: msg.CreatedAt,
		}
	}
	return out
}

// CreateRoom handles room creation (authenticated).
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}
	if !roomNameRegex.MatchString(req.Name) {
		h.Error(w, http.StatusBadRequest, "name must be 1-50 characters, alphanumeric with hyphens and underscores only")
		return
	}

	var keyHash string
	if req.IsPrivate {
		if len(req.Key) < 16 {
			h.Error(w, http.StatusBadRequest, "private rooms require key (min 16 chars)")
			return
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Key), bcrypt.DefaultCost)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "failed to hash room key")
			return
		}
		keyHash = string(hash)
	}

	room, err := h.data.CreateRoom(r.Context(), req.Name, req.IsPrivate, keyHash, &agent.ID)
	if err != nil {
		h.logger.Error().Err(err).Msg("create room failed")
		h.Error(w, http.StatusInternalServerError, "failed to create room")
		return
	}

	h.JSON(w, http.StatusCreated, CreateRoomResponse{
		ID:        room.ID.String(),
		Name:      room.Name,
		IsPrivate: room.IsPrivate,
	})
}

// loadRoom resolves the {id} URL parameter and checks the room key of
// private rooms. On failure it has already written the response.
func (h *Handler) loadRoom(w http.ResponseWriter, r *http.Request) (*models.Room, bool) {
	roomID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid room ID format")
		return nil, false
	}

	room, err := h.data.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return nil, false
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return nil, false
	}

	if room.IsPrivate {
		providedKey := r.Header.Get(RoomKeyHeader)
		if providedKey == "" {
			h.Error(w, http.StatusForbidden, "room key required for private rooms")
			return nil, false
		}

		keyHash, err := h.data.GetRoomKeyHash(r.Context(), roomID)
		if err != nil {
			h.Error(w, http.StatusInternalServerError, "database error")
			return nil, false
		}

		if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(providedKey)); err != nil {
			h.Error(w, http.StatusForbidden, "invalid room key")
			return nil, false
		}
	}

	return room, true
}

// pageParams parses ?limit= and ?before=. Bad values fall back to the
// defaults rather than failing the request.
func (h *Handler) pageParams(r *http.Request) (limit int, before int64) {
	limit = h.pageSize
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		limit = l
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if b, err := strconv.ParseInt(r.URL.Query().Get("before"), 10, 64); err == nil && b > 0 {
		before = b
	}
	return limit, before
}

// GetRoomMessages handles fetching one page of messages from a room.
func (h *Handler) GetRoomMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.loadRoom(w, r)
	if !ok {
		return
	}
	limit, before := h.pageParams(r)

	// One extra row answers has_more.
	messages, err := h.messages.GetRoomMessages(r.Context(), room.ID.String(), limit+1, before)
	if err != nil {
		h.logger.Error().Err(err).Str("room", room.ID.String()).Msg("fetch messages failed")
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	kind := "head"
	if before > 0 {
		kind = "older"
	}
	metrics.PagesServed.WithLabelValues(kind).Inc()

	h.JSON(w, http.StatusOK, RoomMessagesResponse{
		Room: RoomInfo{
			ID:   room.ID.String(),
			Name: room.Name,
		},
		Messages: toMessageResponses(messages),
		HasMore:  hasMore,
	})
}

// PostMessage handles posting a message to a room (authenticated).
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	room, ok := h.loadRoom(w, r)
	if !ok {
		return
	}

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if len(req.Body) > feed.MaxMessageBytes {
		h.Error(w, http.StatusUnprocessableEntity, "body too long (max 4096 bytes)")
		return
	}
	body := feed.Sanitize(req.Body)
	if body == "" {
		h.Error(w, http.StatusBadRequest, "body is required")
		return
	}
	if req.ID != "" {
		if _, err := ulid.ParseStrict(req.ID); err != nil {
			h.Error(w, http.StatusBadRequest, "id must be a ULID")
			return
		}
	}

	msg := &models.Message{
		ID:       req.ID,
		RoomID:   room.ID.String(),
		AuthorID: agent.ID.String(),
		Body:     body,
	}

	// The store assigns CreatedAt, and the ID when none was sent.
	err := h.messages.AddMessage(r.Context(), msg)
	if errors.Is(err, store.ErrMessageExists) {
		h.JSON(w, http.StatusOK, PostMessageResponse{
			ID:        msg.ID,
			Timestamp: msg.CreatedAt,
		})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("room", msg.RoomID).Msg("store message failed")
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}

	if err := h.data.IncrementMessageCount(r.Context(), room.ID); err != nil {
		h.logger.Warn().Err(err).Str("room", msg.RoomID).Msg("increment message count failed")
	}

	roomType := "public"
	if room.IsPrivate {
		roomType = "private"
	}
	metrics.MessagesPosted.WithLabelValues(roomType).Inc()

	h.JSON(w, http.StatusCreated, PostMessageResponse{
		ID:        msg.ID,
		Timestamp: msg.CreatedAt,
	})
}
