package handlers

import (
	"net/http"
	"strconv"
	"time"
)

const (
	defaultChannelPage = 20
	maxChannelPage     = 100
)

// ChannelInfo is one public room in GET /channels.
type ChannelInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MessageCount int64  `json:"message_count"`
	LastActive   string `json:"last_active"`
}

// ChannelListResponse is one offset page of public rooms, most recently
// active first. NextOffset is set while more rooms follow.
type ChannelListResponse struct {
	Channels   []ChannelInfo `json:"channels"`
	Total      int           `json:"total"`
	NextOffset *int          `json:"next_offset,omitempty"`
}

// queryInt reads a non-negative integer query parameter, falling back to
// def when it is missing or malformed.
func queryInt(r *http.Request, name string, def int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || n < 0 {
		return def
	}
	return n
}

// ListChannels handles GET /channels?limit=&offset=.
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultChannelPage)
	if limit == 0 {
		limit = defaultChannelPage
	}
	limit = min(limit, maxChannelPage)
	offset := queryInt(r, "offset", 0)

	rooms, total, err := h.data.ListPublicRooms(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("list rooms failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	resp := ChannelListResponse{
		Channels: make([]ChannelInfo, 0, len(rooms)),
		Total:    total,
	}
	for _, room := range rooms {
		resp.Channels = append(resp.Channels, ChannelInfo{
			ID:           room.ID.String(),
			Name:         room.Name,
			MessageCount: room.MessageCount,
			LastActive:   room.LastActiveAt.UTC().Format(time.RFC3339),
		})
	}
	if next := offset + len(rooms); len(rooms) > 0 && next < total {
		resp.NextOffset = &next
	}

	h.JSON(w, http.StatusOK, resp)
}
