package feed

import (
	"sort"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// Window is an ordered, duplicate-free run of messages, newest first.
// It always covers a contiguous range of the store's order.
type Window struct {
	items    []models.Message
	complete bool // items reach the oldest message of the room
}

// Len returns the number of messages in the window.
func (w *Window) Len() int {
	return len(w.items)
}

// Items returns a copy of the window, newest first.
func (w *Window) Items() []models.Message {
	out := make([]models.Message, len(w.items))
	copy(out, w.items)
	return out
}

// Oldest returns the last message of the window.
func (w *Window) Oldest() (models.Message, bool) {
	if len(w.items) == 0 {
		return models.Message{}, false
	}
	return w.items[len(w.items)-1], true
}

// Newest returns the first message of the window.
func (w *Window) Newest() (models.Message, bool) {
	if len(w.items) == 0 {
		return models.Message{}, false
	}
	return w.items[0], true
}

// Reset empties the window.
func (w *Window) Reset() {
	w.items = nil
	w.complete = false
}

// Complete reports whether the last page merged showed there is nothing
// older than the window.
func (w *Window) Complete() bool {
	return w.complete
}

// MergeHead applies a snapshot of the newest limit messages. The snapshot
// replaces every window item inside the range it covers. When a full
// snapshot no longer overlaps the window, the messages in between are
// unknown and the window restarts from the snapshot; reset reports that.
func (w *Window) MergeHead(msgs []models.Message, limit int) (reset bool) {
	page := normalize(msgs)
	if len(page) == 0 {
		if len(msgs) == 0 {
			w.items = nil
			w.complete = true
		}
		return false
	}

	full := limit > 0 && len(page) >= limit
	oldest := page[len(page)-1]
	if full {
		if newest, ok := w.Newest(); ok && oldest.NewerThan(newest) {
			w.items = page
			w.complete = false
			return true
		}
		w.replace(page, &oldest, 0)
		return false
	}
	// A short head page is the whole room.
	w.items = page
	w.complete = true
	return false
}

// MergeOlder applies a page of messages strictly older than before. The
// page replaces the window items in the range it covers. A page with fewer
// than limit distinct messages marks the window complete.
func (w *Window) MergeOlder(msgs []models.Message, before int64, limit int) {
	page := normalize(msgs)
	var low *models.Message
	if limit > 0 && len(page) >= limit {
		low = &page[len(page)-1]
	}
	w.replace(page, low, before)
	if low == nil {
		w.complete = true
	}
}

// replace drops window items in [low, before) and merges page in. A nil low
// extends the range to the oldest end; before == 0 to the newest end.
func (w *Window) replace(page []models.Message, low *models.Message, before int64) {
	inRange := func(m models.Message) bool {
		if before > 0 && m.CreatedAt >= before {
			return false
		}
		if low != nil && low.NewerThan(m) {
			return false
		}
		return true
	}

	fresh := make(map[string]struct{}, len(page))
	for _, m := range page {
		fresh[m.ID] = struct{}{}
	}

	merged := make([]models.Message, 0, len(w.items)+len(page))
	for _, m := range w.items {
		if _, dup := fresh[m.ID]; dup || inRange(m) {
			continue
		}
		merged = append(merged, m)
	}
	merged = append(merged, page...)
	sortNewestFirst(merged)
	w.items = merged
}

// normalize sorts msgs newest first and removes repeated IDs, keeping the
// first occurrence.
func normalize(msgs []models.Message) []models.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	sortNewestFirst(out)
	return out
}

func sortNewestFirst(msgs []models.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].NewerThan(msgs[j])
	})
}
