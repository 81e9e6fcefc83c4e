package tui

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eldtechnologies/pagechat/internal/models"
)

// renderMessages lays out msgs (newest first, as the controller keeps
// them) oldest at the top, the way a chat log reads.
func renderMessages(msgs []models.Message, self string, width int, now time.Time) string {
	if len(msgs) == 0 {
		return statusStyle.Render("No messages yet. Say hello!")
	}

	body := bodyStyle
	if width > 4 {
		body = body.Width(width - 2)
	}

	var b strings.Builder
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]

		author := authorStyle
		if self != "" && m.AuthorID == self {
			author = selfStyle
		}

		b.WriteString(author.Render(shortID(m.AuthorID)))
		b.WriteString(" ")
		b.WriteString(timeStyle.Render(humanize.RelTime(time.UnixMilli(m.CreatedAt), now, "ago", "from now")))
		b.WriteString("\n")
		b.WriteString(body.Render(m.Body))
		if i > 0 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
