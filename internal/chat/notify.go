package chat

import (
	"strings"

	"github.com/gen2brain/beeep"

	"github.com/adamavenir/huddle/internal/render"
	"github.com/adamavenir/huddle/internal/types"
)

const notificationLimit = 100

// SendNotification sends an OS notification for a message.
func SendNotification(msg types.Message, room string) error {
	author := msg.Author
	if author == "" {
		author = render.DefaultAuthor
	}
	title := "@" + author
	if room != "" {
		title = room + " · " + title
	}
	body := msg.VisibleBody()
	if body == "" && msg.Attachment != nil {
		body = "📎 " + string(msg.Attachment.Kind)
	}
	return beeep.Notify(title, truncateNotification(body, notificationLimit), "")
}

func truncateNotification(s string, maxLen int) string {
	// Collapse whitespace for notification
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
