// Package normalize converts platform-specific chat events into one
// message shape the rest of the service consumes, including a stable
// display color derived from the author's platform identifier.
package normalize

import (
	"time"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"
	yt "google.golang.org/api/youtube/v3"
)

// Platform identifies the message origin.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

// Message is the normalized chat message. Every field is always set:
// missing upstream values get deterministic fallbacks so consumers never
// branch on platform.
type Message struct {
	ID         string
	Platform   Platform
	Channel    string
	Author     string
	AuthorID   string
	Text       string
	Color      string
	ReceivedAt time.Time
}

// FromTwitch converts an IRC PRIVMSG. Twitch supplies a user-chosen color
// tag for most authors; when absent a color is derived from the user id,
// which survives display-name changes.
func FromTwitch(m twitchirc.PrivateMessage) Message {
	author := m.User.DisplayName
	if author == "" {
		author = m.User.Name
	}
	color := m.User.Color
	if color == "" {
		seed := m.User.ID
		if seed == "" {
			seed = m.User.Name
		}
		color = AuthorColor(seed)
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}
	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return Message{
		ID:         id,
		Platform:   PlatformTwitch,
		Channel:    m.Channel,
		Author:     author,
		AuthorID:   m.User.ID,
		Text:       m.Message,
		Color:      color,
		ReceivedAt: ts,
	}
}

// FromYouTube converts a liveChatMessages resource. YouTube has no author
// color concept, so the color is always derived from the author's channel
// id; a rename must not change an author's color.
func FromYouTube(channel string, m *yt.LiveChatMessage) Message {
	msg := Message{
		ID:         m.Id,
		Platform:   PlatformYouTube,
		Channel:    channel,
		ReceivedAt: time.Now(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if m.AuthorDetails != nil {
		msg.Author = m.AuthorDetails.DisplayName
		msg.AuthorID = m.AuthorDetails.ChannelId
	}
	if m.Snippet != nil {
		msg.Text = m.Snippet.DisplayMessage
		if ts, err := time.Parse(time.RFC3339, m.Snippet.PublishedAt); err == nil {
			msg.ReceivedAt = ts
		}
	}
	seed := msg.AuthorID
	if seed == "" {
		seed = msg.Author
	}
	msg.Color = AuthorColor(seed)
	return msg
}
