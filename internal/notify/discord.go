package notify

import (
	"context"
	"unicode/utf8"
)

// discordContentLimit is the webhook content cap in characters.
const discordContentLimit = 2000

// DiscordSender posts to a Discord webhook.
type DiscordSender struct {
	webhookURL string
}

// NewDiscordSender creates a DiscordSender for a webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL}
}

// Send renders the title in bold and truncates to the webhook limit.
// Mentions are disabled because messages carry user-supplied questions.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	content := "**" + title + "**\n" + message
	if utf8.RuneCountInString(content) > discordContentLimit {
		content = string([]rune(content)[:discordContentLimit-1]) + "…"
	}
	return postJSON(ctx, newHTTPClient(), d.Name(), d.webhookURL, map[string]any{
		"content":          content,
		"allowed_mentions": map[string]any{"parse": []string{}},
	})
}

// Name returns "discord".
func (d *DiscordSender) Name() string {
	return "discord"
}
