package notify

import (
	"context"
	"html"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender posts to a chat through the Bot API sendMessage method.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
}

// NewTelegramSender creates a TelegramSender for a bot token and chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{baseURL: telegramAPI, token: token, chatID: chatID}
}

// Send renders the title in bold. Market questions are user text, so both
// parts are HTML-escaped.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, newHTTPClient(), t.Name(),
		strings.TrimRight(t.baseURL, "/")+"/bot"+t.token+"/sendMessage",
		map[string]any{
			"chat_id":                  t.chatID,
			"text":                     "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message),
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		})
}

// Name returns "telegram".
func (t *TelegramSender) Name() string {
	return "telegram"
}
