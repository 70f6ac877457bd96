package notify

import (
	"context"
	"html"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender sends alerts with the Telegram Bot API sendMessage method.
// Text is sent as HTML so symbols containing underscores or asterisks are
// not mangled by Markdown parsing.
type TelegramSender struct {
	baseURL string
	token   string
	chatID  string
	client  httpDoer
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		baseURL: telegramAPI,
		token:   token,
		chatID:  chatID,
		client:  newHTTPClient(),
	}
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, t.client, t.Name(), t.baseURL+"/bot"+t.token+"/sendMessage", telegramMessage{
		ChatID:                t.chatID,
		Text:                  "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
}

func (t *TelegramSender) Name() string { return "telegram" }
