package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"arbscan/internal/config"
)

// TelegramSender delivers alerts via the Telegram Bot API.
type TelegramSender struct {
	httpClient *resty.Client
	token      string
	chatID     string
}

// NewTelegramSender creates a sender for cfg's bot token and chat id.
func NewTelegramSender(cfg config.TelegramConfig) *TelegramSender {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.telegram.org"
	}
	return &TelegramSender{
		httpClient: resty.New().
			SetBaseURL(base).
			SetTimeout(10 * time.Second).
			SetRetryCount(1).
			SetRetryWaitTime(time.Second),
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
	}
}

func (t *TelegramSender) Name() string { return "telegram" }

// Send posts the alert to the configured chat. The title is rendered bold.
func (t *TelegramSender) Send(ctx context.Context, a Alert) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", a.Title, a.Message),
		"parse_mode": "Markdown",
	}

	resp, err := t.httpClient.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(payload).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	if resp.IsError() {
		body := resp.String()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode(), body)
	}
	return nil
}
