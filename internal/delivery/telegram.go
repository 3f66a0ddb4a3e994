package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/samims/keepsake/internal/config"
	appErr "github.com/samims/keepsake/internal/errors"
)

// TelegramPrefix marks a contact address as a Telegram chat id.
const TelegramPrefix = "telegram:"

// TelegramChannel delivers keepsakes through the Telegram Bot API.
type TelegramChannel struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegramChannel creates a Telegram channel with the given bot token.
func NewTelegramChannel(cfg config.TelegramConfig, client *http.Client) *TelegramChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &TelegramChannel{
		token:   cfg.Token,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
	}
}

func (c *TelegramChannel) Name() string { return "telegram" }

// sendMessageRequest represents the payload for the Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Send posts the keepsake to the chat named by msg.To.
// 4xx answers other than 429 are permanent; everything else is retried on a later run.
func (c *TelegramChannel) Send(ctx context.Context, msg Message) error {
	chatID := strings.TrimPrefix(msg.To, TelegramPrefix)
	if chatID == "" {
		return appErr.Permanent("telegram address", fmt.Errorf("empty chat id"))
	}

	body, err := json.Marshal(sendMessageRequest{
		ChatID: chatID,
		Text:   msg.Subject + "\n\n" + msg.Body,
	})
	if err != nil {
		return appErr.Permanent("telegram marshal", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return appErr.Permanent("telegram request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return appErr.Transient("telegram send", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return appErr.Transient("telegram send", fmt.Errorf("telegram API error: %s", resp.Status))
	default:
		return appErr.Permanent("telegram send", fmt.Errorf("telegram API error: %s", resp.Status))
	}
}

// Ping calls getMe to confirm the bot token is accepted.
func (c *TelegramChannel) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("getMe"), nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API error: %s", resp.Status)
	}
	return nil
}

func (c *TelegramChannel) url(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}
