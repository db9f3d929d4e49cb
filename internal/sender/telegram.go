package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/config"
)

// TelegramNotifier pushes messages to a chat through the Telegram Bot API
type TelegramNotifier struct {
	baseURL string
	chatID  string
	client  *http.Client
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// NewTelegramNotifier creates a notifier for the configured bot and chat
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		baseURL: apiURL + "/bot" + cfg.BotToken,
		chatID:  cfg.ChatID,
		client:  &http.Client{Timeout: timeout},
	}
}

// Send posts an HTML-formatted message to the chat
func (n *TelegramNotifier) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/sendMessage", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if _, err := n.do(req); err != nil {
		return err
	}
	logrus.Info("Telegram notification sent successfully")
	return nil
}

// TestConnection calls getMe to verify the bot token
func (n *TelegramNotifier) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/getMe", nil)
	if err != nil {
		return fmt.Errorf("failed to create telegram request: %w", err)
	}

	result, err := n.do(req)
	if err != nil {
		return err
	}

	var bot struct {
		Username string `json:"username"`
	}
	if err := json.Unmarshal(result, &bot); err == nil && bot.Username != "" {
		logrus.Infof("Telegram bot connection successful: @%s", bot.Username)
	}
	return nil
}

func (n *TelegramNotifier) do(req *http.Request) (json.RawMessage, error) {
	resp, err := n.client.Do(req)
	if err != nil {
		// the request URL carries the bot token
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read telegram response: %w", err)
	}

	var parsed telegramResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("telegram API error: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || !parsed.OK {
		return nil, fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, parsed.Description)
	}
	return parsed.Result, nil
}
