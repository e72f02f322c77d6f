package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"dx-bots/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

// Telegram delivers the plain-text rendering of a message through the Bot API.
type Telegram struct {
	enabled bool
	chatID  string
	path    string
	http    *resty.Client
	log     *zap.Logger
}

type telegramReply struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, nil)
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, client *http.Client) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	token := strings.TrimSpace(cfg.Token)
	t := &Telegram{
		enabled: cfg.Enabled,
		chatID:  strings.TrimSpace(cfg.ChatID),
		http:    resty.NewWithClient(client).SetBaseURL(strings.TrimRight(baseURL, "/")),
		log:     log,
	}
	if token != "" {
		t.path = "/bot" + token + "/sendMessage"
	}
	return t
}

func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if !t.enabled {
		return nil
	}
	if t.path == "" || t.chatID == "" {
		return fmt.Errorf("%w: telegram token and chat_id are required", ErrTransport)
	}
	text := msg.Plain()
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: telegram message is empty", ErrTransport)
	}
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": t.chatID, "text": text}).
		Post(t.path)
	if err != nil {
		return fmt.Errorf("%w: telegram: %v", ErrTransport, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: telegram http %d: %s", ErrTransport, resp.StatusCode(), truncate(resp.String(), 2048))
	}
	var reply telegramReply
	if err := json.Unmarshal(resp.Body(), &reply); err == nil && !reply.OK {
		desc := strings.TrimSpace(reply.Description)
		if desc == "" {
			desc = "unknown error"
		}
		return fmt.Errorf("%w: telegram: %s", ErrTransport, desc)
	}
	t.log.Debug("telegram alert sent", zap.String("title", msg.Title))
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
