package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dx-bots/internal/config"

	"go.uber.org/zap"
)

// Slack posts attachment-style messages to an incoming webhook.
type Slack struct {
	enabled    bool
	webhookURL string
	channel    string
	client     *http.Client
	log        *zap.Logger
}

type slackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	TS     int64        `json:"ts,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func NewSlack(cfg config.SlackConfig, log *zap.Logger) *Slack {
	return newSlack(cfg, log, &http.Client{Timeout: 10 * time.Second})
}

func newSlack(cfg config.SlackConfig, log *zap.Logger, client *http.Client) *Slack {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Slack{
		enabled:    cfg.Enabled,
		webhookURL: strings.TrimSpace(cfg.WebhookURL),
		channel:    strings.TrimSpace(cfg.Channel),
		client:     client,
		log:        log,
	}
}

func (s *Slack) Send(ctx context.Context, msg Message) error {
	if !s.enabled {
		return nil
	}
	if s.webhookURL == "" {
		return fmt.Errorf("%w: slack webhook_url is required", ErrTransport)
	}
	attachment := slackAttachment{
		Color:  slackColor(msg.Level),
		Title:  msg.Title,
		Text:   msg.Text,
		Footer: "dx-bots",
		TS:     time.Now().Unix(),
	}
	for _, f := range msg.Fields {
		attachment.Fields = append(attachment.Fields, slackField{Title: f.Title, Value: f.Value})
	}
	body, err := json.Marshal(slackPayload{
		Channel:     s.channel,
		Attachments: []slackAttachment{attachment},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: slack: %v", ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("%w: slack http %d: %s", ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	s.log.Debug("slack alert sent", zap.String("title", msg.Title))
	return nil
}

func slackColor(level Level) string {
	switch level {
	case LevelDanger:
		return "danger"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "good"
	default:
		return ""
	}
}
