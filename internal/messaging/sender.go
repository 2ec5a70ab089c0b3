package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"jobpulse/internal/domain/notification"
	"jobpulse/internal/logger"
)

var (
	ErrRecipientUnreachable = errors.New("recipient unreachable")
	ErrDeliveryTransient    = errors.New("transient delivery failure")
)

type Outcome int

const (
	Delivered Outcome = iota
	Blocked
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Blocked:
		return "blocked"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Sender interface {
	Send(ctx context.Context, channelID string, p notification.Payload) (Outcome, error)
}

// WebhookSender posts payloads to a chat gateway. The gateway answers 403,
// or a body with status "blocked", when the recipient has blocked the bot.
type WebhookSender struct {
	url    string
	token  string
	client *http.Client
	log    logger.Logger
}

func NewWebhookSender(url, token string, timeout time.Duration, log logger.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &WebhookSender{
		url:    strings.TrimSpace(url),
		token:  strings.TrimSpace(token),
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

type webhookRequest struct {
	ChannelID string   `json:"channel_id"`
	Title     string   `json:"title"`
	Text      string   `json:"text"`
	Window    string   `json:"window"`
	JobKeys   []string `json:"job_keys"`
}

type webhookResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (s *WebhookSender) Send(ctx context.Context, channelID string, p notification.Payload) (Outcome, error) {
	keys := make([]string, 0, len(p.JobKeys))
	for _, k := range p.JobKeys {
		keys = append(keys, k.String())
	}
	body, err := json.Marshal(webhookRequest{
		ChannelID: channelID,
		Title:     p.Title,
		Text:      p.Body,
		Window:    p.Window.String(),
		JobKeys:   keys,
	})
	if err != nil {
		return Failed, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Failed, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Failed, fmt.Errorf("%w: %v", ErrDeliveryTransient, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed webhookResponse
	_ = json.Unmarshal(raw, &parsed)

	switch {
	case resp.StatusCode == http.StatusForbidden, strings.EqualFold(parsed.Status, "blocked"):
		return Blocked, fmt.Errorf("%w: channel %s", ErrRecipientUnreachable, channelID)
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Delivered, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return Failed, fmt.Errorf("%w: status %d", ErrDeliveryTransient, resp.StatusCode)
	default:
		return Failed, fmt.Errorf("webhook rejected message: status %d %s", resp.StatusCode, parsed.Error)
	}
}

// DryRunSender logs what would have been sent.
type DryRunSender struct {
	log logger.Logger
}

func NewDryRunSender(log logger.Logger) *DryRunSender {
	if log == nil {
		log = logger.NewNop()
	}
	return &DryRunSender{log: log}
}

func (s *DryRunSender) Send(_ context.Context, channelID string, p notification.Payload) (Outcome, error) {
	s.log.Info("dry-run message",
		logger.String("channel_id", channelID),
		logger.String("window", p.Window.String()),
		logger.String("title", p.Title),
		logger.Int("jobs", len(p.JobKeys)),
		logger.Bool("empty", p.Empty),
	)
	return Delivered, nil
}
