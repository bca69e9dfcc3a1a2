package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gridironhq/huddle/internal/db"
)

// PushGateway delivers the push channel through an authenticated HTTP
// relay that fans out to the user's registered devices.
type PushGateway struct {
	client *http.Client
	url    string
	token  string
	logger *zap.Logger
}

type PushConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// pushRequest is the relay's wire format.
type pushRequest struct {
	UserID       string          `json:"user_id"`
	DeviceTokens []string        `json:"device_tokens"`
	Title        string          `json:"title"`
	Body         string          `json:"body"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// NewPushGateway creates a push gateway. Returns nil when no relay URL is
// configured, which the dispatcher treats as simulated delivery.
func NewPushGateway(cfg PushConfig, logger *zap.Logger) *PushGateway {
	if cfg.URL == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PushGateway{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		token:  cfg.Token,
		logger: logger,
	}
}

func (g *PushGateway) Channel() db.Channel {
	return db.ChannelPush
}

// Send posts one alert to the push relay.
func (g *PushGateway) Send(ctx context.Context, d Delivery) error {
	if len(d.DeviceTokens) == 0 {
		return Permanent(fmt.Errorf("no device tokens registered for user %s", d.UserID))
	}

	body, err := json.Marshal(pushRequest{
		UserID:       d.UserID,
		DeviceTokens: d.DeviceTokens,
		Title:        d.Title,
		Body:         d.Message,
		Data:         d.Payload,
	})
	if err != nil {
		return Permanent(fmt.Errorf("marshal push request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("build push request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("push relay request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		g.logger.Info("push delivered",
			zap.String("notification_id", d.NotificationID),
			zap.Int("devices", len(d.DeviceTokens)),
			zap.Int("status_code", resp.StatusCode),
		)
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("push relay returned %d: %s", resp.StatusCode, preview)
	default:
		// Remaining 4xx means the request itself is unacceptable.
		return Permanent(fmt.Errorf("push relay rejected request: %d: %s", resp.StatusCode, preview))
	}
}
