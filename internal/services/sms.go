package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agendly/backend/internal/config"
	"github.com/agendly/backend/pkg/logger"
)

// SMSGateway delivers a text message to a phone number. Delivery failures
// must surface as ErrExternalService so callers never report success for a
// code that was not handed off.
type SMSGateway interface {
	SendSMS(ctx context.Context, to, body string) error
}

// HTTPSMSGateway posts messages to an external SMS provider.
type HTTPSMSGateway struct {
	cfg    config.SMSConfig
	client *http.Client
}

func NewHTTPSMSGateway(cfg config.SMSConfig) *HTTPSMSGateway {
	return &HTTPSMSGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (g *HTTPSMSGateway) SendSMS(ctx context.Context, to, body string) error {
	start := time.Now()

	form := url.Values{}
	form.Set("senderid", g.cfg.SenderID)
	form.Set("msgType", "text")
	form.Set("msg", body)
	form.Set("mobile", to)
	form.Set("output", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: building sms request: %v", ErrExternalService, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if g.cfg.APIKey != "" {
		req.Header.Set("apikey", g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		logger.Error("sms_send_failed", err, map[string]interface{}{
			"recipient": to,
		})
		return fmt.Errorf("%w: sms http error: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		logger.Error("sms_send_rejected", nil, map[string]interface{}{
			"recipient":   to,
			"status_code": resp.StatusCode,
			"response":    string(respBody),
		})
		return fmt.Errorf("%w: sms api status %d", ErrExternalService, resp.StatusCode)
	}

	logger.Info("sms_sent", map[string]interface{}{
		"recipient":   to,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}
