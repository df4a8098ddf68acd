package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/stockviewer-backend/internal/httputil"
	"github.com/kjannette/stockviewer-backend/internal/models"
)

const sendTimeout = 10 * time.Second

// Sender posts short messages to a Slack- or Discord-style webhook.
// With no webhook configured it only logs.
type Sender struct {
	webhookURL string
	appName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewSender(webhookURL, appName string) *Sender {
	if appName == "" {
		appName = "StockViewer"
	}
	return &Sender{
		webhookURL: webhookURL,
		appName:    appName,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

func (s *Sender) ImportCompleted(ctx context.Context, sum *models.ImportSummary) {
	s.Send(ctx, fmt.Sprintf("Import from %s finished: %d inserted, %d already stored, %d duplicate rows (%d total)",
		sum.Source, sum.Inserted, sum.Skipped, sum.Duplicates, sum.Total))
}

func (s *Sender) ImportFailed(ctx context.Context, source string, err error) {
	s.Send(ctx, fmt.Sprintf("Import from %s failed, nothing was stored: %v", source, err))
}

// Send delivers msg. Failures are logged, never returned.
func (s *Sender) Send(ctx context.Context, msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.appName, msg)
	slog.Info("notification", "component", "notify", "message", msg)

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		slog.Error("notification marshal failed", "component", "notify", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		slog.Error("notification delivery failed", "component", "notify", "error", err)
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.appName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.appName,
	}
}
