// Package notifications is the out-of-band channel for failures that must not
// block a request: ledger write failures and integrity violations found by
// background verification.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Notifier delivers one alert about an (org/doc) scope.
type Notifier interface {
	SendAlert(ctx context.Context, scope, severity, message string) error
}

// LogNotifier writes alerts to a zap logger.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("alerts")}
}

func (n *LogNotifier) SendAlert(_ context.Context, scope, severity, message string) error {
	fields := []zap.Field{zap.String("scope", scope), zap.String("severity", severity)}
	if severity == SeverityCritical {
		n.log.Error(message, fields...)
	} else {
		n.log.Warn(message, fields...)
	}
	return nil
}

// SlackNotifier posts alerts to an incoming webhook.
type SlackNotifier struct {
	WebhookURL string
	client     *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		WebhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type slackPayload struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

func severityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#ff0000"
	case SeverityWarning:
		return "#ffa500"
	default:
		return "#36a64f"
	}
}

func (n *SlackNotifier) SendAlert(ctx context.Context, scope, severity, message string) error {
	body, err := json.Marshal(slackPayload{
		Text: "docauth alert: scope " + scope,
		Attachments: []slackAttachment{{
			Color: severityColor(severity),
			Title: "[" + severity + "] Alert",
			Text:  message,
		}},
	})
	if err != nil {
		return fmt.Errorf("notifications: marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notifications: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("notifications: post slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notifications: slack api returned status: %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) SendAlert(ctx context.Context, scope, severity, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.SendAlert(ctx, scope, severity, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
