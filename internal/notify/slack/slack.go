// Package slack posts urgent triage alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/Mirudhula24/smart-triage/internal/triage"
)

const (
	maxMessageLen = 3000
	httpTimeout   = 10 * time.Second
)

// Notifier sends alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts an alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, al *triage.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(al))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "slack alert sent", "alert_id", al.ID, "triage_id", al.TriageID)
	return nil
}

func buildMessage(al *triage.Alert) map[string]any {
	return map[string]any{
		"text": fmt.Sprintf("%s urgency triage alert", al.Urgency),
		"blocks": []map[string]any{
			headerBlock(al),
			{"type": "divider"},
			fieldsBlock(al),
			messageBlock(al),
			{"type": "divider"},
			contextBlock(al),
		},
	}
}

func headerBlock(al *triage.Alert) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s Triage alert: %s urgency", urgencyEmoji(al.Urgency), al.Urgency),
		},
	}
}

// fieldsBlock carries identifiers only. Patient details stay in the
// dashboard.
func fieldsBlock(al *triage.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Urgency:* %s", al.Urgency),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Triage:* `%s`", al.TriageID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Patient:* `%s`", al.PatientID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Raised:* %s", al.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func messageBlock(al *triage.Alert) map[string]any {
	text := truncate(al.Message, maxMessageLen)
	if text == "" {
		text = "_No details._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": text,
		},
	}
}

func contextBlock(al *triage.Alert) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("smart-triage • alert %s • acknowledge in the dashboard", al.ID),
			},
		},
	}
}

func urgencyEmoji(u triage.Urgency) string {
	switch u {
	case triage.UrgencyHigh:
		return "\U0001f534" // red circle
	case triage.UrgencyMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
