package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const deliveryTimeout = 10 * time.Second

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string `json:"color"`
	Footer string `json:"footer"`
	Ts     int64  `json:"ts"`
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsSection struct {
	Facts []teamsFact `json:"facts"`
}

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor"`
	Summary    string         `json:"summary"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []teamsSection `json:"sections"`
}

// genericPayload is the body sent to plain http webhooks.
type genericPayload struct {
	Alert *Alert `json:"alert"`
}

// deliver sends a to every configured target. Failures are logged per
// target and never reach the caller.
func (e *Engine) deliver(a *Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var body any
		switch wh.Type {
		case "slack":
			body = slackBody(a)
		case "teams":
			body = teamsBody(a)
		case "http":
			body = genericPayload{Alert: a}
		default:
			slog.Warn("alerts: skipping unknown webhook type", "type", wh.Type)
			continue
		}

		if err := e.post(ctx, url, body); err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.RuleName,
				"device", a.DeviceID,
				"err", err,
			)
			continue
		}
		slog.Debug("alerts: webhook delivered", "type", wh.Type, "rule", a.RuleName, "state", a.State)
	}
}

func slackBody(a *Alert) slackMessage {
	return slackMessage{
		Text: fmt.Sprintf("*%s* %s %s", severityLabel(a.Severity), stateLabel(a.State), a.Message),
		Attachments: []slackAttachment{{
			Color:  "#" + alertColor(a),
			Footer: a.RuleName,
			Ts:     a.FiredAt.Unix(),
		}},
	}
}

func teamsBody(a *Alert) teamsCard {
	return teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		ThemeColor: alertColor(a),
		Summary:    a.RuleName,
		Title:      fmt.Sprintf("%s availability alert: %s", stateLabel(a.State), a.RuleName),
		Text:       a.Message,
		Sections: []teamsSection{{Facts: []teamsFact{
			{Name: "Device", Value: a.DeviceID},
			{Name: "Severity", Value: a.Severity},
			{Name: "Fired", Value: a.FiredAt.UTC().Format(time.RFC3339)},
		}}},
	}
}

func (e *Engine) post(ctx context.Context, url string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func stateLabel(s string) string {
	if s == StateResolved {
		return "RESOLVED"
	}
	return "FIRING"
}

// alertColor is green once resolved, otherwise keyed by severity.
func alertColor(a *Alert) string {
	if a.State == StateResolved {
		return "2EB67D"
	}
	switch a.Severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
