package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recoverydesk/voiceagent/internal/recovery"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	log        logrus.FieldLogger
	client     *http.Client
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, log logrus.FieldLogger) *Discord {
	return &Discord{
		webhookURL: webhookURL,
		log:        log,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to the webhook. Errors are logged, never returned.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		d.log.Errorf("discord: failed to marshal message: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		d.log.Errorf("discord: failed to create request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		d.log.Warnf("discord: failed to send webhook: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		d.log.Warnf("discord: webhook returned status %d", resp.StatusCode)
	}
}

// NotifyOutcome posts an embed for an ended recovery call.
func (d *Discord) NotifyOutcome(ctx context.Context, n OutcomeNotice) {
	if !d.Enabled() {
		return
	}

	color := 0xFFA500 // orange
	switch n.Result {
	case "renegotiated", "committed":
		color = 0x00FF00
	}

	fields := []embedField{
		{Name: "Session", Value: fmt.Sprintf("`%s`", n.SessionID)},
		{Name: "Current EMI", Value: recovery.FormatRupees(n.CurrentEMI), Inline: true},
	}
	if n.AgreedEMI != nil {
		fields = append(fields, embedField{Name: "Agreed EMI", Value: recovery.FormatRupees(*n.AgreedEMI), Inline: true})
	}

	d.send(ctx, discordMessage{
		Embeds: []discordEmbed{{
			Title:       n.headline(),
			Description: n.Summary,
			Color:       color,
			Fields:      fields,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	})
}
