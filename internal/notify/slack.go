// Package notify delivers human-readable summaries to Slack incoming webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultSlackTimeout = 10 * time.Second
	maxSlackBody        = 4096
)

// Slack posts section blocks with mrkdwn text. Delivery is attempted once.
type Slack struct {
	client *http.Client
}

// NewSlack returns a notifier with the given HTTP timeout.
func NewSlack(timeout time.Duration) *Slack {
	if timeout <= 0 {
		timeout = defaultSlackTimeout
	}
	return &Slack{client: &http.Client{Timeout: timeout}}
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type string    `json:"type"`
	Text slackText `json:"text"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

// Notify posts text to webhookURL. An empty URL disables delivery.
func (s *Slack) Notify(ctx context.Context, webhookURL, text string) error {
	if s == nil || webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(slackMessage{Blocks: []slackBlock{{
		Type: "section",
		Text: slackText{Type: "mrkdwn", Text: text},
	}}})
	if err != nil {
		return errors.Wrap(err, "encode slack message")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create slack request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "slack request failed")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxSlackBody))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return nil
}
