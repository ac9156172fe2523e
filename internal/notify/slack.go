package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// SlackNotifier posts batch results to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment is one coloured block of a message
type SlackAttachment struct {
	Color    string       `json:"color"`
	Title    string       `json:"title,omitempty"`
	Text     string       `json:"text,omitempty"`
	Fields   []SlackField `json:"fields,omitempty"`
	Footer   string       `json:"footer,omitempty"`
	Fallback string       `json:"fallback,omitempty"`
}

// SlackField is a label/value pair; short fields render two per row
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a new Slack notifier
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ToJSON converts the message to JSON
func (m *SlackMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// SlackColor returns the Slack color for a notification type
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// batchFields lays the counts out as attachment fields
func batchFields(c BatchCounts) []SlackField {
	return []SlackField{
		{Title: "Strategy", Value: c.Strategy, Short: true},
		{Title: "Instances", Value: strconv.Itoa(c.Total), Short: true},
		{Title: "Patches", Value: strconv.Itoa(c.Generated), Short: true},
		{Title: "Valid", Value: strconv.Itoa(c.Valid), Short: true},
		{Title: "Failed", Value: strconv.Itoa(c.Failed), Short: true},
		{Title: "Pass@1 (proxy)", Value: fmt.Sprintf("%.2f%%", c.PassPct), Short: true},
	}
}

// BuildMessage renders a notification as a webhook payload. Batch
// completions get one field per count instead of the free-text message.
func BuildMessage(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:    SlackColor(n.Type),
		Footer:   "swe-orch",
		Fallback: n.Title + ": " + n.Message,
	}
	if n.RunID != "" {
		att.Title = "run " + n.RunID
	}
	if n.Counts != nil {
		att.Fields = batchFields(*n.Counts)
		att.Fallback = n.Title + ": " + n.Counts.Summary()
	} else {
		att.Text = n.Message
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts the notification to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	msg := BuildMessage(n)
	payload, err := msg.ToJSON()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}
	return nil
}
