package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SlackNotifier posts run notifications to an incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the run summary and its reference fields
type SlackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text"`
	Fields []SlackField `json:"fields,omitempty"`
	Footer string       `json:"footer,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

// SlackField is one labelled value of an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var slackColors = map[NotificationType]string{
	NotifySuccess: "good",
	NotifyWarning: "warning",
	NotifyError:   "danger",
}

// NewSlackNotifier creates a notifier for webhookURL
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackColor returns the attachment color for a notification type
func SlackColor(t NotificationType) string {
	if c, ok := slackColors[t]; ok {
		return c
	}
	return "#439FE0"
}

// slackPayload renders a notification as a message with a single
// attachment. Run ID and results file become short fields.
func slackPayload(n Notification, now time.Time) SlackMessage {
	att := SlackAttachment{
		Color:  SlackColor(n.Type),
		Text:   n.Message,
		Footer: "simgrid",
		Ts:     now.Unix(),
	}
	if n.RunID != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Run", Value: n.RunID, Short: true})
	}
	if n.SavePath != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Results", Value: n.SavePath, Short: true})
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts n to the webhook. An empty webhook URL disables it.
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(slackPayload(n, time.Now()))
	if err != nil {
		return fmt.Errorf("encoding slack payload: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned %s", resp.Status)
	}
	return nil
}
