package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/swe-orchestrator/internal/config"
)

func TestSlackMessage_Build(t *testing.T) {
	msg := SlackMessage{
		Text: "Evaluation finished: react",
		Attachments: []SlackAttachment{
			{
				Color: "good",
				Title: "run 1234",
				Text:  "300 instances, 280 patches",
			},
		},
	}

	payload, err := msg.ToJSON()
	if err != nil {
		t.Fatal(err)
	}

	if len(payload) == 0 {
		t.Error("Payload should not be empty")
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Test",
		Message: "Test message",
		Type:    NotifyWarning,
		RunID:   "abc",
	})

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "run abc", got.Attachments[0].Title)
	assert.Equal(t, "warning", got.Attachments[0].Color)
	assert.Equal(t, "Test message", got.Attachments[0].Text)
}

func TestSlackNotifier_SendBatchFields(t *testing.T) {
	var got SlackMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := BatchFinished("run-7", BatchCounts{Strategy: "plan_solve", Total: 300, Generated: 290, Valid: 250, Failed: 3, PassPct: 83.333})
	require.NoError(t, NewSlackNotifier(server.URL).Send(n))

	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "warning", att.Color)
	assert.Equal(t, "run run-7", att.Title)
	assert.Empty(t, att.Text)
	assert.Equal(t, "Evaluation finished: plan_solve: 250/300 valid, 3 failed, Pass@1 83.3%", att.Fallback)

	fields := map[string]string{}
	for _, f := range att.Fields {
		assert.True(t, f.Short)
		fields[f.Title] = f.Value
	}
	assert.Equal(t, map[string]string{
		"Strategy":       "plan_solve",
		"Instances":      "300",
		"Patches":        "290",
		"Valid":          "250",
		"Failed":         "3",
		"Pass@1 (proxy)": "83.33%",
	}, fields)
}

func TestBuildMessage_PlainNotification(t *testing.T) {
	msg := BuildMessage(Notification{Title: "hello", Message: "world", Type: NotifyInfo})
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, "world", msg.Attachments[0].Text)
	assert.Empty(t, msg.Attachments[0].Fields)
	assert.Empty(t, msg.Attachments[0].Title)
}

func TestDesktopNotifier_Send(t *testing.T) {
	var name string
	var args []string
	d := NewDesktopNotifier(true)
	d.run = func(n string, a ...string) error {
		name, args = n, a
		return nil
	}

	n := BatchFinished("r", BatchCounts{Strategy: "react", Total: 4, Generated: 4, Valid: 4, PassPct: 100})
	require.NoError(t, d.Send(n))
	if name == "" {
		t.Skip("desktop notifications unsupported on this platform")
	}
	assert.Contains(t, strings.Join(args, " "), "4/4 valid, 0 failed, Pass@1 100.0%")

	name = ""
	require.NoError(t, NewDesktopNotifier(false).Send(n))
	assert.Empty(t, name)
}

func TestDesktopCommand(t *testing.T) {
	n := Notification{Title: `say "hi"`, Message: "plain", Type: NotifyError}

	name, args := desktopCommand("linux", n)
	assert.Equal(t, "notify-send", name)
	assert.Equal(t, []string{"-a", "swe-orch", "-i", "dialog-error", `say "hi"`, "plain"}, args)

	name, args = desktopCommand("darwin", n)
	assert.Equal(t, "osascript", name)
	assert.Equal(t, []string{"-e", `display notification "plain" with title "say \"hi\""`}, args)

	name, _ = desktopCommand("windows", n)
	assert.Empty(t, name)
}

func TestSlackNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlackNotifier(server.URL).Send(Notification{Title: "x"})
	assert.ErrorContains(t, err, "403")
	assert.NoError(t, NewSlackNotifier("").Send(Notification{Title: "disabled"}))
}

func TestBatchFinished(t *testing.T) {
	tests := []struct {
		name   string
		counts BatchCounts
		want   NotificationType
	}{
		{"clean run", BatchCounts{Strategy: "react", Total: 10, Generated: 9, Valid: 8}, NotifySuccess},
		{"some failures", BatchCounts{Strategy: "react", Total: 10, Valid: 5, Failed: 2}, NotifyWarning},
		{"nothing valid", BatchCounts{Strategy: "react", Total: 10, Failed: 1}, NotifyError},
		{"empty batch", BatchCounts{Strategy: "react"}, NotifySuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := BatchFinished("run-1", tt.counts)
			assert.Equal(t, tt.want, n.Type)
			assert.Equal(t, "run-1", n.RunID)
			assert.Contains(t, n.Title, "react")
		})
	}

	n := BatchFinished("r", BatchCounts{Strategy: "plan_solve", Total: 300, Generated: 290, Valid: 250, Failed: 3, PassPct: 83.33})
	assert.Equal(t, "300 instances, 290 patches, 250 valid, 3 failed. Pass@1 (proxy) 83.33%", n.Message)
	require.NotNil(t, n.Counts)
	assert.Equal(t, 250, n.Counts.Valid)
}

func TestNew(t *testing.T) {
	assert.IsType(t, NoopNotifier{}, New(config.NotificationsConfig{}))
	assert.IsType(t, &MultiNotifier{}, New(config.NotificationsConfig{SlackWebhook: "http://example.invalid"}))
}

func TestAppleScriptQuote(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ bye`, appleScriptQuote(`say "hi" \ bye`))
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
