package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier shows a native notification when a batch ends
type DesktopNotifier struct {
	enabled bool
	// run executes the notification command; replaced in tests
	run func(name string, args ...string) error
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled, run: runCommand}
}

func runCommand(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// Send shows the notification on macOS and Linux; other platforms are ignored
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args := desktopCommand(runtime.GOOS, n)
	if name == "" {
		return nil
	}
	return d.run(name, args...)
}

// desktopBody keeps batch completions short enough for a notification bubble
func desktopBody(n Notification) string {
	if n.Counts != nil {
		return n.Counts.Summary()
	}
	return n.Message
}

func desktopCommand(goos string, n Notification) (string, []string) {
	body := desktopBody(n)
	switch goos {
	case "darwin":
		script := `display notification "` + appleScriptQuote(body) + `" with title "` + appleScriptQuote(n.Title) + `"`
		return "osascript", []string{"-e", script}
	case "linux":
		return "notify-send", []string{"-a", "swe-orch", "-i", IconForType(n.Type), n.Title, body}
	default:
		return "", nil
	}
}

func appleScriptQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
