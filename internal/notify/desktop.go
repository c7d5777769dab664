package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier shows run notifications through the platform's
// notification tool: osascript on macOS, notify-send on Linux. Other
// platforms are silently skipped.
type DesktopNotifier struct {
	enabled bool
	goos    string
}

// NewDesktopNotifier creates a desktop notifier for the running platform
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled, goos: runtime.GOOS}
}

var desktopIcons = map[NotificationType]string{
	NotifySuccess: "dialog-positive",
	NotifyWarning: "dialog-warning",
	NotifyError:   "dialog-error",
}

// IconForType returns the freedesktop icon name for a notification type
func IconForType(t NotificationType) string {
	if icon, ok := desktopIcons[t]; ok {
		return icon
	}
	return "dialog-information"
}

// Send shows n unless the notifier is disabled or the platform has no
// supported tool
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}
	name, args := desktopCommand(d.goos, n)
	if name == "" {
		return nil
	}
	return exec.Command(name, args...).Run()
}

// desktopCommand returns the program and arguments that display n on goos.
// The run ID is appended to the title so that concurrent runs can be told
// apart.
func desktopCommand(goos string, n Notification) (string, []string) {
	title := n.Title
	if n.RunID != "" {
		title += " (" + n.RunID + ")"
	}

	switch goos {
	case "darwin":
		script := `display notification "` + appleScriptQuote(n.Message) +
			`" with title "` + appleScriptQuote(title) + `" subtitle "simgrid"`
		return "osascript", []string{"-e", script}
	case "linux":
		return "notify-send", []string{"--icon", IconForType(n.Type), "--app-name", "simgrid", title, n.Message}
	}
	return "", nil
}

func appleScriptQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
