package tui

import (
	"fmt"

	"github.com/aretw0/tether/pkg/domain"
	"github.com/muesli/termenv"
)

var stateColors = map[domain.ConnectionState]string{
	domain.Disconnected:        "#fb7185",
	domain.ConnectingTransport: "#fbbf24",
	domain.ConnectingRuntime:   "#fbbf24",
	domain.Connected:           "#34d399",
}

// StatusLine renders a connection state change.
func StatusLine(project string, state domain.ConnectionState) string {
	p := termenv.ColorProfile()
	dot := termenv.String("●").Foreground(p.Color(stateColors[state]))
	return fmt.Sprintf("%s %s %s", dot, termenv.String(project).Bold(), state)
}

// NotificationLine renders a notification as a single line.
func NotificationLine(n domain.Notification) string {
	p := termenv.ColorProfile()
	color := "#60a5fa"
	if n.Severity == domain.SeverityError {
		color = "#f87171"
	}
	title := termenv.String(Sanitize(n.Title)).Foreground(p.Color(color)).Bold()
	if n.Message == "" {
		return title.String()
	}
	return fmt.Sprintf("%s: %s", title, Sanitize(n.Message))
}

// IntentLine renders a UI intent.
func IntentLine(intent domain.Intent) string {
	target := intent.ComponentID
	if target == "" {
		target = intent.RunID
	}
	return termenv.String(fmt.Sprintf("→ %s %s", intent.Kind, target)).Faint().String()
}
