// Package display provides terminal formatting for phishbeads output.
package display

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/daviddao/phishbeads/internal/types"
)

var (
	// Styles
	Muted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	Dim      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ca3af"))
	Bold     = lipgloss.NewStyle().Bold(true)
	Success  = lipgloss.NewStyle().Foreground(lipgloss.Color("#16a34a"))
	ErrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#dc2626"))
	Warn     = lipgloss.NewStyle().Foreground(lipgloss.Color("#d97706"))
)

// StatusBadge returns a styled label for an email status.
func StatusBadge(s types.EmailStatus) string {
	label := fmt.Sprintf("%-10s", s)
	switch s {
	case types.StatusSuspicious:
		return ErrStyle.Render("● " + label)
	case types.StatusClean:
		return Success.Render("○ " + label)
	default:
		return Dim.Render("· " + label)
	}
}

// ReportBadge returns a styled label for an incident's report state.
func ReportBadge(s types.ReportState) string {
	label := fmt.Sprintf("%-10s", s)
	switch s {
	case types.ReportPending:
		return Warn.Render(label)
	case types.ReportInTransit:
		return Dim.Render(label)
	case types.ReportDone:
		return Success.Render(label)
	default:
		return label
	}
}

// Elapsed describes how long ago a unix timestamp (seconds) was, in the
// coarsest unit that fits: "More than 3 hours ago". Zero means never.
func Elapsed(unix int64) string {
	if unix <= 0 {
		return "Never"
	}
	return elapsed(time.Since(time.Unix(unix, 0)))
}

func elapsed(d time.Duration) string {
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
	}
	for _, u := range units {
		if n := int(d / u.size); n >= 1 {
			name := u.name
			if n > 1 {
				name += "s"
			}
			return fmt.Sprintf("More than %d %s ago", n, name)
		}
	}
	return "Less than a minute ago"
}

// TimeAgo formats a unix millisecond timestamp as a short relative time.
func TimeAgo(unixMilli int64) string {
	if unixMilli <= 0 {
		return ""
	}
	t := time.UnixMilli(unixMilli)
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

// Truncate shortens a string to maxLen, adding ellipsis if needed.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// SuccessMsg prints a green checkmark + message.
func SuccessMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(Success.Render("✓") + " " + msg)
}

// WarnMsg prints a yellow bang + message.
func WarnMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Println(Warn.Render("!") + " " + msg)
}

// ErrorMsg prints a red X + message to stderr.
func ErrorMsg(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, ErrStyle.Render("✗")+" "+msg)
}

// Header prints a section header.
func Header(title string) {
	fmt.Println(Bold.Render(title))
}

// SubHeader prints a dim subsection label.
func SubHeader(title string) {
	fmt.Println(Muted.Render(title))
}

// Tree prints lines under a header in tree style.
func Tree(lines []string) {
	for i, line := range lines {
		connector := "├─"
		if i == len(lines)-1 {
			connector = "└─"
		}
		fmt.Printf("  %s %s\n", Muted.Render(connector), line)
	}
}
