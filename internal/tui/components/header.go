package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aqueducts/aqueducts/internal/tui/runstate"
)

var (
	headerPhaseStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A78BFA"))
	headerValueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
)

// RenderHeader renders the top status bar: phase, elapsed time, run ID.
func RenderHeader(st runstate.State, width int) string {
	phase := headerPhaseStyle.Render(strings.ToUpper(st.Phase))

	elapsed := "0s"
	if !st.StartedAt.IsZero() {
		elapsed = formatDuration(time.Since(st.StartedAt).Seconds())
	}

	left := fmt.Sprintf("  Phase: %s    Elapsed: %s", phase, headerValueStyle.Render(elapsed))
	right := fmt.Sprintf("Run: %s  ", headerValueStyle.Render(shortRunID(st.RunID)))

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	return left + strings.Repeat(" ", gap) + right
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
