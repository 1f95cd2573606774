package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aqueducts/aqueducts/internal/tui/runstate"
)

var (
	stgHeaderStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6"))
	stgRunningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	stgDoneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	stgFailedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	stgPendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

// RenderStages renders the per-stage progress table.
func RenderStages(st runstate.State, width, maxRows int) string {
	if len(st.Stages) == 0 {
		return "  No stage data available"
	}

	var b strings.Builder

	header := fmt.Sprintf("  %-35s %-18s %s", "Stage", "Rows", "Status")
	b.WriteString(stgHeaderStyle.Render(header))
	b.WriteByte('\n')

	shown := len(st.Stages)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}

	for i := 0; i < shown; i++ {
		s := st.Stages[i]
		name := s.Name
		if len(name) > 33 {
			name = name[:30] + "..."
		}

		rowsStr := formatCount(int64(s.RowCount))

		var statusStr string
		switch s.Status {
		case runstate.StageRunning:
			statusStr = stgRunningStyle.Render("⟳ running")
		case runstate.StageCompleted:
			statusStr = stgDoneStyle.Render("✓ done")
		case runstate.StageFailed:
			statusStr = stgFailedStyle.Render("✗ failed")
		default:
			statusStr = stgPendingStyle.Render("pending")
		}

		line := fmt.Sprintf("  %-35s %-18s %s", name, rowsStr, statusStr)
		b.WriteString(line)
		if i < shown-1 {
			b.WriteByte('\n')
		}
	}

	if len(st.Stages) > shown {
		b.WriteByte('\n')
		b.WriteString(fmt.Sprintf("  ... and %d more stages", len(st.Stages)-shown))
	}

	return b.String()
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000_000:
		return fmt.Sprintf("%.1fB", float64(n)/1e9)
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1e6)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1e3)
	default:
		return fmt.Sprintf("%d", n)
	}
}
