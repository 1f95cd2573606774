package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aqueducts/aqueducts/internal/tui/runstate"
)

// RenderProgress renders the overall run progress bar: stages completed
// out of stages seen so far.
func RenderProgress(st runstate.State, width int) string {
	total := len(st.Stages)
	if total == 0 {
		return "  No stages yet"
	}

	done := 0
	for _, s := range st.Stages {
		if s.Status == runstate.StageCompleted || s.Status == runstate.StageFailed {
			done++
		}
	}

	pct := float64(done) / float64(total) * 100

	barWidth := width - 40
	if barWidth < 10 {
		barWidth = 10
	}

	filled := int(float64(barWidth) * pct / 100)
	if filled > barWidth {
		filled = barWidth
	}
	empty := barWidth - filled

	coloredFull := lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Render(strings.Repeat("█", filled))
	coloredEmpty := lipgloss.NewStyle().Foreground(lipgloss.Color("#374151")).Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  Overall: %s%s %5.1f%% (%d/%d stages)",
		coloredFull, coloredEmpty, pct, done, total)
}
