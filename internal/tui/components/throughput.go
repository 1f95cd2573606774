package components

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aqueducts/aqueducts/internal/tui/runstate"
)

var throughputValueStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF"))

// RenderThroughput renders the run's row-count and error counters.
func RenderThroughput(st runstate.State, width int) string {
	rowsPerSec := 0.0
	if !st.StartedAt.IsZero() {
		elapsed := time.Since(st.StartedAt).Seconds()
		if elapsed > 0 {
			rowsPerSec = float64(st.TotalRows) / elapsed
		}
	}

	rps := throughputValueStyle.Render(fmt.Sprintf("%.0f rows/s", rowsPerSec))
	totalRows := formatCount(int64(st.TotalRows))
	sources := throughputValueStyle.Render(fmt.Sprintf("%d", st.SourceCount))

	errStr := ""
	if st.ErrorCount > 0 {
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
		errStr = fmt.Sprintf("  Errors: %s", errStyle.Render(fmt.Sprintf("%d", st.ErrorCount)))
	}

	return fmt.Sprintf("  %s  |  Sources: %s  |  Total: %s rows%s",
		rps, sources, totalRows, errStr)
}
