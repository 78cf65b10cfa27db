package diag

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Table writes rows as left-aligned columns under a header line. Cells are
// padded to the widest cell of their column; the last column is not padded.
func (p *Printer) Table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}

	p.tableRow(headers, widths, p.headerStyle)
	for _, row := range rows {
		p.tableRow(row, widths, p.cellStyle)
	}
}

func (p *Printer) tableRow(cells []string, widths []int, style lipgloss.Style) {
	parts := make([]string, 0, len(widths))
	for i := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		if i < len(widths)-1 {
			parts = append(parts, style.Width(widths[i]).Render(cell))
		} else {
			parts = append(parts, style.Render(cell))
		}
	}
	fmt.Fprintln(p.w, strings.TrimRight(strings.Join(parts, "  "), " "))
}
