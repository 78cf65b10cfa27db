package diag

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Color palette shared with the irfc command.
var (
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorHighlight = lipgloss.Color("#3B82F6")
)

// Printer renders diagnostics to a writer. Styling degrades to plain text
// when the writer is not a terminal.
type Printer struct {
	w io.Writer

	errorStyle   lipgloss.Style
	warningStyle lipgloss.Style
	successStyle lipgloss.Style
	locStyle     lipgloss.Style
	pathStyle    lipgloss.Style
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
}

// NewPrinter creates a printer bound to w.
func NewPrinter(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:            w,
		errorStyle:   r.NewStyle().Bold(true).Foreground(ColorError),
		warningStyle: r.NewStyle().Bold(true).Foreground(ColorWarning),
		successStyle: r.NewStyle().Bold(true).Foreground(ColorSuccess),
		locStyle:     r.NewStyle().Foreground(ColorMuted),
		pathStyle:    r.NewStyle().Foreground(ColorHighlight),
		headerStyle:  r.NewStyle().Bold(true).Foreground(ColorMuted),
		cellStyle:    r.NewStyle(),
	}
}

// Print writes one line per diagnostic.
func (p *Printer) Print(ds []Diagnostic) {
	for _, d := range ds {
		p.print(d)
	}
}

func (p *Printer) print(d Diagnostic) {
	sev := p.errorStyle
	if d.Severity == SeverityWarning {
		sev = p.warningStyle
	}

	line := ""
	if loc := d.Location(); loc != "" {
		line = p.locStyle.Render(loc) + ": "
	}
	line += sev.Render(fmt.Sprintf("%s[%s]", d.Severity, d.Code)) + ": "
	if d.Path != "" {
		line += p.pathStyle.Render(d.Path) + ": "
	}
	line += d.Message
	fmt.Fprintln(p.w, line)
}

// Summary writes the closing line of a run.
func (p *Printer) Summary(ds []Diagnostic) {
	errs, warns := Count(ds, SeverityError), Count(ds, SeverityWarning)
	switch {
	case errs > 0:
		fmt.Fprintln(p.w, p.errorStyle.Render(fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)))
	case warns > 0:
		fmt.Fprintln(p.w, p.warningStyle.Render(fmt.Sprintf("0 errors, %d warning(s)", warns)))
	}
}

// Success writes a success line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.w, p.successStyle.Render(fmt.Sprintf(format, args...)))
}
