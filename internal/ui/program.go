package ui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/ocxo/spilink/internal/protocol"
)

// Printer writes decoded messages and result boxes for the non-interactive
// commands. Styling is applied only when the output is a terminal, so piping
// `spilink poll` into a file gives plain lines.
type Printer struct {
	out    io.Writer
	width  int
	styled bool
	now    func() time.Time
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{
		out:    w,
		width:  GetTerminalWidth(),
		styled: styled,
		now:    time.Now,
	}
}

// Styled reports whether the printer emits colors and boxes.
func (p *Printer) Styled() bool {
	return p.styled
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// HandleMessage prints msg, so a Printer can be used as a protocol.Sink.
func (p *Printer) HandleMessage(msg *protocol.Message) {
	at := p.now()
	if p.styled {
		p.Println(RenderMessage(at, msg))
		return
	}
	p.Println(at.Format(TimeLayout) + " " + FormatMessage(msg))
}

// PrintHeader prints what a command is about to talk to.
func (p *Printer) PrintHeader(title string, params map[string]string) {
	if !p.styled {
		p.Println(title)
		for _, k := range sortedKeys(params) {
			p.Println(fmt.Sprintf("  %s: %s", k, params[k]))
		}
		return
	}
	p.Println(RenderHeader(title, params, p.width))
}

// PrintSummary prints counters after a command finishes.
func (p *Printer) PrintSummary(title string, details map[string]string) {
	if !p.styled {
		p.Println(SuccessMarker + " " + title)
		for _, k := range sortedKeys(details) {
			p.Println(fmt.Sprintf("  %s: %s", k, details[k]))
		}
		return
	}
	p.Println(RenderSummaryBox(title, details, p.width))
}

// PrintError prints an error box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, tips []string) {
	if !p.styled {
		p.Println(FailureMarker + " " + title + ": " + err.Error())
		for _, tip := range tips {
			p.Println("  - " + tip)
		}
		return
	}
	p.Println(RenderErrorBox(title, err, tips, p.width))
}

// RenderHeader renders a command header box
func RenderHeader(title string, params map[string]string, width int) string {
	top := TitleStyle.Render(strings.ToUpper(title))
	if len(params) == 0 {
		return BoxStyle(width, PrimaryColor).Render(top)
	}

	divider := RenderHorizontalDivider(width-6, "─")
	content := lipgloss.JoinVertical(lipgloss.Left, top, divider, renderPairs(params))
	return BoxStyle(width, PrimaryColor).Render(content)
}

// RenderSummaryBox renders a success result box
func RenderSummaryBox(title string, details map[string]string, width int) string {
	titleLine := MessageNameStyle.Render(SuccessMarker + "  " + title)
	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, "", renderPairs(details))
	return BoxStyle(width, SuccessColor).Render(content)
}

// RenderErrorBox renders an error result box with troubleshooting
func RenderErrorBox(title string, err error, tips []string, width int) string {
	lines := []string{ErrorTitleStyle.Render(FailureMarker + "  FAILED  ─  " + title)}
	if err != nil {
		lines = append(lines, "", ErrorMessageStyle.Render("Error: "+err.Error()))
	}
	if len(tips) > 0 {
		lines = append(lines, "", CounterKeyStyle.Bold(true).Render("Troubleshooting:"))
		for _, tip := range tips {
			lines = append(lines, FieldKeyStyle.Render("  • "+tip))
		}
	}
	return BoxStyle(width, ErrorColor).Render(strings.Join(lines, "\n"))
}

func renderPairs(pairs map[string]string) string {
	lines := make([]string, 0, len(pairs))
	for _, k := range sortedKeys(pairs) {
		lines = append(lines, CounterKeyStyle.Render(k+":")+" "+CounterValueStyle.Render(pairs[k]))
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
