package commands

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MEKXH/warden/internal/supervisor"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#8E4EC6")). // Purple
			Padding(0, 1).
			MarginBottom(1)

	colHeaderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8E4EC6")).
			Bold(true).
			MarginRight(1)

	cellStyle = lipgloss.NewStyle().MarginRight(1)
	sepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginRight(1)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	okColor   = lipgloss.Color("#2E8B57") // SeaGreen
	warnColor = lipgloss.Color("#D7AF00")
	badColor  = lipgloss.Color("#D75F5F")
)

// column is one fixed-width table column.
type column struct {
	Title string
	Width int
}

// renderTable writes a header, a separator and one line per row. Plain cells
// wider than their column are truncated.
func renderTable(w io.Writer, title string, cols []column, rows [][]string) {
	if title != "" {
		fmt.Fprintln(w, headerStyle.Render(title))
	}

	headers := make([]string, len(cols))
	seps := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = colHeaderStyle.Width(c.Width).Render(c.Title)
		seps[i] = sepStyle.Render(strings.Repeat("─", c.Width))
	}
	fmt.Fprintf(w, "  %s\n", lipgloss.JoinHorizontal(lipgloss.Top, headers...))
	fmt.Fprintf(w, "  %s\n", lipgloss.JoinHorizontal(lipgloss.Top, seps...))

	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			if lipgloss.Width(value) > c.Width {
				value = truncate(value, c.Width)
			}
			cells[i] = cellStyle.Width(c.Width).Render(value)
		}
		fmt.Fprintf(w, "  %s\n", lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}
	fmt.Fprintln(w)
}

// status colors a short status word.
func status(text string, ok bool) string {
	color := badColor
	if ok {
		color = okColor
	}
	return lipgloss.NewStyle().Foreground(color).Render(text)
}

func warn(text string) string {
	return lipgloss.NewStyle().Foreground(warnColor).Render(text)
}

// markdownRenderer is the subset of glamour used for summaries.
type markdownRenderer interface {
	Render(in string) (string, error)
}

func newMarkdownRenderer(plain bool) markdownRenderer {
	if plain {
		return nil
	}
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown falls back to the raw text when rendering is off or fails.
func renderMarkdown(r markdownRenderer, text string) string {
	if r == nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

// renderOutcome prints the action results followed by the summary.
func renderOutcome(w io.Writer, outcome supervisor.Outcome, md markdownRenderer) {
	if len(outcome.Results) > 0 {
		rows := make([][]string, 0, len(outcome.Results))
		for _, res := range outcome.Results {
			verified := "-"
			if res.Success {
				verified = status("yes", true)
				if !res.Verified {
					verified = status("no", false)
				}
			}
			rows = append(rows, []string{
				res.Tool,
				oneLine(res.Command),
				status(successWord(res.Success), res.Success),
				verified,
				fmt.Sprintf("%d", res.Retries),
				res.Duration.Round(time.Millisecond).String(),
			})
		}
		renderTable(w, "Actions", []column{
			{"TOOL", 16}, {"COMMAND", 40}, {"RESULT", 8}, {"VERIFIED", 9}, {"RETRIES", 7}, {"TIME", 10},
		}, rows)
	}

	label := status(string(outcome.Status), outcome.Status == supervisor.StatusCompleted)
	fmt.Fprintf(w, "%s %s %s\n", dimStyle.Render(outcome.TaskID), label, dimStyle.Render(fmt.Sprintf("(%d turns)", outcome.Turns)))
	if summary := strings.TrimSpace(outcome.Summary); summary != "" {
		fmt.Fprintln(w, renderMarkdown(md, summary))
	}
}

func successWord(ok bool) string {
	if ok {
		return "ok"
	}
	return "failed"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
