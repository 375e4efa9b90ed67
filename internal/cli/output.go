package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/canectors/viewexport/internal/persistence"
	"github.com/canectors/viewexport/pkg/export"
)

// Exit codes
const (
	ExitSuccess         = 0
	ExitValidationError = 1
	ExitParseError      = 2
	ExitRuntimeError    = 3
	ExitPartialFailure  = 4
	ExitCancelled       = 130
)

var (
	ColorSuccess = lipgloss.Color("40")
	ColorFailed  = lipgloss.Color("196")
	ColorSkipped = lipgloss.Color("214")
	ColorMuted   = lipgloss.Color("244")

	TitleStyle   = lipgloss.NewStyle().Bold(true)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle   = lipgloss.NewStyle().Foreground(ColorFailed)
	WarnStyle    = lipgloss.NewStyle().Foreground(ColorSkipped)
	MutedStyle   = lipgloss.NewStyle().Foreground(ColorMuted)
	LabelStyle   = lipgloss.NewStyle().Width(10)
)

// OutputOptions configures CLI output behavior.
type OutputOptions struct {
	Verbose bool
	Quiet   bool
}

// ExitCode maps the final state of a run to the process exit code.
func ExitCode(state export.FinalState) int {
	switch state {
	case export.StateCompleted:
		return ExitSuccess
	case export.StateCompletedWithErrors:
		return ExitPartialFailure
	case export.StateCancelled:
		return ExitCancelled
	default:
		return ExitRuntimeError
	}
}

func stateStyle(state export.FinalState) lipgloss.Style {
	switch state {
	case export.StateCompleted:
		return SuccessStyle
	case export.StateCompletedWithErrors, export.StateCancelled:
		return WarnStyle
	default:
		return ErrorStyle
	}
}

func stateIcon(state export.FinalState) string {
	switch state {
	case export.StateCompleted:
		return "✓"
	case export.StateCompletedWithErrors, export.StateCancelled:
		return "⚠"
	default:
		return "✗"
	}
}

// PrintRunRecord displays the outcome of a run. Quiet output keeps the
// status line only; verbose output lists every failed job.
func PrintRunRecord(w io.Writer, rec *persistence.RunRecord, opts OutputOptions) {
	if rec == nil {
		fmt.Fprintln(w, ErrorStyle.Render("✗ No run result available"))
		return
	}

	style := stateStyle(rec.State)
	fmt.Fprintln(w, style.Render(fmt.Sprintf("%s %s", stateIcon(rec.State), rec.Reason)))
	if opts.Quiet {
		return
	}

	counts := lipgloss.JoinHorizontal(lipgloss.Top,
		SuccessStyle.Render(fmt.Sprintf("%d exported", rec.Summary.Success)),
		"  ",
		ErrorStyle.Render(fmt.Sprintf("%d failed", rec.Summary.Failed)),
		"  ",
		WarnStyle.Render(fmt.Sprintf("%d skipped", rec.Summary.Skipped)),
	)
	rows := [][2]string{
		{"Config", rec.ConfigName},
		{"Mode", string(rec.Mode)},
		{"State", style.Render(string(rec.State))},
		{"Jobs", counts},
		{"Duration", rec.Duration},
	}
	if opts.Verbose {
		rows = append(rows,
			[2]string{"Run ID", rec.RunID},
			[2]string{"Started", rec.StartedAt.Format("2006-01-02 15:04:05")},
		)
	}
	for _, r := range rows {
		if r[1] == "" {
			continue
		}
		fmt.Fprintf(w, "  %s %s\n", LabelStyle.Render(r[0]+":"), r[1])
	}

	if len(rec.Merged) > 0 {
		fmt.Fprintf(w, "  %s\n", TitleStyle.Render("Merged files:"))
		for _, m := range rec.Merged {
			fmt.Fprintf(w, "    %s\n", m)
		}
	}

	if len(rec.Failed) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s\n", ErrorStyle.Render("Failed jobs:"))
	limit := len(rec.Failed)
	if !opts.Verbose && limit > 10 {
		limit = 10
	}
	for _, f := range rec.Failed[:limit] {
		msg := f.Error
		if !opts.Verbose {
			msg = truncate(msg, 80)
		}
		fmt.Fprintf(w, "    row %d, %s (%d attempts): %s\n", f.RowIndex, f.View, f.Attempts, msg)
	}
	if limit < len(rec.Failed) {
		fmt.Fprintln(w, MutedStyle.Render(fmt.Sprintf("    ... %d more, use --verbose for all", len(rec.Failed)-limit)))
	}
}

// PrintList prints a titled list, one item per line.
func PrintList(w io.Writer, title string, items []string) {
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("%s (%d)", title, len(items))))
	if len(items) == 0 {
		fmt.Fprintln(w, MutedStyle.Render("  (none)"))
		return
	}
	fmt.Fprintln(w, "  "+strings.Join(items, "\n  "))
}
