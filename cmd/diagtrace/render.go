package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/WessleyAI/diagtrace/engine/analyze"
	"github.com/WessleyAI/diagtrace/engine/domain"
	"github.com/WessleyAI/diagtrace/engine/history"
	"github.com/WessleyAI/diagtrace/engine/report"
	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	colorPrimary = lipgloss.Color("#00D4FF")
	colorSuccess = lipgloss.Color("#10B981")
	colorWarning = lipgloss.Color("#F59E0B")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	labelStyle = lipgloss.NewStyle().
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	rootStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorError)

	explanationStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(colorMuted).
				Padding(0, 1)
)

var priorityStyles = map[domain.Priority]lipgloss.Style{
	domain.PriorityCritical: lipgloss.NewStyle().Bold(true).Foreground(colorError),
	domain.PriorityHigh:     lipgloss.NewStyle().Bold(true).Foreground(colorWarning),
	domain.PriorityMedium:   lipgloss.NewStyle().Foreground(colorPrimary),
	domain.PriorityLow:      lipgloss.NewStyle().Foreground(colorMuted),
}

func confidenceStyle(c float64) lipgloss.Style {
	switch {
	case c >= 0.7:
		return lipgloss.NewStyle().Bold(true).Foreground(colorSuccess)
	case c >= 0.4:
		return lipgloss.NewStyle().Bold(true).Foreground(colorWarning)
	default:
		return lipgloss.NewStyle().Bold(true).Foreground(colorError)
	}
}

func percent(v float64) string { return fmt.Sprintf("%.0f%%", v*100) }

func moduleText(p domain.PrimaryModule) string {
	s := fmt.Sprintf("%s (%s)", p.Name, p.Address)
	if p.IsFallback {
		s += mutedStyle.Render(" not identified from log")
	}
	return s
}

// renderReport writes the human-readable form of r. explanation is
// optional.
func renderReport(w io.Writer, r *domain.RootCauseReport, explanation string) {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Session "+r.SessionID) + "\n\n")
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Module:    "), moduleText(r.PrimaryModule))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Confidence:"), confidenceStyle(r.Confidence).Render(percent(r.Confidence)))
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("Events:    "), r.EventCount)

	b.WriteString("\n" + labelStyle.Render("Root cause") + "\n")
	if root := r.Chain.Root; root != nil {
		fmt.Fprintf(&b, "  %s on line %d\n", rootStyle.Render(root.Category.Label()), root.Event.LineNumber)
		fmt.Fprintf(&b, "  %s\n", mutedStyle.Render(report.Excerpt(root.Event.RawText, report.DefaultExcerptLimit)))
	} else {
		b.WriteString("  " + mutedStyle.Render("none, the session contains no errors") + "\n")
	}

	if len(r.Chain.Symptoms) > 0 {
		b.WriteString("\n" + labelStyle.Render("Symptoms") + "\n")
		for _, s := range r.Chain.Symptoms {
			fmt.Fprintf(&b, "  - %s on line %d\n", s.Category.Label(), s.Event.LineNumber)
		}
	}
	if n := len(r.Chain.Unrelated); n > 0 {
		fmt.Fprintf(&b, "\n%s\n", mutedStyle.Render(fmt.Sprintf("%d other error(s) not linked to the root", n)))
	}

	if len(r.NRCs) > 0 {
		b.WriteString("\n" + labelStyle.Render("Negative responses") + "\n")
		for _, n := range r.NRCs {
			fmt.Fprintf(&b, "  0x%s %s x%d\n", n.Code, n.Text, n.Count)
		}
	}
	if len(r.DTCs) > 0 {
		fmt.Fprintf(&b, "\n%s %s\n", labelStyle.Render("DTCs:"), strings.Join(r.DTCs, ", "))
	}

	b.WriteString("\n" + labelStyle.Render("Summary") + "\n  " + r.ProximateCause + "\n")

	if len(r.Recommendations) > 0 {
		b.WriteString("\n" + labelStyle.Render("Recommended steps") + "\n")
		for i, rec := range r.Recommendations {
			fmt.Fprintf(&b, "  %d. %s %s %s\n", i+1,
				priorityStyles[rec.Priority].Render("["+string(rec.Priority)+"]"),
				rec.Step,
				mutedStyle.Render("("+percent(rec.EstSuccessRate)+")"))
		}
	}

	if explanation != "" {
		b.WriteString("\n" + explanationStyle.Render(explanation) + "\n")
	}
	fmt.Fprint(w, b.String())
}

func rootText(r *domain.RootCauseReport) string {
	if r.Chain.Root == nil {
		return "none"
	}
	return string(r.RootCategory())
}

// renderBatchRow writes one summary line for a batch or watch result.
func renderBatchRow(w io.Writer, res analyze.Result) {
	if res.Err != nil {
		fmt.Fprintf(w, "%-32s %s\n", res.Name, rootStyle.Render("error: "+res.Err.Error()))
		return
	}
	r := res.Report
	fmt.Fprintf(w, "%-32s %-6s %-18s %s\n", res.Name,
		r.PrimaryModule.Address,
		rootText(r),
		confidenceStyle(r.Confidence).Render(percent(r.Confidence)))
}

func renderHistory(w io.Writer, entries []history.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no saved sessions"))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%-16s %-20s %-6s %-18s %-6s %s",
		"SESSION", "SAVED", "ECU", "ROOT", "CONF", "OUTCOME")))
	for _, e := range entries {
		outcome := mutedStyle.Render("pending")
		if e.Resolved != nil {
			if *e.Resolved {
				outcome = lipgloss.NewStyle().Foreground(colorSuccess).Render("fixed")
			} else {
				outcome = lipgloss.NewStyle().Foreground(colorError).Render("not fixed")
			}
		}
		root := string(e.RootCategory)
		if root == "" {
			root = "none"
		}
		fmt.Fprintf(w, "%-16s %-20s %-6s %-18s %-6s %s\n",
			e.SessionID,
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Module,
			root,
			percent(e.Confidence),
			outcome)
	}
}
