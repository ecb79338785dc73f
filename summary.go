package main

import (
	"fmt"
	"strings"

	"github.com/aktagon/news-digest/internal/pipeline"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	nameStyle    = lipgloss.NewStyle().Width(28)
)

func statusStyle(status SourceStatus) lipgloss.Style {
	switch status {
	case StatusSuccess:
		return successStyle
	case StatusError:
		return errorStyle
	default:
		return skippedStyle
	}
}

func statusMark(status SourceStatus) string {
	switch status {
	case StatusSuccess:
		return "✓"
	case StatusError:
		return "✗"
	default:
		return "-"
	}
}

// renderSummary formats a run report for the terminal.
func renderSummary(report *pipeline.RunReport) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Run %s (%s)", report.Date, report.RunID)))
	b.WriteString("\n\n")

	counts := map[SourceStatus]int{}
	for _, r := range resultsFromReport(report) {
		counts[r.Status]++
		style := statusStyle(r.Status)
		name := r.Source
		if name == "" {
			name = r.URL
		}
		line := style.Render(statusMark(r.Status)) + " " + nameStyle.Render(name) + " " + detailStyle.Render(r.Detail)
		b.WriteString(line + "\n")
		if r.Error != nil && r.Status != StatusSuccess {
			b.WriteString("    " + detailStyle.Render(r.Error.Error()) + "\n")
		}
	}

	b.WriteString("\n")
	if report.Combined != nil {
		b.WriteString(report.Combined.String() + "\n")
		for _, path := range report.Combined.Outputs {
			b.WriteString("  " + detailStyle.Render(path) + "\n")
		}
	} else {
		b.WriteString(skippedStyle.Render("combined synthesis skipped") + "\n")
	}

	b.WriteString(fmt.Sprintf("\n%d succeeded, %d skipped, %d failed\n",
		counts[StatusSuccess], counts[StatusSkipped], counts[StatusError]))
	return b.String()
}

// renderStage formats the outcome of a rerun.
func renderStage(phase pipeline.Phase, result pipeline.StageResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Rerun %s", phase)) + "\n")
	b.WriteString(result.String() + "\n")
	for _, path := range result.Outputs {
		b.WriteString("  " + detailStyle.Render(path) + "\n")
	}
	return b.String()
}
