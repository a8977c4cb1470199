package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/dd0wney/cluso-archmap/pkg/diag"
	"github.com/dd0wney/cluso-archmap/pkg/diff"
	"github.com/dd0wney/cluso-archmap/pkg/finding"
	"github.com/dd0wney/cluso-archmap/pkg/snapshot"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00FFFF"))

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(0, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	addedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	removedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	changedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))

	severityStyles = map[finding.Severity]lipgloss.Style{
		finding.SeverityHigh:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000")),
		finding.SeverityMedium: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFA500")),
		finding.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		finding.SeverityInfo:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FFFF")),
	}
)

func severityLabel(s finding.Severity) string {
	label := fmt.Sprintf("%-6s", strings.ToUpper(string(s)))
	if st, ok := severityStyles[s]; ok {
		return st.Render(label)
	}
	return label
}

func renderSummary(w io.Writer, m snapshot.Metadata, findings []finding.Finding) {
	counts := finding.CountBySeverity(findings)
	var sev []string
	for _, s := range finding.Severities {
		if counts[s] > 0 {
			sev = append(sev, fmt.Sprintf("%s %d", severityLabel(s), counts[s]))
		}
	}
	if len(sev) == 0 {
		sev = append(sev, mutedStyle.Render("no findings"))
	}

	body := strings.Join([]string{
		titleStyle.Render("Scan " + m.ScanID),
		fmt.Sprintf("Target:    %s", m.TargetPath),
		fmt.Sprintf("Created:   %s", m.CreatedAt.Format(time.RFC3339)),
		fmt.Sprintf("Entities:  %d", m.Entities),
		fmt.Sprintf("Relations: %d", m.Relations),
		fmt.Sprintf("Dangling:  %d", m.Dangling),
		fmt.Sprintf("Findings:  %s", strings.Join(sev, "  ")),
	}, "\n")
	fmt.Fprintln(w, statsBoxStyle.Render(body))
}

func renderFindings(w io.Writer, findings []finding.Finding) {
	if len(findings) == 0 {
		return
	}
	fmt.Fprintln(w, headerStyle.Render("Findings"))
	for _, f := range findings {
		fmt.Fprintf(w, "  %s %-24s %s\n", severityLabel(f.Severity), f.RuleKind, f.Explanation)
	}
}

func renderDiagnostics(w io.Writer, items []diag.Diagnostic) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w, headerStyle.Render("Diagnostics"))
	for _, d := range items {
		fmt.Fprintf(w, "  %s\n", mutedStyle.Render(d.String()))
	}
}

func renderHistory(w io.Writer, ms []snapshot.Metadata) {
	if len(ms) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no snapshots"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-38s %-20s %8s %9s %8s", "SCAN", "CREATED", "ENTITIES", "RELATIONS", "FINDINGS")))
	for _, m := range ms {
		fmt.Fprintf(w, "%-38s %-20s %8d %9d %8d\n",
			m.ScanID, m.CreatedAt.Format(time.RFC3339), m.Entities, m.Relations, m.Findings)
	}
}

func renderDiff(w io.Writer, d *diff.Diff) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Diff %s -> %s", d.From, d.To)))
	if d.Empty() {
		fmt.Fprintln(w, mutedStyle.Render("no changes"))
		return
	}

	section := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintln(w, headerStyle.Render(title))
		for _, l := range lines {
			fmt.Fprintln(w, "  "+l)
		}
	}

	var entities []string
	for _, e := range d.EntitiesAdded {
		entities = append(entities, addedStyle.Render(fmt.Sprintf("+ %s (%s)", e.Name, e.Kind)))
	}
	for _, e := range d.EntitiesRemoved {
		entities = append(entities, removedStyle.Render(fmt.Sprintf("- %s (%s)", e.Name, e.Kind)))
	}
	for _, c := range d.EntitiesModified {
		entities = append(entities, changedStyle.Render(fmt.Sprintf("~ %s: %d attribute change(s)", c.Name, len(c.Attributes))))
	}
	section("Entities", entities)

	var relations []string
	for _, r := range d.RelationsAdded {
		relations = append(relations, addedStyle.Render("+ "+r.Key().String()))
	}
	for _, r := range d.RelationsRemoved {
		relations = append(relations, removedStyle.Render("- "+r.Key().String()))
	}
	for _, c := range d.RelationsModified {
		relations = append(relations, changedStyle.Render("~ "+c.Key.String()))
	}
	section("Relations", relations)

	var findings []string
	for _, f := range d.FindingsIntroduced {
		findings = append(findings, addedStyle.Render("+ ")+severityLabel(f.Severity)+" "+f.Explanation)
	}
	for _, f := range d.FindingsResolved {
		findings = append(findings, removedStyle.Render("- ")+severityLabel(f.Severity)+" "+f.Explanation)
	}
	for _, c := range d.FindingsChanged {
		findings = append(findings, changedStyle.Render("~ ")+severityLabel(c.SeverityTo)+" "+c.ExplanationTo)
	}
	section("Findings", findings)
}
