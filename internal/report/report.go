// Package report renders run results and ledger contents for terminals.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/specialistvlad/deploygrid/internal/ledger"
	"github.com/specialistvlad/deploygrid/internal/pipeline"
)

// styles binds lipgloss styles to one output. Writers that are not terminals
// get plain text.
type styles struct {
	header   lipgloss.Style
	name     lipgloss.Style
	dim      lipgloss.Style
	statuses map[pipeline.Status]lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	badge := func(color string) lipgloss.Style {
		return r.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Width(10)
	}
	return styles{
		header: r.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
		name:   r.NewStyle().Foreground(lipgloss.Color("231")),
		dim:    r.NewStyle().Foreground(lipgloss.Color("245")),
		statuses: map[pipeline.Status]lipgloss.Style{
			pipeline.StatusDeployed: badge("46"),
			pipeline.StatusSkipped:  badge("245"),
			pipeline.StatusPlanned:  badge("226"),
			pipeline.StatusFailed:   badge("196"),
			pipeline.StatusPending:  badge("245"),
		},
	}
}

func (s styles) status(st pipeline.Status) string {
	style, ok := s.statuses[st]
	if !ok {
		style = s.dim.Width(10)
	}
	return style.Render(string(st))
}

// Run writes one line per step followed by a summary.
func Run(w io.Writer, rep *pipeline.Report) error {
	s := newStyles(w)
	var b strings.Builder

	title := fmt.Sprintf("Network %s", rep.Network)
	if rep.DryRun {
		title += " (dry run)"
	}
	b.WriteString(s.header.Render(title))
	b.WriteByte('\n')

	width := 0
	for _, res := range rep.Results {
		width = max(width, len(res.StepName))
	}

	for _, res := range rep.Results {
		b.WriteString(s.status(res.Status))
		b.WriteString(s.name.Width(width + 2).Render(res.StepName))
		switch {
		case res.Err != nil:
			b.WriteString(res.Err.Error())
		case res.ArtifactID != "":
			b.WriteString(res.ArtifactID)
		}
		if res.Duration > 0 && res.Status == pipeline.StatusDeployed {
			b.WriteString(s.dim.Render(fmt.Sprintf(" (%s)", res.Duration.Round(time.Millisecond))))
		}
		b.WriteByte('\n')
	}

	b.WriteString(s.dim.Render(Summary(rep)))
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// Summary returns a one-line count of step outcomes, e.g.
// "3 steps: 1 deployed, 2 skipped".
func Summary(rep *pipeline.Report) string {
	order := []pipeline.Status{
		pipeline.StatusDeployed,
		pipeline.StatusPlanned,
		pipeline.StatusSkipped,
		pipeline.StatusFailed,
	}
	var parts []string
	for _, st := range order {
		if n := rep.Count(st); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	noun := "steps"
	if len(rep.Results) == 1 {
		noun = "step"
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%d %s", len(rep.Results), noun)
	}
	return fmt.Sprintf("%d %s: %s", len(rep.Results), noun, strings.Join(parts, ", "))
}

// Ledger writes one line per record, sorted by step name.
func Ledger(w io.Writer, network string, records []ledger.Record) error {
	s := newStyles(w)
	var b strings.Builder
	b.WriteString(s.header.Render(fmt.Sprintf("Ledger for %s", network)))
	b.WriteByte('\n')
	if len(records) == 0 {
		b.WriteString(s.dim.Render("no deployments recorded"))
		b.WriteByte('\n')
	}
	for _, rec := range records {
		b.WriteString(ledger.Describe(rec))
		if !rec.DeployedAt.IsZero() {
			b.WriteString(s.dim.Render("  " + rec.DeployedAt.UTC().Format("2006-01-02 15:04:05Z")))
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}
