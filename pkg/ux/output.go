// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders analysis answers for the terminal.
//
// A Printer styles output with lipgloss when it writes to a terminal and
// falls back to plain text otherwise, so piped output stays greppable.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/signalk-analyst/services/analyst/datatypes"
)

// Palette: deep ocean teals plus the usual semantic colors.
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")
	ColorWarning     = lipgloss.Color("#F4D03F")
	ColorError       = lipgloss.Color("#E74C3C")
)

// Styles holds the lipgloss styles used by Printer.
var Styles = struct {
	Title    lipgloss.Style
	Heading  lipgloss.Style
	Muted    lipgloss.Style
	Warning  lipgloss.Style
	Error    lipgloss.Style
	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Heading: lipgloss.NewStyle().Bold(true).Foreground(ColorTealPrimary),
	Muted:   lipgloss.NewStyle().Foreground(ColorSlate),
	Warning: lipgloss.NewStyle().Foreground(ColorWarning),
	Error:   lipgloss.NewStyle().Foreground(ColorError),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconBullet  Icon = "•"
	IconAnchor  Icon = "⚓"
)

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled or plain output to w.
type Printer struct {
	w      io.Writer
	styled bool
}

// NewPrinter creates a printer for w. Styling is enabled when w is a
// terminal and NO_COLOR is unset.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, styled: IsTerminal(w) && os.Getenv("NO_COLOR") == ""}
}

// NewPlainPrinter creates a printer that never styles.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Styled reports whether the printer applies lipgloss styles.
func (p *Printer) Styled() bool {
	return p.styled
}

func (p *Printer) render(style lipgloss.Style, text string) string {
	if !p.styled {
		return text
	}
	return style.Render(text)
}

// Answer prints an analysis answer: the analysis text, then insights,
// recommendations and anomalies when present, then a metadata footer.
func (p *Printer) Answer(resp *datatypes.AnalysisResponse) {
	body := strings.TrimSpace(resp.Analysis)
	if p.styled {
		fmt.Fprintln(p.w, Styles.Box.Render(body))
	} else {
		fmt.Fprintln(p.w, body)
	}

	p.list("Insights", resp.Insights)
	p.list("Recommendations", resp.Recommendations)
	if len(resp.Anomalies) > 0 {
		lines := make([]string, 0, len(resp.Anomalies))
		for _, a := range resp.Anomalies {
			lines = append(lines, formatAnomaly(a))
		}
		p.list("Anomalies", lines)
	}

	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.render(Styles.Muted, footer(resp)))
	if resp.Metadata.Truncated {
		fmt.Fprintln(p.w, p.render(Styles.Warning, string(IconWarning)+" Round limit reached; the answer may be incomplete."))
	}
}

func (p *Printer) list(title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(p.w)
	fmt.Fprintln(p.w, p.render(Styles.Heading, title))
	for _, item := range items {
		fmt.Fprintf(p.w, "  %s %s\n", IconBullet, item)
	}
}

func formatAnomaly(a datatypes.Anomaly) string {
	var b strings.Builder
	if a.Severity != "" {
		fmt.Fprintf(&b, "[%s] ", a.Severity)
	}
	b.WriteString(a.Description)
	if a.Path != "" {
		fmt.Fprintf(&b, " (%s", a.Path)
		if a.Timestamp != "" {
			fmt.Fprintf(&b, " at %s", a.Timestamp)
		}
		b.WriteString(")")
	}
	return b.String()
}

func footer(resp *datatypes.AnalysisResponse) string {
	m := resp.Metadata
	parts := []string{
		fmt.Sprintf("confidence %.2f", resp.Confidence),
		"data " + resp.DataQuality,
		fmt.Sprintf("%d queries", m.QueriesExecuted),
		fmt.Sprintf("%d rounds", m.Rounds),
	}
	if m.ConversationID != "" {
		parts = append(parts, "conversation "+m.ConversationID)
	}
	return strings.Join(parts, " | ")
}

// Summaries prints stored answers as a table, newest first.
func (p *Printer) Summaries(items []datatypes.AnalysisSummary) {
	if len(items) == 0 {
		fmt.Fprintln(p.w, p.render(Styles.Muted, "No stored analyses."))
		return
	}
	fmt.Fprintln(p.w, p.render(Styles.Heading, fmt.Sprintf("%-36s  %-20s  %-11s  %5s  %s", "ID", "TIME", "MODE", "CONF", "QUESTION")))
	for _, s := range items {
		fmt.Fprintf(p.w, "%-36s  %-20s  %-11s  %5.2f  %s\n",
			s.ID, s.Timestamp.UTC().Format(time.RFC3339), s.Mode, s.Confidence, Truncate(s.Question, 60))
	}
}

// Success prints a confirmation line.
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.w, p.render(Styles.Title, string(IconSuccess)+" "+msg))
}

// Error prints err, boxed when styled.
func (p *Printer) Error(err error) {
	msg := string(IconError) + " " + err.Error()
	if p.styled {
		fmt.Fprintln(p.w, Styles.ErrorBox.Render(Styles.Error.Render(msg)))
		return
	}
	fmt.Fprintln(p.w, msg)
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
