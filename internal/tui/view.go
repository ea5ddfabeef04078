package tui

import (
	"fmt"
	"strings"

	"aidoc/editor/internal/section"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B"))
	metaStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#5B8DEF"))
	busyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F5A623"))
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F56"))
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7FD1AE"))
	previewStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const helpText = "j/k move · J/K reorder · g generate · r refine · n notes · +/-/0 feedback · a add · d delete · R refresh · q quit"

func (m *Model) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}

	project := m.ed.Project()
	header := titleStyle.Render(fallback(project.Title, fmt.Sprintf("Project %d", m.ed.ProjectID())))
	if project.DocType != "" {
		header += " " + metaStyle.Render(string(project.DocType))
	}

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n\n")

	if !m.loaded && m.errMsg == "" {
		b.WriteString(m.spin.View() + " " + m.status + "\n")
		return b.String()
	}

	if len(m.sections) == 0 && m.loaded {
		b.WriteString(metaStyle.Render("No sections yet. Press a to add one."))
		b.WriteString("\n")
	}
	for i, s := range m.sections {
		b.WriteString(m.renderRow(i, s))
		b.WriteString("\n")
	}

	if cur, ok := m.current(); ok {
		b.WriteString("\n")
		b.WriteString(previewStyle.Width(max(20, width-4)).Render(m.renderPreview(cur)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch m.mode {
	case modeCreate, modeRefine, modeNotes:
		b.WriteString(m.inputLabel() + "\n" + m.input.View() + "\n")
		b.WriteString(helpStyle.Render("enter save · esc cancel"))
	default:
		b.WriteString(helpStyle.Render(helpText))
	}
	b.WriteString("\n")

	if m.errMsg != "" {
		b.WriteString(errorStyle.Render(m.errMsg) + "\n")
	} else if m.status != "" {
		b.WriteString(statusStyle.Render(m.status) + "\n")
	}
	return b.String()
}

func (m *Model) renderRow(i int, s section.Section) string {
	marker := "  "
	title := s.Title
	if i == m.cursor {
		marker = "> "
		title = selectedStyle.Render(title)
	}

	var flags []string
	if !s.HasContent() {
		flags = append(flags, "empty")
	}
	switch s.Feedback {
	case section.FeedbackLike:
		flags = append(flags, "+")
	case section.FeedbackDislike:
		flags = append(flags, "-")
	}
	if s.Notes() != "" {
		flags = append(flags, "notes")
	}

	row := fmt.Sprintf("%s%2d. %s", marker, s.SectionOrder+1, title)
	if len(flags) > 0 {
		row += " " + metaStyle.Render("["+strings.Join(flags, " ")+"]")
	}
	if kind, busy := m.ed.Busy(s.ID); busy {
		row += " " + m.spin.View() + busyStyle.Render(" "+string(kind))
	}
	return row
}

func (m *Model) renderPreview(s section.Section) string {
	body := s.Content()
	if strings.TrimSpace(body) == "" {
		body = metaStyle.Render("Nothing generated yet. Press g to generate.")
	} else if lines := strings.Split(body, "\n"); len(lines) > 12 {
		body = strings.Join(lines[:12], "\n") + "\n" + metaStyle.Render("…")
	}
	if notes := s.Notes(); notes != "" {
		body += "\n\n" + metaStyle.Render("Notes: "+notes)
	}
	return body
}

func (m *Model) inputLabel() string {
	switch m.mode {
	case modeCreate:
		return "Add section"
	case modeRefine:
		return "Refine prompt"
	case modeNotes:
		return "Notes draft"
	}
	return ""
}

func fallback(value, alt string) string {
	if strings.TrimSpace(value) == "" {
		return alt
	}
	return value
}
