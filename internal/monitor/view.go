package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/pane-conductor/internal/model"
)

func (m *tuiModel) View() string {
	if m.mode == modeTextInput {
		return m.viewTextInput()
	}
	return m.viewList()
}

func (m *tuiModel) viewList() string {
	s := m.styles
	var b strings.Builder

	b.WriteString(m.headerLine())
	b.WriteString("\n")

	if len(m.terms) == 0 {
		if m.polls == 0 {
			b.WriteString(s.dim.Render("  loading..."))
		} else {
			b.WriteString(s.dim.Render("  no terminals"))
		}
		b.WriteString("\n")
	}

	session := ""
	for i, t := range m.terms {
		if t.Session != session {
			session = t.Session
			b.WriteString(s.session.Render(session))
			b.WriteString("\n")
		}
		b.WriteString(m.renderRow(i, t))
		b.WriteString("\n")
	}

	if m.preview != "" {
		width := m.width - 4
		if width < 20 {
			width = 76
		}
		b.WriteString("\n")
		b.WriteString(s.dim.Render("last response of " + m.previewID))
		b.WriteString("\n")
		b.WriteString(s.output.Width(width).Render(m.preview))
		b.WriteString("\n")
	}

	if m.message != "" {
		b.WriteString("\n")
		b.WriteString(s.text.Render(m.message))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.hints([][2]string{
		{"↑/↓", "move"},
		{"enter", "send"},
		{"o", "last response"},
		{"r", "refresh"},
		{"q", "quit"},
	}))
	return b.String()
}

func (m *tuiModel) headerLine() string {
	s := m.styles
	counts := make(map[model.Status]int)
	for _, t := range m.terms {
		counts[t.Status]++
	}

	parts := []string{s.title.Render("pane-conductor")}
	if m.session != "" {
		parts = append(parts, s.dim.Render(m.session))
	}
	parts = append(parts, s.text.Render(fmt.Sprintf("%d terminals", len(m.terms))))
	for _, st := range []model.Status{model.StatusIdle, model.StatusProcessing, model.StatusCompleted, model.StatusError} {
		if counts[st] > 0 {
			parts = append(parts, s.status(st).Render(fmt.Sprintf("%d %s", counts[st], st)))
		}
	}
	if m.refreshing {
		parts = append(parts, m.spinner.View())
	}
	return strings.Join(parts, "  ")
}

func (m *tuiModel) renderRow(i int, t model.Terminal) string {
	s := m.styles
	cursor := "  "
	if i == m.cursor {
		cursor = s.title.Render("> ")
	}

	name := padRight(t.Name(), 24)
	profile := padRight(t.AgentProfile, 16)
	status := s.status(t.Status).Render(padRight(string(t.Status), 11))
	line := fmt.Sprintf("%s%s %s %s %s %s",
		icon(t.Status), name, s.dim.Render(t.ID), profile, s.provider.Render(padRight(string(t.Provider), 12)), status)
	if !t.LastActive.IsZero() {
		line += " " + s.dim.Render(age(time.Since(t.LastActive)))
	}

	if i == m.cursor {
		return cursor + s.selected.Render(line)
	}
	return cursor + line
}

func (m *tuiModel) viewTextInput() string {
	s := m.styles
	var b strings.Builder
	b.WriteString(s.title.Render("Send to " + m.textTarget))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")
	b.WriteString(m.hints([][2]string{{"enter", "send"}, {"esc", "cancel"}}))
	return b.String()
}

func (m *tuiModel) hints(pairs [][2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, m.styles.hintKey.Render(p[0])+" "+m.styles.hintDesc.Render(p[1]))
	}
	return strings.Join(parts, "  ")
}

func icon(st model.Status) string {
	switch st {
	case model.StatusIdle:
		return "● "
	case model.StatusProcessing:
		return "◐ "
	case model.StatusCompleted:
		return "✓ "
	case model.StatusError:
		return "✗ "
	}
	return "  "
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
