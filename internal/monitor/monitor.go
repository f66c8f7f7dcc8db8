// Package monitor is the interactive dashboard of running agent terminals.
//
// It polls the orchestrator for a status snapshot on a fixed cadence, shows
// the terminals grouped by session, and lets the user type a message into a
// terminal or preview its last response.
package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/timvw/pane-conductor/internal/model"
)

// Source is what the monitor reads from and writes to.
// *terminal.Orchestrator implements it.
type Source interface {
	Snapshot(ctx context.Context, session string) ([]model.Terminal, error)
	SendInput(ctx context.Context, id, text string) error
	GetOutput(ctx context.Context, id string, mode model.OutputMode) (string, error)
}

// Monitor runs the dashboard.
type Monitor struct {
	Source  Source
	Session string        // empty shows every session
	Refresh time.Duration // 0 disables auto-refresh
	Theme   Theme
}

// Run blocks until the user quits.
func (mon *Monitor) Run(ctx context.Context) error {
	p := tea.NewProgram(newModel(ctx, mon), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

type viewMode int

const (
	modeList viewMode = iota
	modeTextInput
)

type snapshotMsg struct {
	terms []model.Terminal
	err   error
}

type sentMsg struct {
	id   string
	text string
	err  error
}

type outputMsg struct {
	id     string
	output string
	err    error
}

type tickMsg struct{}

type tuiModel struct {
	source  Source
	ctx     context.Context
	session string
	refresh time.Duration
	styles  styles

	terms  []model.Terminal
	cursor int
	mode   viewMode

	textInput  textinput.Model
	textTarget string

	spinner    spinner.Model
	refreshing bool

	// preview holds the last response of previewID.
	preview   string
	previewID string

	width   int
	height  int
	message string
	polls   int
}

func newModel(ctx context.Context, mon *Monitor) *tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Type a message and press Enter..."
	ti.CharLimit = 4096
	ti.Width = 80

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	theme := mon.Theme
	if theme == (Theme{}) {
		theme = DarkTheme()
	}
	return &tuiModel{
		source:    mon.Source,
		ctx:       ctx,
		session:   mon.Session,
		refresh:   mon.Refresh,
		styles:    newStyles(theme),
		textInput: ti,
		spinner:   sp,
	}
}

func (m *tuiModel) Init() tea.Cmd {
	m.refreshing = true
	return tea.Batch(m.doSnapshot(), m.spinner.Tick)
}

func (m *tuiModel) scheduleTick() tea.Cmd {
	if m.refresh <= 0 {
		return nil
	}
	return tea.Tick(m.refresh, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *tuiModel) doSnapshot() tea.Cmd {
	source, ctx, session := m.source, m.ctx, m.session
	return func() tea.Msg {
		terms, err := source.Snapshot(ctx, session)
		return snapshotMsg{terms: terms, err: err}
	}
}

func (m *tuiModel) doSend(id, text string) tea.Cmd {
	source, ctx := m.source, m.ctx
	return func() tea.Msg {
		return sentMsg{id: id, text: text, err: source.SendInput(ctx, id, text)}
	}
}

func (m *tuiModel) doOutput(id string) tea.Cmd {
	source, ctx := m.source, m.ctx
	return func() tea.Msg {
		out, err := source.GetOutput(ctx, id, model.OutputLast)
		return outputMsg{id: id, output: out, err: err}
	}
}

// selected returns the terminal under the cursor.
func (m *tuiModel) selected() (model.Terminal, bool) {
	if m.cursor < 0 || m.cursor >= len(m.terms) {
		return model.Terminal{}, false
	}
	return m.terms[m.cursor], true
}

// setTerminals replaces the list, keeping the cursor on the same terminal
// when it still exists.
func (m *tuiModel) setTerminals(terms []model.Terminal) {
	prev, hadPrev := m.selected()

	sort.SliceStable(terms, func(i, j int) bool {
		if terms[i].Session != terms[j].Session {
			return terms[i].Session < terms[j].Session
		}
		return terms[i].CreatedAt.Before(terms[j].CreatedAt)
	})
	m.terms = terms

	m.cursor = 0
	if hadPrev {
		for i, t := range terms {
			if t.ID == prev.ID {
				m.cursor = i
				break
			}
		}
	}
}

func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.refreshing = false
		if msg.err != nil {
			m.message = fmt.Sprintf("Refresh failed: %v", msg.err)
		} else {
			m.polls++
			m.setTerminals(msg.terms)
		}
		return m, m.scheduleTick()

	case tickMsg:
		if m.refreshing || m.mode == modeTextInput {
			return m, m.scheduleTick()
		}
		m.refreshing = true
		return m, m.doSnapshot()

	case sentMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("Send failed: %v", msg.err)
			return m, nil
		}
		m.message = fmt.Sprintf("Sent '%s' to %s", truncate(msg.text, 40), msg.id)
		m.refreshing = true
		return m, m.doSnapshot()

	case outputMsg:
		if msg.err != nil {
			m.message = fmt.Sprintf("No response from %s: %v", msg.id, msg.err)
			m.preview, m.previewID = "", ""
			return m, nil
		}
		m.preview, m.previewID = msg.output, msg.id
		return m, nil
	}

	return m, nil
}

func (m *tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeTextInput {
		return m.handleTextInputKey(msg)
	}
	return m.handleListKey(msg)
}

func (m *tuiModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.terms)-1 {
			m.cursor++
		}

	case "enter", "t":
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode = modeTextInput
		m.textTarget = t.ID
		m.textInput.SetValue("")
		m.textInput.Focus()
		return m, textinput.Blink

	case "o":
		t, ok := m.selected()
		if !ok {
			return m, nil
		}
		return m, m.doOutput(t.ID)

	case "esc":
		m.preview, m.previewID = "", ""

	case "r":
		if m.refreshing {
			return m, nil
		}
		m.refreshing = true
		m.message = ""
		return m, m.doSnapshot()
	}

	return m, nil
}

func (m *tuiModel) handleTextInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = modeList
		m.textTarget = ""
		m.textInput.Blur()
		return m, nil

	case "enter":
		text := m.textInput.Value()
		target := m.textTarget
		m.mode = modeList
		m.textTarget = ""
		m.textInput.Blur()
		if strings.TrimSpace(text) == "" || target == "" {
			return m, nil
		}
		return m, m.doSend(target, text)
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
