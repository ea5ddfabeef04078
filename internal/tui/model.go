// Package tui is a terminal view over one project's editor. It renders store
// snapshots and turns key presses into editor operations.
package tui

import (
	"context"
	"fmt"
	"strings"

	"aidoc/editor/internal/editor"
	"aidoc/editor/internal/section"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

type inputMode int

const (
	modeBrowse inputMode = iota
	modeRefine
	modeNotes
	modeCreate
	modeConfirmDelete
)

type loadedMsg struct{ err error }

type snapshotMsg section.Snapshot

type eventMsg editor.Event

// opDoneMsg reports a finished backend operation started from a key press.
type opDoneMsg struct {
	op        string
	sectionID int64
	err       error
}

type Model struct {
	ctx context.Context
	ed  *editor.Editor

	sub        *section.Subscription
	events     <-chan editor.Event
	stopEvents func()

	sections []section.Section
	cursor   int
	mode     inputMode
	// target is the section an open input or delete prompt applies to.
	target int64
	input  textinput.Model
	spin   spinner.Model

	loaded bool
	status string
	errMsg string
	width  int
	height int
}

func New(ctx context.Context, ed *editor.Editor) *Model {
	input := textinput.New()
	input.CharLimit = 4000
	input.Width = 60
	input.Cursor.SetMode(cursor.CursorStatic)

	events, stop := ed.SubscribeEvents(32)
	return &Model{
		ctx:        ctx,
		ed:         ed,
		sub:        ed.Subscribe(),
		events:     events,
		stopEvents: stop,
		input:      input,
		spin:       spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(busyStyle)),
		status:     "Loading project...",
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.load(), m.waitSnapshot(), m.waitEvent(), m.spin.Tick)
}

// Close ends the model's subscriptions.
func (m *Model) Close() {
	m.sub.Close()
	m.stopEvents()
}

func (m *Model) load() tea.Cmd {
	return func() tea.Msg {
		_, err := m.ed.Load(m.ctx)
		return loadedMsg{err: err}
	}
}

func (m *Model) waitSnapshot() tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-m.sub.C
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.events
		if !ok {
			return nil
		}
		return eventMsg(event)
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = max(20, msg.Width-12)
		return m, nil

	case loadedMsg:
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("Load failed: %v (R to retry)", msg.err)
			m.status = ""
			return m, nil
		}
		m.loaded = true
		m.errMsg = ""
		m.status = ""
		m.sync()
		return m, nil

	case snapshotMsg:
		m.setSections(msg.Sections)
		return m, m.waitSnapshot()

	case eventMsg:
		m.handleEvent(editor.Event(msg))
		return m, m.waitEvent()

	case opDoneMsg:
		m.loaded = m.ed.Loaded()
		m.sync()
		if msg.err != nil {
			m.errMsg = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		} else {
			m.errMsg = ""
			m.status = doneStatus(msg.op)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.mode != modeBrowse {
			return m.updateInput(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

func (m *Model) handleEvent(event editor.Event) {
	switch event.Kind {
	case editor.EventReorderReverted:
		m.status = "Order reverted: the backend rejected the move"
	case editor.EventReorderStuck:
		m.errMsg = "Order not saved and could not be reloaded (R to refresh)"
	case editor.EventOperationFailed:
		if event.Error != "" {
			m.errMsg = event.Error
		}
	}
}

func (m *Model) sync() {
	m.setSections(m.ed.Snapshot().Sections)
}

func (m *Model) setSections(sections []section.Section) {
	var selected int64
	if cur, ok := m.current(); ok {
		selected = cur.ID
	}
	m.sections = sections
	// keep the cursor on the same section when it moved
	for i, s := range sections {
		if s.ID == selected {
			m.cursor = i
			return
		}
	}
	m.clampCursor()
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.sections) {
		m.cursor = len(m.sections) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) current() (section.Section, bool) {
	if m.cursor < 0 || m.cursor >= len(m.sections) {
		return section.Section{}, false
	}
	return m.sections[m.cursor], true
}

func (m *Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q":
		return m, tea.Quit
	case "R":
		m.status = "Refreshing..."
		return m, m.run("refresh", 0, func() error {
			applied, err := m.ed.Refresh(m.ctx)
			if err == nil && !applied {
				return fmt.Errorf("a reorder is still unconfirmed, try again")
			}
			return err
		})
	}

	if !m.loaded {
		return m, nil
	}

	switch key {
	case "a":
		m.openInput(modeCreate, 0, "New section title", "")
		return m, textinput.Blink
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
		return m, nil
	case "down", "j":
		if m.cursor < len(m.sections)-1 {
			m.cursor++
		}
		return m, nil
	case "K":
		return m, m.move(-1)
	case "J":
		return m, m.move(1)
	}

	cur, ok := m.current()
	if !ok {
		return m, nil
	}
	switch key {
	case "g":
		return m, m.run("generate", cur.ID, func() error {
			_, err := m.ed.Generate(m.ctx, cur.ID)
			return err
		})
	case "r":
		m.openInput(modeRefine, cur.ID, "How should this section change?", m.ed.RefinePrompt(cur.ID))
		return m, textinput.Blink
	case "n":
		draft, _, err := m.ed.NotesDraft(m.ctx, cur.ID)
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		m.openInput(modeNotes, cur.ID, "Notes for the generator", draft)
		return m, textinput.Blink
	case "+":
		return m, m.feedback(cur.ID, section.FeedbackLike)
	case "-":
		return m, m.feedback(cur.ID, section.FeedbackDislike)
	case "0":
		return m, m.feedback(cur.ID, section.FeedbackNone)
	case "d":
		m.mode = modeConfirmDelete
		m.target = cur.ID
		m.status = fmt.Sprintf("Delete %q? (y/n)", cur.Title)
		return m, nil
	}
	return m, nil
}

func (m *Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode == modeConfirmDelete {
		id := m.target
		m.closeInput()
		if msg.String() != "y" {
			m.status = "Delete cancelled"
			return m, nil
		}
		m.status = "Deleting..."
		return m, m.run("delete", id, func() error {
			return m.ed.Delete(m.ctx, id)
		})
	}

	switch msg.Type {
	case tea.KeyEsc:
		if m.mode == modeRefine {
			m.ed.SetRefinePrompt(m.target, m.input.Value())
		}
		m.closeInput()
		return m, nil
	case tea.KeyEnter:
		return m, m.submitInput()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	switch m.mode {
	case modeNotes:
		if err := m.ed.EditNotes(m.ctx, m.target, m.input.Value()); err != nil {
			m.errMsg = err.Error()
		}
	case modeRefine:
		m.ed.SetRefinePrompt(m.target, m.input.Value())
	}
	return m, cmd
}

func (m *Model) submitInput() tea.Cmd {
	mode, id, value := m.mode, m.target, m.input.Value()
	m.closeInput()
	switch mode {
	case modeCreate:
		m.status = "Creating section..."
		return m.run("create", 0, func() error {
			_, err := m.ed.Create(m.ctx, value)
			return err
		})
	case modeRefine:
		m.ed.SetRefinePrompt(id, value)
		return m.run("refine", id, func() error {
			_, err := m.ed.Refine(m.ctx, id, value)
			return err
		})
	case modeNotes:
		return m.run("notes", id, func() error {
			_, err := m.ed.CommitNotes(m.ctx, id)
			return err
		})
	}
	return nil
}

func (m *Model) openInput(mode inputMode, target int64, placeholder, value string) {
	m.mode = mode
	m.target = target
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) closeInput() {
	m.mode = modeBrowse
	m.target = 0
	m.input.Blur()
	m.input.SetValue("")
}

func (m *Model) move(delta int) tea.Cmd {
	dst := m.cursor + delta
	if dst < 0 || dst >= len(m.sections) {
		return nil
	}
	if _, err := m.ed.Reorder(m.cursor, dst); err != nil {
		m.errMsg = err.Error()
		return nil
	}
	m.cursor = dst
	m.sections = m.ed.Snapshot().Sections
	return nil
}

func (m *Model) feedback(id int64, fb section.Feedback) tea.Cmd {
	return m.run("feedback", id, func() error {
		_, err := m.ed.SetFeedback(m.ctx, id, fb)
		return err
	})
}

// run performs call off the update loop and reports back with opDoneMsg.
func (m *Model) run(op string, sectionID int64, call func() error) tea.Cmd {
	m.errMsg = ""
	return func() tea.Msg {
		return opDoneMsg{op: op, sectionID: sectionID, err: call()}
	}
}

func doneStatus(op string) string {
	switch op {
	case "refresh":
		return "Project reloaded"
	case "notes":
		return "Notes saved"
	case "create":
		return "Section added"
	case "delete":
		return "Section deleted"
	default:
		return strings.ToUpper(op[:1]) + op[1:] + " done"
	}
}
