package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/ancvm"
	"github.com/wippyai/ancvm/program"
	"github.com/wippyai/ancvm/runtime"
)

// maxHistory bounds the calls kept on screen.
const maxHistory = 8

var (
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98"))
	valTypeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#87CEEB"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90"))
	trapStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E6F9E")).
			Padding(0, 1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#2E6F9E"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

type keyMap struct {
	Up    key.Binding
	Down  key.Binding
	Next  key.Binding
	Call  key.Binding
	Back  key.Binding
	Quit  key.Binding
	Abort key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Up:    key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:  key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Next:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
		Call:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "call")),
		Back:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
		Quit:  key.NewBinding(key.WithKeys("q"), key.WithHelp("q", "quit")),
		Abort: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

// browseKeys and argKeys implement help.KeyMap for the two input modes.
type browseKeys struct{ keyMap }

func (k browseKeys) ShortHelp() []key.Binding  { return []key.Binding{k.Up, k.Down, k.Call, k.Quit} }
func (k browseKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

type argKeys struct{ keyMap }

func (k argKeys) ShortHelp() []key.Binding  { return []key.Binding{k.Next, k.Call, k.Back, k.Abort} }
func (k argKeys) FullHelp() [][]key.Binding { return [][]key.Binding{k.ShortHelp()} }

type export struct {
	fn   *program.Function
	name string
}

// record is one finished call shown in the history panel.
type record struct {
	err     error
	call    string
	results string
	elapsed time.Duration
}

type mode int

const (
	modeBrowse mode = iota
	modeArgs
	modeRunning
)

type interactiveModel struct {
	ctx     context.Context
	proc    *runtime.Process
	keys    keyMap
	help    help.Model
	title   string
	exports []export
	inputs  []textinput.Model
	history []record
	cursor  int
	focus   int
	mode    mode
}

func newInteractiveModel(ctx context.Context, title string, prog *program.Program, proc *runtime.Process) *interactiveModel {
	m := &interactiveModel{
		ctx:   ctx,
		proc:  proc,
		keys:  newKeyMap(),
		help:  help.New(),
		title: title + "  " + prog.String(),
	}
	for _, name := range prog.ExportNames() {
		if fn, ok := prog.Func(name); ok {
			m.exports = append(m.exports, export{name: name, fn: fn})
		}
	}
	return m
}

type callDoneMsg record

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case callDoneMsg:
		m.history = append(m.history, record(msg))
		if len(m.history) > maxHistory {
			m.history = m.history[len(m.history)-maxHistory:]
		}
		m.mode = modeBrowse
		return m, nil

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Abort) {
			return m, tea.Quit
		}
		switch m.mode {
		case modeBrowse:
			return m.browse(msg)
		case modeArgs:
			return m.editArgs(msg)
		}
	}
	return m, nil
}

func (m *interactiveModel) browse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.exports)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Call):
		if len(m.exports) == 0 {
			return m, nil
		}
		m.inputs = argInputs(m.exports[m.cursor].fn)
		m.focus = 0
		if len(m.inputs) == 0 {
			return m, m.run()
		}
		m.mode = modeArgs
	}
	return m, nil
}

func (m *interactiveModel) editArgs(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		m.mode = modeBrowse
		m.inputs = nil
		return m, nil
	case key.Matches(msg, m.keys.Call):
		return m, m.run()
	case key.Matches(msg, m.keys.Next):
		m.inputs[m.focus].Blur()
		m.focus = (m.focus + 1) % len(m.inputs)
		return m, m.inputs[m.focus].Focus()
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func argInputs(fn *program.Function) []textinput.Model {
	inputs := make([]textinput.Model, len(fn.Sig.Params))
	for i, t := range fn.Sig.Params {
		in := textinput.New()
		in.Prompt = fmt.Sprintf("%d %s ", i, valTypeStyle.Render(t.String()))
		in.Placeholder = "0"
		in.Width = 32
		if i == 0 {
			in.Focus()
		}
		inputs[i] = in
	}
	return inputs
}

// run parses the arguments and calls the selected export on a new thread.
// A trap ends up in the history; the process keeps running.
func (m *interactiveModel) run() tea.Cmd {
	e := m.exports[m.cursor]
	raw := make([]string, len(m.inputs))
	for i, in := range m.inputs {
		raw[i] = in.Value()
		if raw[i] == "" {
			raw[i] = "0"
		}
	}
	m.mode = modeRunning
	label := e.name + "(" + strings.Join(raw, ", ") + ")"

	return func() tea.Msg {
		args, err := ancvm.ParseArgs(e.fn.Sig.Params, raw)
		if err != nil {
			return callDoneMsg{call: label, err: err}
		}
		start := time.Now()
		results, err := m.proc.Call(m.ctx, e.name, args...)
		return callDoneMsg{
			call:    label,
			err:     err,
			results: ancvm.FormatResults(e.fn.Sig.Results, results),
			elapsed: time.Since(start),
		}
	}
}

func (m *interactiveModel) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("ancvm"))
	b.WriteString(" " + m.title + "\n\n")

	if len(m.exports) == 0 {
		b.WriteString("No exported functions.\n\n")
		b.WriteString(m.help.View(browseKeys{m.keys}))
		return b.String()
	}

	switch m.mode {
	case modeBrowse:
		for i, e := range m.exports {
			line := signature(e)
			if i == m.cursor {
				b.WriteString(cursorStyle.Render("> "+formatFunc(e.name, e.fn)) + "\n")
				continue
			}
			b.WriteString("  " + line + "\n")
		}
	case modeArgs:
		b.WriteString(signature(m.exports[m.cursor]) + "\n\n")
		for _, in := range m.inputs {
			b.WriteString(in.View() + "\n")
		}
	case modeRunning:
		b.WriteString(mutedStyle.Render("running "+m.exports[m.cursor].name+"...") + "\n")
	}

	if len(m.history) > 0 {
		b.WriteString("\n" + panelStyle.Render(m.historyView()) + "\n")
	}

	b.WriteString("\n")
	if m.mode == modeArgs {
		b.WriteString(m.help.View(argKeys{m.keys}))
	} else {
		b.WriteString(m.help.View(browseKeys{m.keys}))
	}
	return b.String()
}

func (m *interactiveModel) historyView() string {
	lines := make([]string, 0, len(m.history))
	for _, r := range m.history {
		if r.err != nil {
			lines = append(lines, r.call+" "+trapStyle.Render("error: "+r.err.Error()))
			continue
		}
		out := r.results
		if out == "" {
			out = "()"
		}
		lines = append(lines, r.call+" = "+okStyle.Render(out)+" "+mutedStyle.Render(r.elapsed.Round(time.Microsecond).String()))
	}
	return strings.Join(lines, "\n")
}

func signature(e export) string {
	params := make([]string, len(e.fn.Sig.Params))
	for i, p := range e.fn.Sig.Params {
		params[i] = valTypeStyle.Render(p.String())
	}
	out := nameStyle.Render(e.name) + "(" + strings.Join(params, ", ") + ")"
	if n := len(e.fn.Sig.Results); n > 0 {
		results := make([]string, n)
		for i, r := range e.fn.Sig.Results {
			results[i] = valTypeStyle.Render(r.String())
		}
		out += " -> " + strings.Join(results, ", ")
	}
	return out
}

func runInteractive(ctx context.Context, title string, prog *program.Program, proc *runtime.Process) error {
	p := tea.NewProgram(newInteractiveModel(ctx, title, prog, proc), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
