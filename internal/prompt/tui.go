package prompt

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	questionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4D96FF"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// TUIPrompter renders the question with a single-line text input.
type TUIPrompter struct {
	in  io.Reader
	out io.Writer
}

// NewTUIPrompter creates a TUIPrompter.
func NewTUIPrompter(in io.Reader, out io.Writer) *TUIPrompter {
	return &TUIPrompter{in: in, out: out}
}

// Ask runs a small bubbletea program until the user submits or cancels.
func (p *TUIPrompter) Ask(ctx context.Context, question string) (string, error) {
	program := tea.NewProgram(newInputModel(question),
		tea.WithContext(ctx),
		tea.WithInput(p.in),
		tea.WithOutput(p.out),
	)

	final, err := program.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("prompt failed: %w", err)
	}

	m, ok := final.(inputModel)
	if !ok || m.cancelled {
		return "", ErrCancelled
	}
	return m.answer, nil
}

type inputModel struct {
	question  string
	input     textinput.Model
	answer    string
	done      bool
	cancelled bool
}

func newInputModel(question string) inputModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 2048
	ti.Focus()
	return inputModel{question: strings.TrimSpace(question), input: ti}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyEnter:
			m.answer = m.input.Value()
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.cancelled = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done || m.cancelled {
		return ""
	}
	return questionStyle.Render(m.question) + "\n" +
		m.input.View() + "\n" +
		hintStyle.Render("enter to submit, esc to cancel") + "\n"
}
