package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/justapithecus/radsat/cli/reader"
)

// InspectModel is a Bubble Tea model for inspect views.
type InspectModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewInspectModel creates a new inspect model.
func NewInspectModel(viewType string, data any) InspectModel {
	return InspectModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m InspectModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m InspectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m InspectModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "inspect_frame":
		content = m.renderInspectFrame()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m InspectModel) renderInspectFrame() string {
	data, ok := m.data.(*reader.FrameView)
	if !ok {
		return "Invalid data type for inspect_frame"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Frame"))
	b.WriteString("\n\n")

	rows := [][]string{
		{"Size", fmt.Sprintf("%d bytes", data.Size)},
	}
	if data.Preamble != "" {
		rows = append(rows,
			[]string{"Preamble", data.Preamble},
			[]string{"CRC", data.CRC},
			[]string{"Payload", fmt.Sprintf("%d bytes", data.PayloadSize)},
			[]string{"Timestamp", data.Timestamp.Format("2006-01-02 15:04:05")},
		)
	}
	if data.OK() {
		rows = append(rows,
			[]string{"Service", data.Service},
			[]string{"Kind", data.Kind},
		)
	}

	for _, row := range rows {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render(row[0]+":"),
			ValueStyle.Render(row[1])))
	}

	status := SuccessStyle.Render("valid")
	if !data.OK() {
		status = ErrorStyle.Render(data.ErrorKind + ": " + data.Error)
	}
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Status:"), status))

	if data.Body != nil {
		if body, err := yaml.Marshal(data.Body); err == nil && len(body) > 0 {
			b.WriteString("\n")
			b.WriteString(TitleStyle.Render("Body"))
			b.WriteString("\n")
			b.WriteString(ValueStyle.Render(strings.TrimRight(string(body), "\n")))
			b.WriteString("\n")
		}
	}

	return BoxStyle.Render(b.String())
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// RunInspectTUI runs the inspect TUI.
func RunInspectTUI(viewType string, data any) error {
	model := NewInspectModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderInspectStatic renders inspect data without full TUI (for fallback).
func RenderInspectStatic(viewType string, data any) string {
	model := NewInspectModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
