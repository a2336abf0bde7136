package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/radsat/journal"
)

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model.
func NewStatsModel(viewType string, data any) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case "stats_journal":
		content = m.renderStatsJournal()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return content + "\n" + help
}

func (m StatsModel) renderStatsJournal() string {
	data, ok := m.data.(*journal.Stats)
	if !ok {
		return "Invalid data type for stats_journal"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Journal Statistics"))
	b.WriteString("\n\n")

	passes := []string{
		m.renderStatBox("Passes", data.Passes, highlightColor),
		m.renderStatBox("Frames Rx", data.FramesReceived, successColor),
		m.renderStatBox("Frames Tx", data.FramesTransmitted, successColor),
		m.renderStatBox("NACKs", data.NacksReceived, warningColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, passes...))
	b.WriteString("\n")

	link := []string{
		m.renderStatBox("Uplink", data.UplinkFrames, highlightColor),
		m.renderStatBox("Rejected", data.RejectedFrames, errorColor),
		m.renderStatBox("Downlink", data.DownlinkFrames, highlightColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, link...))
	b.WriteString("\n\n")

	if len(data.PassesByReason) > 0 {
		b.WriteString(TitleStyle.Render("Pass End Reasons"))
		b.WriteString("\n")
		for _, reason := range sortedKeys(data.PassesByReason) {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(reason+":"),
				ReasonStyle(reason).Render(fmt.Sprintf("%d", data.PassesByReason[reason]))))
		}
		b.WriteString("\n")
	}

	if len(data.Commands) > 0 {
		b.WriteString(TitleStyle.Render("Uplink Commands"))
		b.WriteString("\n")
		for _, cmd := range sortedKeys(data.Commands) {
			b.WriteString(fmt.Sprintf("%s %s\n",
				LabelStyle.Render(cmd+":"),
				ValueStyle.Render(fmt.Sprintf("%d", data.Commands[cmd]))))
		}
		b.WriteString("\n")
	}

	b.WriteString(fmt.Sprintf("%s %s\n",
		LabelStyle.Render("Pass Time:"),
		ValueStyle.Render(data.TotalPassTime.String())))
	if !data.FirstPassAt.IsZero() {
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("First Pass:"),
			ValueStyle.Render(data.FirstPassAt.Format("2006-01-02 15:04:05"))))
		b.WriteString(fmt.Sprintf("%s %s\n",
			LabelStyle.Render("Last Pass:"),
			ValueStyle.Render(data.LastPassAt.Format("2006-01-02 15:04:05"))))
	}

	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	content := lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr)

	return boxStyle.Render(content)
}

func sortedKeys(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any) error {
	model := NewStatsModel(viewType, data)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
