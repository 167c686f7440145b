package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/labelsense/scanstream/types"
)

// ScanMsg delivers a reconciled scan snapshot to the watch model.
// Send it via Program.Send from the stream or poll update callback.
type ScanMsg types.Scan

// StreamErrMsg delivers a stream failure to the watch model.
// The model shows the error and quits.
type StreamErrMsg struct {
	Err error
}

// lifecycleStages is the display order of the non-error lifecycle chain.
var lifecycleStages = []types.LifecycleState{
	types.StateFetchingProductInfo,
	types.StateProcessingImages,
	types.StateAnalyzing,
	types.StateDone,
}

// stageLabels maps lifecycle states to short display names.
var stageLabels = map[types.LifecycleState]string{
	types.StateFetchingProductInfo: "lookup",
	types.StateProcessingImages:    "images",
	types.StateAnalyzing:           "analyze",
	types.StateDone:                "done",
}

// WatchModel is a Bubble Tea model showing live scan progress.
type WatchModel struct {
	scanID   string
	spin     spinner.Model
	scan     *types.Scan
	err      error
	width    int
	height   int
	quitting bool
}

// NewWatchModel creates a watch model for the given scan.
func NewWatchModel(scanID string) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)
	return WatchModel{scanID: scanID, spin: s}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return m.spin.Tick
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
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
		return m, nil

	case ScanMsg:
		scan := types.Scan(msg)
		m.scan = &scan
		if scan.State.IsTerminal() {
			return m, tea.Quit
		}
		return m, nil

	case StreamErrMsg:
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Watching scan %s", m.scanID)))
	b.WriteString("\n\n")

	if m.scan == nil {
		b.WriteString(fmt.Sprintf("%s waiting for first update...\n", m.spin.View()))
	} else {
		b.WriteString(m.renderProgress())
		b.WriteString("\n")
		b.WriteString(m.renderScan())
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("stream error: %v", m.err)))
		b.WriteString("\n")
	}

	help := HelpStyle.Render("Press q or Ctrl+C to quit")
	return BoxStyle.Render(b.String()) + "\n" + help
}

// renderProgress draws the lifecycle chain with the current stage
// highlighted. An error state paints the whole chain red.
func (m WatchModel) renderProgress() string {
	if m.scan.State == types.StateError {
		return ErrorStyle.Render("error") + "\n"
	}

	rank := m.scan.State.Rank()
	parts := make([]string, 0, len(lifecycleStages))
	for _, stage := range lifecycleStages {
		label := stageLabels[stage]
		switch {
		case stage.Rank() < rank:
			parts = append(parts, StageDoneStyle.Render(label))
		case stage.Rank() == rank:
			if stage == types.StateDone {
				parts = append(parts, StageDoneStyle.Render(label))
			} else {
				parts = append(parts, StageActiveStyle.Render(m.spin.View()+label))
			}
		default:
			parts = append(parts, StagePendingStyle.Render(label))
		}
	}
	return strings.Join(parts, StagePendingStyle.Render(" → ")) + "\n"
}

func (m WatchModel) renderScan() string {
	var b strings.Builder

	rows := [][]string{
		{"State", string(m.scan.State)},
	}
	if m.scan.Barcode != "" {
		rows = append(rows, []string{"Barcode", m.scan.Barcode})
	}
	if m.scan.ProductInfo != nil && m.scan.ProductInfo.Name != "" {
		rows = append(rows, []string{"Product", m.scan.ProductInfo.Name})
	}
	if m.scan.AnalysisResult != nil && m.scan.AnalysisResult.OverallMatch != "" {
		rows = append(rows, []string{"Match", m.scan.AnalysisResult.OverallMatch})
	}
	if m.scan.LatestGuidance != "" {
		rows = append(rows, []string{"Guidance", m.scan.LatestGuidance})
	}
	if m.scan.ErrorMessage != "" {
		rows = append(rows, []string{"Error", m.scan.ErrorMessage})
	}

	for _, row := range rows {
		label := LabelStyle.Render(row[0] + ":")
		value := row[1]
		if row[0] == "State" {
			value = StateStyle(string(m.scan.State)).Render(value)
		} else {
			value = ValueStyle.Render(value)
		}
		b.WriteString(fmt.Sprintf("%s %s\n", label, value))
	}

	return b.String()
}

// FinalScan returns the last snapshot the model received, or nil.
func (m WatchModel) FinalScan() *types.Scan {
	return m.scan
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

// NewWatchProgram creates a Bubble Tea program for the watch view.
// The caller feeds it ScanMsg / StreamErrMsg via Program.Send.
func NewWatchProgram(scanID string) *tea.Program {
	return tea.NewProgram(NewWatchModel(scanID), tea.WithAltScreen())
}
