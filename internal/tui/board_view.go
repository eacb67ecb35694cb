package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/loadstone/internal/manager"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF6B6B")).MarginBottom(1)
	boxStyle       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	panelTitle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")).MarginTop(1)
	spinnerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	mutedTextStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))

	labelStyleLoaded  = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	labelStyleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	labelStyleLoading = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	labelStyleQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	labelStyleKnown   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
)

type moduleLabel struct {
	text  string
	style lipgloss.Style
}

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 100
	}
	rightWidth := max(32, width/3)
	leftWidth := width - rightWidth - 4
	if leftWidth < 40 {
		leftWidth = width - 4
	}
	if leftWidth < 20 {
		leftWidth = width
		rightWidth = 0
	}
	header := headerStyle.Render("⬡ LOADSTONE")
	left := lipgloss.JoinVertical(lipgloss.Left,
		a.renderStatusPanel(leftWidth-4),
		"",
		a.renderModulesPanel(leftWidth-4),
	)
	leftBox := boxStyle.Width(max(20, leftWidth)).Render(left)
	var body string
	if rightWidth > 0 {
		rightBox := boxStyle.Width(max(20, rightWidth)).Render(a.renderDetailPanel(rightWidth - 4))
		body = lipgloss.JoinHorizontal(lipgloss.Top, leftBox, rightBox)
	} else {
		body = leftBox
	}
	sections := []string{header, body}
	if panel := a.renderJournalPanel(); panel != "" {
		sections = append(sections, panel)
	}
	sections = append(sections, footerStyle.Render(a.footerText()))
	return strings.Join(sections, "\n")
}

func (a *App) renderStatusPanel(width int) string {
	loadingCount := 0
	loadedCount := 0
	for _, status := range a.snapshot.Modules {
		switch status.State {
		case manager.ModuleStateLoading:
			loadingCount++
		case manager.ModuleStateLoaded:
			loadedCount++
		}
	}
	mode := "one at a time"
	if a.snapshot.BatchMode {
		mode = "whole chains"
	}
	lines := []string{
		fmt.Sprintf("Loader: %s · dispatch %s", a.config.Project.Loader.Kind, mode),
		fmt.Sprintf("Loaded %d of %d module(s)", loadedCount, len(a.snapshot.Modules)),
	}
	if a.bridge != nil {
		if addr := a.bridge.Addr(); addr != "" {
			lines = append(lines, fmt.Sprintf("Bridge: http://%s", addr))
		}
	}
	if a.snapshot.Active {
		lines = append(lines, fmt.Sprintf("%s loading %d module(s)", a.spin.View(), loadingCount))
	} else {
		lines = append(lines, "Idle")
	}
	if a.snapshot.UserActive {
		lines = append(lines, labelStyleQueued.Render("⚠ a user-requested module is pending"))
	}
	if len(a.snapshot.Queue) > 0 {
		lines = append(lines, fmt.Sprintf("Queue: %s", strings.Join(a.snapshot.Queue, " → ")))
	}
	return lipgloss.NewStyle().Width(max(20, width)).Render(strings.Join(lines, "\n"))
}

func (a *App) renderModulesPanel(width int) string {
	title := panelTitle.Render(fmt.Sprintf("Modules (%d)", len(a.snapshot.Modules)))
	if len(a.snapshot.Modules) == 0 {
		note := mutedTextStyle.Render("No modules in the manifest yet.")
		return lipgloss.JoinVertical(lipgloss.Left, title, note)
	}
	rows := make([]string, 0, len(a.snapshot.Modules))
	for i, status := range a.snapshot.Modules {
		rows = append(rows, a.renderModuleRow(i, status))
	}
	body := strings.Join(rows, "\n")
	return lipgloss.NewStyle().Width(max(20, width)).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, body),
	)
}

func (a *App) renderModuleRow(idx int, status manager.ModuleStatus) string {
	indicator := " "
	if idx == a.selection {
		indicator = ">"
	}
	label := stateLabel(status)
	line := fmt.Sprintf("%s %s · %s", indicator, status.ID, label.style.Render(label.text))
	if status.State == manager.ModuleStateLoading {
		line = fmt.Sprintf("%s %s", line, a.spin.View())
	}
	if idx == a.selection {
		return lipgloss.NewStyle().Bold(true).Render(line)
	}
	return line
}

func (a *App) renderDetailPanel(width int) string {
	title := panelTitle.Render("Details")
	status, ok := a.selectedModule()
	if !ok {
		return lipgloss.JoinVertical(lipgloss.Left, title, mutedTextStyle.Render("Nothing selected."))
	}
	label := stateLabel(status)
	lines := []string{
		fmt.Sprintf("Module: %s", status.ID),
		fmt.Sprintf("State: %s", label.style.Render(label.text)),
	}
	if len(status.Dependencies) > 0 {
		lines = append(lines, fmt.Sprintf("Needs: %s", strings.Join(status.Dependencies, ", ")))
	} else {
		lines = append(lines, "Needs: nothing")
	}
	if mod, ok := a.manifest.Module(status.ID); ok && len(mod.URIs) > 0 {
		lines = append(lines, fmt.Sprintf("Source: %s", strings.Join(mod.URIs, ", ")))
	}
	body := detailStyle.Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().Width(max(20, width)).Render(
		lipgloss.JoinVertical(lipgloss.Left, title, body),
	)
}

func (a *App) renderJournalPanel() string {
	if a.journal == nil {
		return ""
	}
	lines := a.journal.Tail(8)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.journal.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := panelTitle.Render(fmt.Sprintf("LOG · %s", fileName))
	body := mutedTextStyle.Render(strings.Join(lines, "\n"))
	return boxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func (a *App) footerText() string {
	hints := "enter=load  p=preload  b=batch mode  r=refresh  q=quit"
	if strings.TrimSpace(a.statusMsg) == "" {
		return hints
	}
	return fmt.Sprintf("%s\n%s", a.statusMsg, hints)
}

func stateLabel(status manager.ModuleStatus) moduleLabel {
	switch status.State {
	case manager.ModuleStateLoaded:
		return moduleLabel{text: "Loaded", style: labelStyleLoaded}
	case manager.ModuleStateLoading:
		return moduleLabel{text: "Loading", style: labelStyleLoading}
	case manager.ModuleStateQueued:
		return moduleLabel{text: "Queued", style: labelStyleQueued}
	case manager.ModuleStateFailed:
		return moduleLabel{text: fmt.Sprintf("Failed · %s", status.Failure), style: labelStyleFailed}
	default:
		return moduleLabel{text: "Not loaded", style: labelStyleKnown}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
