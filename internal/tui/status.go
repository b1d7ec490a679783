package tui

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/valiloop/internal/orchestrator"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

// StatusUpdateMsg is sent when a new status snapshot arrives.
type StatusUpdateMsg struct {
	Status orchestrator.ExecutionStatus
}

// StatusView displays the current validation attempt.
type StatusView struct {
	status orchestrator.ExecutionStatus
	bar    progress.Model
	width  int
	height int

	// Styles
	headerStyle  lipgloss.Style
	labelStyle   lipgloss.Style
	valueStyle   lipgloss.Style
	phaseStyle   lipgloss.Style
	warningStyle lipgloss.Style
	failStyle    lipgloss.Style
	passStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
}

// NewStatusView creates a new StatusView instance.
func NewStatusView() *StatusView {
	return &StatusView{
		bar: progress.New(progress.WithDefaultGradient(), progress.WithWidth(30)),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		phaseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		warningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		failStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")),

		passStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		mutedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// Update handles input messages.
func (v *StatusView) Update(msg tea.Msg) (*StatusView, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.SetSize(msg.Width, msg.Height)
	case StatusUpdateMsg:
		v.status = msg.Status
	}
	return v, nil
}

// Percent returns the share of criteria completed, between 0 and 1.
func (v *StatusView) Percent() float64 {
	if v.status.TotalTests == 0 {
		return 0
	}
	pct := float64(v.status.CompletedTests) / float64(v.status.TotalTests)
	return min(pct, 1)
}

// View renders the status display.
func (v *StatusView) View() string {
	s := v.status
	var b strings.Builder

	b.WriteString(v.headerStyle.Render("Validation Status"))
	b.WriteString("\n")

	v.row(&b, "Phase:", v.phaseStyle.Render(string(orDefault(s.Phase, models.RunStatusIdle))))
	if s.ArtifactID != "" {
		v.row(&b, "Artifact:", v.valueStyle.Render(s.ArtifactID)+"  "+v.mutedStyle.Render(s.RunID))
	}

	attempt := v.valueStyle.Render(fmt.Sprintf("%d / %d", s.CurrentValRound, s.ValRoundLimit))
	if s.ValRoundLimit > 0 && s.ValRoundLimit-s.CurrentValRound <= 3 {
		attempt = v.warningStyle.Render(fmt.Sprintf("%d / %d", s.CurrentValRound, s.ValRoundLimit))
	}
	v.row(&b, "Attempt:", attempt)
	v.row(&b, "Instances:", v.valueStyle.Render(fmt.Sprintf("%d ready of %d", s.InstancesReady, s.InstancesRequested)))
	v.row(&b, "Parallel:", v.valueStyle.Render(fmt.Sprintf("%d", s.ParallelCount)))
	if s.Provider != "" {
		v.row(&b, "Provider:", v.valueStyle.Render(s.Provider))
	}
	b.WriteString("\n")

	tests := fmt.Sprintf("%d/%d complete  %s  %s",
		s.CompletedTests, s.TotalTests,
		v.passStyle.Render(fmt.Sprintf("%d passed", s.SuccessfulTests)),
		v.failStyle.Render(fmt.Sprintf("%d failed", s.FailedTests)))
	v.row(&b, "Criteria:", tests)
	if s.CurrentRound > 0 {
		v.row(&b, "Round:", v.valueStyle.Render(fmt.Sprintf("%d", s.CurrentRound)))
	}
	if s.StartTime != nil {
		v.row(&b, "Elapsed:", v.valueStyle.Render(fmt.Sprintf("%.0fs", s.ExecutionTimeSeconds)))
	}
	b.WriteString("  ")
	b.WriteString(v.bar.ViewAs(v.Percent()))
	b.WriteString("\n")

	var failures []string
	for _, line := range s.CurrentResults {
		if line != "" {
			failures = append(failures, line)
		}
	}
	if len(failures) > 0 {
		b.WriteString("\n")
		b.WriteString(v.labelStyle.Render("Last Round:"))
		b.WriteString("\n")
		for _, line := range failures {
			b.WriteString("  ")
			b.WriteString(v.failStyle.Render(truncate(line, max(v.width-4, 40))))
			b.WriteString("\n")
		}
	}

	return b.String()
}

func (v *StatusView) row(b *strings.Builder, label, value string) {
	b.WriteString(v.labelStyle.Render(label))
	b.WriteString(value)
	b.WriteString("\n")
}

// SetStatus replaces the displayed status.
func (v *StatusView) SetStatus(s orchestrator.ExecutionStatus) {
	v.status = s
}

// Status returns the displayed status.
func (v *StatusView) Status() orchestrator.ExecutionStatus {
	return v.status
}

// SetSize sets the view dimensions.
func (v *StatusView) SetSize(width, height int) {
	v.width = width
	v.height = height
	v.bar.Width = min(max(width-20, 10), 60)
}

func orDefault(phase, def models.RunStatus) models.RunStatus {
	if phase == "" {
		return def
	}
	return phase
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := n - 3
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "..."
}
