package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/valiloop/internal/orchestrator"
)

// Fetcher returns the latest status snapshot.
type Fetcher func(ctx context.Context) (orchestrator.ExecutionStatus, error)

// HTTPFetcher polls the status endpoint of a running server.
func HTTPFetcher(client *http.Client, baseURL string) Fetcher {
	url := strings.TrimRight(baseURL, "/") + "/status"
	return func(ctx context.Context) (orchestrator.ExecutionStatus, error) {
		var st orchestrator.ExecutionStatus
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return st, err
		}
		res, err := client.Do(req)
		if err != nil {
			return st, err
		}
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return st, fmt.Errorf("status endpoint returned %s", res.Status)
		}
		if err := json.NewDecoder(res.Body).Decode(&st); err != nil {
			return st, fmt.Errorf("decode status: %w", err)
		}
		return st, nil
	}
}

// WatchLogEntry is one line of the activity log.
type WatchLogEntry struct {
	Timestamp time.Time
	Phase     string
	Message   string
}

// pollMsg triggers the next fetch.
type pollMsg struct{}

// fetchErrMsg reports a failed fetch.
type fetchErrMsg struct {
	Err error
}

// WatchApp is the bubbletea model for the watch command.
type WatchApp struct {
	view     *StatusView
	spinner  spinner.Model
	fetch    Fetcher
	refresh  time.Duration
	logs     []WatchLogEntry
	last     orchestrator.ExecutionStatus
	seen     bool
	err      error
	width    int
	height   int
	quitting bool

	// Styles
	logStyle     lipgloss.Style
	logTimeStyle lipgloss.Style
	errorStyle   lipgloss.Style
}

// NewWatchApp creates a WatchApp that calls fetch every refresh interval.
func NewWatchApp(fetch Fetcher, refresh time.Duration) *WatchApp {
	if refresh <= 0 {
		refresh = time.Second
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &WatchApp{
		view:    NewStatusView(),
		spinner: sp,
		fetch:   fetch,
		refresh: refresh,

		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
	}
}

// Init implements tea.Model.
func (a *WatchApp) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.fetchCmd())
}

func (a *WatchApp) fetchCmd() tea.Cmd {
	fetch := a.fetch
	timeout := a.refresh
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), max(timeout, 2*time.Second))
		defer cancel()
		st, err := fetch(ctx)
		if err != nil {
			return fetchErrMsg{Err: err}
		}
		return StatusUpdateMsg{Status: st}
	}
}

func (a *WatchApp) scheduleNext() tea.Cmd {
	return tea.Tick(a.refresh, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update implements tea.Model.
func (a *WatchApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetSize(msg.Width, msg.Height)

	case pollMsg:
		return a, a.fetchCmd()

	case StatusUpdateMsg:
		a.err = nil
		a.observe(msg.Status)
		a.view.SetStatus(msg.Status)
		return a, a.scheduleNext()

	case fetchErrMsg:
		a.err = msg.Err
		return a, a.scheduleNext()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd
	}

	return a, nil
}

// observe logs transitions between consecutive snapshots.
func (a *WatchApp) observe(st orchestrator.ExecutionStatus) {
	prev := a.last
	a.last = st
	if !a.seen {
		a.seen = true
		a.addLog(string(st.Phase), fmt.Sprintf("connected, attempt %d of %d", st.CurrentValRound, st.ValRoundLimit))
		return
	}

	if st.RunID != prev.RunID && st.RunID != "" {
		a.addLog(string(st.Phase), fmt.Sprintf("attempt %d started for %s", st.CurrentValRound, st.ArtifactID))
	} else if st.Phase != prev.Phase {
		a.addLog(string(st.Phase), fmt.Sprintf("%s -> %s", prev.Phase, st.Phase))
	}
	if st.CurrentRound != prev.CurrentRound && st.CurrentRound > 0 {
		a.addLog("round", fmt.Sprintf("round %d, %d/%d criteria done", st.CurrentRound, st.CompletedTests, st.TotalTests))
	}
}

func (a *WatchApp) addLog(phase, message string) {
	a.logs = append(a.logs, WatchLogEntry{Timestamp: time.Now(), Phase: phase, Message: message})
	if len(a.logs) > 100 {
		a.logs = a.logs[len(a.logs)-100:]
	}
}

// Logs returns the activity log.
func (a *WatchApp) Logs() []WatchLogEntry {
	return a.logs
}

// View implements tea.Model.
func (a *WatchApp) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Render("=== valiloop ===")
	b.WriteString(title)
	if a.last.IsRunning {
		b.WriteString(" ")
		b.WriteString(a.spinner.View())
	}
	b.WriteString("\n\n")

	b.WriteString(a.view.View())
	b.WriteString("\n")
	b.WriteString(a.renderLogs())

	b.WriteString("\n")
	if a.err != nil {
		b.WriteString(a.errorStyle.Render(fmt.Sprintf("Error: %v", a.err)))
		b.WriteString("\n")
	}
	b.WriteString(lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Render("Press q to quit"))
	b.WriteString("\n")

	return b.String()
}

func (a *WatchApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > 8 {
		start = len(a.logs) - 8
	}

	for _, entry := range a.logs[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		phase := lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(12).
			Render(entry.Phase)
		fmt.Fprintf(&b, "  %s %s %s\n", ts, phase, a.logStyle.Render(entry.Message))
	}

	return b.String()
}

// NewWatchProgram creates a Bubbletea program for the watch TUI.
func NewWatchProgram(fetch Fetcher, refresh time.Duration) (*tea.Program, *WatchApp) {
	app := NewWatchApp(fetch, refresh)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
