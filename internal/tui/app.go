// Package tui is the interactive browser for past Director sessions.
package tui

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/dylan-isaac/dotfiles-sub000/internal/models"
	"github.com/dylan-isaac/dotfiles-sub000/internal/storage"
)

// Store is the part of storage.Storage the browser reads from.
type Store interface {
	ListSessions(limit int) ([]*models.SessionSummary, error)
	GetIterations(sessionID string) ([]models.IterationRecord, error)
	DeleteSession(id string) error
}

type View int

const (
	ViewSessionList View = iota
	ViewSessionDetail
	ViewIteration
)

const listLimit = 50

type App struct {
	store Store

	view         View
	sessions     []*models.SessionSummary
	selectedIdx  int
	selected     *models.SessionSummary
	iterations   []models.IterationRecord
	selectedIter int
	output       viewport.Model

	width  int
	height int
	err    error
}

func NewApp(store Store) *App {
	return &App{
		store:  store,
		view:   ViewSessionList,
		output: viewport.New(80, 20),
	}
}

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadSessions, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasPendingSessions() bool {
	for _, s := range a.sessions {
		if !s.Status.IsTerminal() {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.output.Width = msg.Width
		a.output.Height = max(msg.Height-4, 1)
		return a, nil

	case sessionsLoadedMsg:
		a.sessions = msg.sessions
		a.err = msg.err
		if a.selectedIdx >= len(a.sessions) {
			a.selectedIdx = max(len(a.sessions)-1, 0)
		}
		return a, nil

	case tickMsg:
		// Sessions still running in another terminal keep the list fresh.
		if a.view == ViewSessionList && a.hasPendingSessions() {
			return a, tea.Batch(a.loadSessions, a.tickCmd())
		}
		return a, a.tickCmd()

	case iterationsLoadedMsg:
		a.err = msg.err
		if msg.err == nil {
			a.selected = msg.session
			a.iterations = msg.iterations
			a.selectedIter = 0
			a.view = ViewSessionDetail
		}
		return a, nil

	case sessionDeletedMsg:
		a.err = msg.err
		return a, a.loadSessions

	case pagerClosedMsg:
		a.err = msg.err
		return a, nil
	}

	if a.view == ViewIteration {
		var cmd tea.Cmd
		a.output, cmd = a.output.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch a.view {
	case ViewSessionList:
		return a.handleListKey(msg)
	case ViewSessionDetail:
		return a.handleDetailKey(msg)
	case ViewIteration:
		return a.handleIterationKey(msg)
	}
	return a, nil
}

func (a *App) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case "down", "j":
		if a.selectedIdx < len(a.sessions)-1 {
			a.selectedIdx++
		}

	case "enter":
		if s := a.current(); s != nil {
			return a, a.loadIterations(s)
		}

	case "r":
		return a, a.loadSessions

	case "l":
		if s := a.current(); s != nil {
			return a, openPager(s.LogPath)
		}

	case "d":
		if s := a.current(); s != nil {
			return a, a.deleteSession(s.ID)
		}
	}

	return a, nil
}

func (a *App) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewSessionList
		a.selected = nil
		a.iterations = nil
		a.selectedIter = 0

	case "ctrl+c":
		return a, tea.Quit

	case "up", "k":
		if a.selectedIter > 0 {
			a.selectedIter--
		}

	case "down", "j":
		if a.selectedIter < len(a.iterations)-1 {
			a.selectedIter++
		}

	case "enter", "o":
		if a.selectedIter < len(a.iterations) {
			a.output.SetContent(iterationText(a.iterations[a.selectedIter]))
			a.output.GotoTop()
			a.view = ViewIteration
		}

	case "l":
		if a.selected != nil {
			return a, openPager(a.selected.LogPath)
		}
	}

	return a, nil
}

func (a *App) handleIterationKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		a.view = ViewSessionDetail
		return a, nil

	case "ctrl+c":
		return a, tea.Quit
	}

	var cmd tea.Cmd
	a.output, cmd = a.output.Update(msg)
	return a, cmd
}

func (a *App) current() *models.SessionSummary {
	if a.selectedIdx < len(a.sessions) {
		return a.sessions[a.selectedIdx]
	}
	return nil
}

func (a *App) View() string {
	switch a.view {
	case ViewSessionList:
		return a.viewSessionList()
	case ViewSessionDetail:
		return a.viewSessionDetail()
	case ViewIteration:
		return a.viewIteration()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusPending   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusSucceeded = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusAborted   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewSessionList() string {
	s := titleStyle.Render("Director") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.sessions) == 0 {
		s += "No sessions yet. Start one with 'director run <spec>'.\n"
	} else {
		s += "Recent Sessions\n"
		s += "───────────────\n"

		for i, session := range a.sessions {
			line := formatSessionLine(session)
			if i == a.selectedIdx {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [l] log  [d] delete  [r] refresh  [q] quit")

	return s
}

func formatSessionLine(s *models.SessionSummary) string {
	return fmt.Sprintf("%-8s %-18s %s  %d/%d  %-8s  %s",
		shortID(s.ID), truncate(s.SpecName, 18), formatStatus(s.Status),
		s.Iterations, s.MaxIterations, storage.FormatTimeAgo(s.CreatedAt),
		truncate(firstLine(s.TaskPrompt), 35))
}

func formatStatus(status models.TerminalStatus) string {
	switch status {
	case models.StatusSucceeded:
		return statusSucceeded.Render("✓ succeeded")
	case models.StatusFailed:
		return statusFailed.Render("✗ failed   ")
	case models.StatusAborted:
		return statusAborted.Render("⚠ aborted  ")
	default:
		return statusPending.Render("● running  ")
	}
}

func (a *App) viewSessionDetail() string {
	if a.selected == nil {
		return "No session selected"
	}
	session := a.selected

	header := fmt.Sprintf("Session %s: %s", shortID(session.ID), session.SpecName)
	s := titleStyle.Render(header) + "  " + formatStatus(session.Status) + "\n\n"

	s += session.TaskPrompt + "\n\n"

	s += labelStyle.Render("Command: ") + session.ExecutionCommand + "\n"
	s += labelStyle.Render("Run log: ") + dimStyle.Render(session.LogPath) + "\n\n"

	s += "Iterations\n"
	s += "──────────\n"

	if len(a.iterations) == 0 {
		s += "(no iterations recorded)\n"
	} else {
		for i, rec := range a.iterations {
			line := formatIterationLine(rec, session.MaxIterations)
			if i == a.selectedIter {
				line = selectedStyle.Render("▶ " + line)
			} else {
				line = "  " + line
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] output  [l] log  [esc] back")

	return s
}

func formatIterationLine(rec models.IterationRecord, maxIterations int) string {
	verdict := statusFailed.Render("✗")
	switch {
	case !rec.GenerationSucceeded:
		verdict = statusAborted.Render("⚠ generation failed")
	case rec.Verdict.Success:
		verdict = statusSucceeded.Render("✓")
	}

	line := fmt.Sprintf("%d/%d %s", rec.Index+1, maxIterations, verdict)
	if o := rec.Outcome; o != nil {
		switch {
		case o.TimedOut:
			line += "  " + statusFailed.Render("timeout")
		case o.ExitCode != nil && *o.ExitCode == 0:
			line += "  " + dimStyle.Render("exit:0")
		case o.ExitCode != nil:
			line += "  " + statusFailed.Render(fmt.Sprintf("exit:%d", *o.ExitCode))
		}
	}
	line += "  " + fmt.Sprintf("%6s", dimStyle.Render(formatDuration(rec.Duration)))
	if fb := firstLine(rec.Verdict.Feedback); fb != "" {
		line += "   " + truncate(fb, 50)
	}
	return line
}

func (a *App) viewIteration() string {
	rec := a.iterations[a.selectedIter]
	s := titleStyle.Render(fmt.Sprintf("Iteration %d", rec.Index+1)) + "\n\n"
	s += a.output.View() + "\n"
	s += helpStyle.Render(fmt.Sprintf("[↑/↓] scroll  %3.f%%  [esc] back", a.output.ScrollPercent()*100))
	return s
}

// iterationText is the scrollable body of the iteration view.
func iterationText(rec models.IterationRecord) string {
	var b strings.Builder
	b.WriteString("── Prompt ──\n")
	b.WriteString(rec.PromptSent)
	b.WriteString("\n\n── Execution Output ──\n")
	if rec.GenerationSucceeded {
		b.WriteString(rec.ExecutionOutput)
	} else {
		b.WriteString("(not run: code generation failed)")
	}
	b.WriteString("\n\n── Verdict ──\n")
	if rec.Verdict.Success {
		b.WriteString("SUCCESS")
	} else {
		b.WriteString("FAILURE")
	}
	if rec.Verdict.Source != "" {
		b.WriteString(" (" + rec.Verdict.Source + ")")
	}
	b.WriteString("\n")
	b.WriteString(rec.Verdict.Feedback)
	return b.String()
}

// Messages

type sessionsLoadedMsg struct {
	sessions []*models.SessionSummary
	err      error
}

type iterationsLoadedMsg struct {
	session    *models.SessionSummary
	iterations []models.IterationRecord
	err        error
}

type sessionDeletedMsg struct {
	id  string
	err error
}

type pagerClosedMsg struct {
	err error
}

// Commands

func (a *App) loadSessions() tea.Msg {
	sessions, err := a.store.ListSessions(listLimit)
	return sessionsLoadedMsg{sessions: sessions, err: err}
}

func (a *App) loadIterations(session *models.SessionSummary) tea.Cmd {
	return func() tea.Msg {
		iterations, err := a.store.GetIterations(session.ID)
		return iterationsLoadedMsg{session: session, iterations: iterations, err: err}
	}
}

func (a *App) deleteSession(id string) tea.Cmd {
	return func() tea.Msg {
		return sessionDeletedMsg{id: id, err: a.store.DeleteSession(id)}
	}
}

// openPager suspends the browser and shows the run log in $PAGER.
func openPager(path string) tea.Cmd {
	pager := os.Getenv("PAGER")
	if pager == "" {
		pager = "less"
	}
	cmd := exec.Command(pager, path)
	return tea.ExecProcess(cmd, func(err error) tea.Msg {
		return pagerClosedMsg{err: err}
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := max(maxLen-3, 0)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
