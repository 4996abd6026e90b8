package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// SyncStartMsg is sent when an account's sync begins
type SyncStartMsg struct {
	AccountID string
}

// PageMsg is sent for every upstream page attempt
type PageMsg struct {
	AccountID string
	Outcome   string
	Records   int
}

// SyncDoneMsg is sent when a sync persisted its result
type SyncDoneMsg struct {
	AccountID    string
	Followers    int
	Unfollowers  int
	NewFollowers int
	Partial      bool
}

// SyncErrorMsg is sent when a sync failed or was skipped
type SyncErrorMsg struct {
	AccountID string
	Err       error
	Skipped   bool
}

// LogMsg adds a line to the log panel
type LogMsg struct {
	Level   string
	Message string
}

// TickMsg refreshes the elapsed times
type TickMsg time.Time

// Update handles all messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case TickMsg:
		return m, tickCmd()

	case SyncStartMsg:
		m.StartSync(msg.AccountID)
		m.AddLogMessage("INFO", "Syncing "+msg.AccountID)
		return m, nil

	case PageMsg:
		m.RecordPage(msg.AccountID, msg.Outcome, msg.Records)
		if msg.Outcome == "rate_limited" {
			m.AddLogMessage("WARN", "Rate limited while syncing "+msg.AccountID)
		}
		return m, nil

	case SyncDoneMsg:
		m.CompleteSync(msg.AccountID, msg.Followers, msg.Unfollowers, msg.NewFollowers, msg.Partial)
		level := "SUCCESS"
		if msg.Partial {
			level = "WARN"
		}
		m.AddLogMessage(level, fmt.Sprintf("%s: %d followers, %d unfollowers, %d new",
			msg.AccountID, msg.Followers, msg.Unfollowers, msg.NewFollowers))
		return m, m.finishedCmd()

	case SyncErrorMsg:
		m.FailSync(msg.AccountID, msg.Err, msg.Skipped)
		level := "ERROR"
		if msg.Skipped {
			level = "WARN"
		}
		m.AddLogMessage(level, fmt.Sprintf("%s: %v", msg.AccountID, msg.Err))
		return m, m.finishedCmd()

	case LogMsg:
		m.AddLogMessage(msg.Level, msg.Message)
		return m, nil
	}

	return m, nil
}

func (m *Model) finishedCmd() tea.Cmd {
	if m.Finished() {
		m.AddLogMessage("INFO", "All syncs finished, press q to exit")
	}
	return nil
}

func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		return m, tea.Quit

	case "?":
		m.showHelp = !m.showHelp
		return m, nil

	case "ctrl+l":
		m.mu.Lock()
		m.logMessages = nil
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
