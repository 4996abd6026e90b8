package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	errs "followsync/pkg/errors"
	"followsync/pkg/syncer"
)

// TUI is a live dashboard for a batch of syncs
type TUI struct {
	program *tea.Program
	model   *Model
}

// NewTUI creates a dashboard for the given accounts
func NewTUI(accountIDs []string) *TUI {
	model := NewModel(accountIDs)
	return &TUI{
		program: tea.NewProgram(model, tea.WithAltScreen()),
		model:   model,
	}
}

// Start runs the dashboard until the user quits
func (t *TUI) Start() error {
	go func() {
		time.Sleep(100 * time.Millisecond)
		t.program.Send(TickMsg(time.Now()))
	}()

	_, err := t.program.Run()
	return err
}

// Stop quits the dashboard
func (t *TUI) Stop() {
	t.program.Quit()
}

// Send forwards a message to the dashboard
func (t *TUI) Send(msg tea.Msg) {
	if t.program != nil {
		t.program.Send(msg)
	}
}

// ObservePage feeds page outcomes into the dashboard
func (t *TUI) ObservePage(accountID, list, outcome string, records int) {
	if list != "followers" {
		return
	}
	t.Send(PageMsg{AccountID: accountID, Outcome: outcome, Records: records})
}

// SyncStarted marks an account as syncing
func (t *TUI) SyncStarted(accountID string) {
	t.Send(SyncStartMsg{AccountID: accountID})
}

// SyncFinished reports the outcome of an account's sync. Rate-limit and
// in-progress rejections show as skipped.
func (t *TUI) SyncFinished(accountID string, res *syncer.Result, err error) {
	if err != nil {
		skipped := errs.IsType(err, errs.ErrorTypeRateLimit) || errs.IsType(err, errs.ErrorTypeConflict)
		t.Send(SyncErrorMsg{AccountID: accountID, Err: err, Skipped: skipped})
		return
	}
	t.Send(SyncDoneMsg{
		AccountID:    accountID,
		Followers:    res.FollowerCount,
		Unfollowers:  res.UnfollowerCount,
		NewFollowers: res.NewFollowerCount,
		Partial:      res.Partial,
	})
}

// Log adds a formatted line to the log panel
func (t *TUI) Log(level, format string, args ...interface{}) {
	t.Send(LogMsg{Level: level, Message: fmt.Sprintf(format, args...)})
}
