package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelLifecycle(t *testing.T) {
	model := NewModel([]string{"42", "43"})
	assert.False(t, model.Finished())

	model.StartSync("42")
	model.RecordPage("42", "ok", 200)
	model.RecordPage("42", "rate_limited", 0)
	model.RecordPage("42", "ok", 150)

	accounts := model.Accounts()
	require.Len(t, accounts, 2)
	assert.Equal(t, AccountSyncing, accounts[0].State)
	assert.Equal(t, 2, accounts[0].Pages)
	assert.Equal(t, 350, accounts[0].Records)
	assert.Equal(t, 1, accounts[0].RateLimited)

	model.CompleteSync("42", 340, 4, 2, false)
	model.FailSync("43", errors.New("sync allowed again in 2h"), true)

	counts := model.Counts()
	assert.Equal(t, 1, counts[AccountDone])
	assert.Equal(t, 1, counts[AccountSkipped])
	assert.True(t, model.Finished())
	assert.Equal(t, 1.0, model.completion())
	assert.Equal(t, 4, model.totalUnfollowers)
}

func TestModelTracksUnknownAccounts(t *testing.T) {
	model := NewModel(nil)
	model.RecordPage("99", "ok", 10)

	accounts := model.Accounts()
	require.Len(t, accounts, 1)
	assert.Equal(t, AccountPending, accounts[0].State)
}

func TestUpdateMessages(t *testing.T) {
	model := NewModel([]string{"42"})

	model.Update(SyncStartMsg{AccountID: "42"})
	model.Update(PageMsg{AccountID: "42", Outcome: "ok", Records: 5})
	model.Update(SyncDoneMsg{AccountID: "42", Followers: 5, Partial: true})

	item := model.Accounts()[0]
	assert.Equal(t, AccountDone, item.State)
	assert.True(t, item.Partial)

	var sawFinished bool
	for _, l := range model.logMessages {
		if l.Message == "All syncs finished, press q to exit" {
			sawFinished = true
		}
	}
	assert.True(t, sawFinished)
}

func TestLogMessagesAreCapped(t *testing.T) {
	model := NewModel(nil)
	for i := 0; i < 120; i++ {
		model.AddLogMessage("INFO", "line")
	}
	assert.Len(t, model.logMessages, model.maxLogMessages)

	model.Update(tea.KeyMsg{Type: tea.KeyCtrlL})
	assert.Empty(t, model.logMessages)
}

func TestQuitKey(t *testing.T) {
	model := NewModel(nil)
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestViewRendersAccounts(t *testing.T) {
	model := NewModel([]string{"42"})
	assert.Equal(t, "Initializing...", model.View())

	model.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	model.CompleteSync("42", 10, 1, 0, false)
	assert.Contains(t, model.View(), "42")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:05", formatDuration(5e9))
	assert.Equal(t, "01:00:00", formatDuration(3600e9))
	assert.Equal(t, "00:00", formatDuration(-1))
}
