package tui

import (
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// AccountState is the sync state of one account on the dashboard
type AccountState int

const (
	AccountPending AccountState = iota
	AccountSyncing
	AccountDone
	AccountFailed
	AccountSkipped
)

func (s AccountState) String() string {
	switch s {
	case AccountSyncing:
		return "syncing"
	case AccountDone:
		return "done"
	case AccountFailed:
		return "failed"
	case AccountSkipped:
		return "skipped"
	default:
		return "pending"
	}
}

// AccountItem tracks one account's sync
type AccountItem struct {
	ID           string
	State        AccountState
	Pages        int
	Records      int
	RateLimited  int
	Followers    int
	Unfollowers  int
	NewFollowers int
	Partial      bool
	StartTime    time.Time
	EndTime      time.Time
	Err          error
}

// LogMessage is one line of the log panel
type LogMessage struct {
	Time    time.Time
	Level   string
	Message string
	Color   lipgloss.Color
}

// Model is the dashboard state
type Model struct {
	spinner  spinner.Model
	progress progress.Model

	accounts map[string]*AccountItem
	order    []string

	sessionStartTime time.Time
	totalUnfollowers int

	width          int
	height         int
	showHelp       bool
	logMessages    []LogMessage
	maxLogMessages int

	mu sync.RWMutex
}

// NewModel creates a dashboard model for the given accounts
func NewModel(accountIDs []string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(neonCyan)

	p := progress.New(progress.WithDefaultGradient())
	p.Width = 40

	m := &Model{
		spinner:          s,
		progress:         p,
		accounts:         make(map[string]*AccountItem),
		sessionStartTime: time.Now(),
		maxLogMessages:   50,
	}
	for _, id := range accountIDs {
		m.queue(id)
	}
	return m
}

// Init starts the spinner
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// queue adds an account if it is not tracked yet. Callers hold mu or own m.
func (m *Model) queue(id string) *AccountItem {
	if item, ok := m.accounts[id]; ok {
		return item
	}
	item := &AccountItem{ID: id, State: AccountPending}
	m.accounts[id] = item
	m.order = append(m.order, id)
	return item
}

// StartSync marks an account as syncing
func (m *Model) StartSync(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.queue(id)
	item.State = AccountSyncing
	item.StartTime = time.Now()
	item.Err = nil
}

// RecordPage adds one page outcome to an account
func (m *Model) RecordPage(id, outcome string, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.queue(id)
	switch outcome {
	case "rate_limited":
		item.RateLimited++
	case "ok":
		item.Pages++
		item.Records += records
	}
}

// CompleteSync records a successful sync
func (m *Model) CompleteSync(id string, followers, unfollowers, newFollowers int, partial bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.queue(id)
	item.State = AccountDone
	item.Followers = followers
	item.Unfollowers = unfollowers
	item.NewFollowers = newFollowers
	item.Partial = partial
	item.EndTime = time.Now()
	m.totalUnfollowers += unfollowers
}

// FailSync records a failed or skipped sync
func (m *Model) FailSync(id string, err error, skipped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := m.queue(id)
	item.State = AccountFailed
	if skipped {
		item.State = AccountSkipped
	}
	item.Err = err
	item.EndTime = time.Now()
}

// AddLogMessage appends a log line, keeping the most recent ones
func (m *Model) AddLogMessage(level, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logMessages = append(m.logMessages, LogMessage{
		Time:    time.Now(),
		Level:   level,
		Message: message,
		Color:   levelColor(level),
	})
	if len(m.logMessages) > m.maxLogMessages {
		m.logMessages = m.logMessages[len(m.logMessages)-m.maxLogMessages:]
	}
}

// Accounts returns copies of the tracked accounts in queue order
func (m *Model) Accounts() []AccountItem {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]AccountItem, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.accounts[id])
	}
	return out
}

// Counts returns how many accounts are in each state
func (m *Model) Counts() map[AccountState]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[AccountState]int, 5)
	for _, item := range m.accounts {
		counts[item.State]++
	}
	return counts
}

// Finished reports whether every tracked account left the pending and
// syncing states.
func (m *Model) Finished() bool {
	counts := m.Counts()
	return len(m.order) > 0 && counts[AccountPending] == 0 && counts[AccountSyncing] == 0
}

// completion is the share of accounts that finished
func (m *Model) completion() float64 {
	m.mu.RLock()
	total := len(m.order)
	m.mu.RUnlock()
	if total == 0 {
		return 0
	}
	counts := m.Counts()
	done := counts[AccountDone] + counts[AccountFailed] + counts[AccountSkipped]
	return float64(done) / float64(total)
}
