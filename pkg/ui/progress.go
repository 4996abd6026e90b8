package ui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	errs "followsync/pkg/errors"
	"followsync/pkg/syncer"
)

const (
	ProgressBar   = "█"
	ProgressEmpty = "░"
)

// accountProgress tracks one account's harvest
type accountProgress struct {
	pages       int
	records     int
	rateLimited int
	startTime   time.Time
}

// ConsoleProgress prints a one-line harvest status per account
type ConsoleProgress struct {
	mu       sync.Mutex
	out      io.Writer
	maxPages int
	accounts map[string]*accountProgress
}

var _ SyncView = (*ConsoleProgress)(nil)

// NewConsoleProgress writes to stdout. maxPages sizes the page bar.
func NewConsoleProgress(maxPages int) *ConsoleProgress {
	return NewConsoleProgressTo(os.Stdout, maxPages)
}

// NewConsoleProgressTo writes to out
func NewConsoleProgressTo(out io.Writer, maxPages int) *ConsoleProgress {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &ConsoleProgress{
		out:      out,
		maxPages: maxPages,
		accounts: make(map[string]*accountProgress),
	}
}

func (p *ConsoleProgress) account(id string) *accountProgress {
	a, ok := p.accounts[id]
	if !ok {
		a = &accountProgress{startTime: time.Now()}
		p.accounts[id] = a
	}
	return a
}

// SyncStarted resets the account's counters
func (p *ConsoleProgress) SyncStarted(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.accounts[accountID] = &accountProgress{startTime: time.Now()}
	fmt.Fprintf(p.out, "%s %s\n", Magenta("[SYNCING]"), accountID)
}

// ObservePage redraws the progress line for follower pages
func (p *ConsoleProgress) ObservePage(accountID, list, outcome string, records int) {
	if list != "followers" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	a := p.account(accountID)
	switch outcome {
	case "ok":
		a.pages++
		a.records += records
	case "rate_limited":
		a.rateLimited++
		fmt.Fprintf(p.out, "\n%s rate limited on page %d, backing off\n", Yellow("⚠"), a.pages+1)
	}
	fmt.Fprintf(p.out, "\r%s %s %s", Green("[HARVEST]"), accountID, p.pageBar(a))
}

// SyncFinished prints the outcome of a sync
func (p *ConsoleProgress) SyncFinished(accountID string, res *syncer.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintln(p.out)
	if err != nil {
		if e, ok := errs.As(err); ok && e.Type == errs.ErrorTypeRateLimit {
			fmt.Fprintf(p.out, "%s %s: next sync allowed in %s\n", Yellow("[SKIPPED]"), accountID, FormatWait(e.RetryAfter))
			return
		}
		fmt.Fprintf(p.out, "%s %s: %v\n", Red("[FAILED]"), accountID, err)
		return
	}

	elapsed := time.Since(p.account(accountID).startTime)
	fmt.Fprintf(p.out, "%s %s: %d followers, %d unfollowers, %d new (%s)\n",
		Green("[DONE]"), accountID, res.FollowerCount, res.UnfollowerCount, res.NewFollowerCount, FormatWait(elapsed))
	if res.Partial || res.Truncated {
		fmt.Fprintf(p.out, "  %s %s\n", Dim("•"), Yellow(res.Message))
	}
	for _, u := range res.Unfollowers {
		fmt.Fprintf(p.out, "  %s @%s (%s)\n", Red("-"), u.Username, u.ID)
	}
}

func (p *ConsoleProgress) pageBar(a *accountProgress) string {
	const width = 20
	filled := a.pages * width / p.maxPages
	if filled > width {
		filled = width
	}
	bar := strings.Repeat(ProgressBar, filled) + strings.Repeat(ProgressEmpty, width-filled)
	return fmt.Sprintf("[%s] %d pages • %d records", bar, a.pages, a.records)
}
