package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const banner = `
╔═══════════════════════════════════════════╗
║  F O L L O W S Y N C   ::   live sync    ║
╚═══════════════════════════════════════════╝`

// View renders the dashboard
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	half := (m.width - 4) / 2
	left := lipgloss.JoinVertical(lipgloss.Left,
		m.renderSummaryPanel(half),
		m.renderAccountsPanel(half),
	)
	right := m.renderLogsPanel(half)

	sections := []string{
		headerStyle.Width(m.width).Render(banner),
		lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right),
	}
	if m.showHelp {
		sections = append(sections, m.renderHelp())
	} else {
		sections = append(sections, helpStyle.Render("Press ? for help"))
	}

	return baseStyle.Width(m.width).Height(m.height).Render(
		lipgloss.JoinVertical(lipgloss.Left, sections...),
	)
}

func (m *Model) renderSummaryPanel(width int) string {
	counts := m.Counts()
	m.mu.RLock()
	total := len(m.order)
	unfollowers := m.totalUnfollowers
	elapsed := time.Since(m.sessionStartTime)
	m.mu.RUnlock()

	bar := m.progress
	bar.Width = width - 8

	lines := []string{
		fmt.Sprintf("%s %s", labelStyle.Render("Elapsed:"), valueStyle.Render(formatDuration(elapsed))),
		fmt.Sprintf("%s %s", labelStyle.Render("Accounts:"), valueStyle.Render(fmt.Sprintf("%d", total))),
		fmt.Sprintf("%s %s  %s %s  %s %s",
			labelStyle.Render("Done:"), successStyle.Render(fmt.Sprintf("%d", counts[AccountDone])),
			labelStyle.Render("Failed:"), errorStyle.Render(fmt.Sprintf("%d", counts[AccountFailed])),
			labelStyle.Render("Skipped:"), warningStyle.Render(fmt.Sprintf("%d", counts[AccountSkipped])),
		),
		fmt.Sprintf("%s %s", labelStyle.Render("Unfollowers found:"), valueStyle.Render(fmt.Sprintf("%d", unfollowers))),
		bar.ViewAs(m.completion()),
	}

	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(" SYNC SUMMARY "), strings.Join(lines, "\n")),
	)
}

func (m *Model) renderAccountsPanel(width int) string {
	accounts := m.Accounts()
	if len(accounts) == 0 {
		return panelStyle.Width(width).Render(
			lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(" ACCOUNTS "), mutedStyle.Render("No accounts queued")),
		)
	}

	rows := make([]string, 0, len(accounts))
	for _, item := range accounts {
		rows = append(rows, m.renderAccountRow(item))
	}
	return panelStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(" ACCOUNTS "), strings.Join(rows, "\n")),
	)
}

func (m *Model) renderAccountRow(item AccountItem) string {
	style := stateStyle(item.State)

	switch item.State {
	case AccountSyncing:
		detail := fmt.Sprintf("page %d, %d records", item.Pages, item.Records)
		if item.RateLimited > 0 {
			detail += warningStyle.Render(fmt.Sprintf(" (rate limited %dx)", item.RateLimited))
		}
		return fmt.Sprintf("%s %s %s", m.spinner.View(), style.Render(item.ID), detail)
	case AccountDone:
		detail := fmt.Sprintf("%d followers, -%d, +%d in %s", item.Followers, item.Unfollowers, item.NewFollowers,
			formatDuration(item.EndTime.Sub(item.StartTime)))
		if item.Partial {
			detail += warningStyle.Render(" partial")
		}
		return style.Render("✓ "+item.ID) + " " + detail
	case AccountFailed, AccountSkipped:
		return style.Render("✗ "+item.ID) + " " + mutedStyle.Render(truncate(fmt.Sprint(item.Err), 60))
	default:
		return mutedStyle.Render("⏳ " + item.ID)
	}
}

func (m *Model) renderLogsPanel(width int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := len(m.logMessages) - 15
	if start < 0 {
		start = 0
	}

	var logs []string
	for _, log := range m.logMessages[start:] {
		logs = append(logs, fmt.Sprintf("%s %s %s",
			logTimestampStyle.Render(log.Time.Format("15:04:05")),
			lipgloss.NewStyle().Foreground(log.Color).Bold(true).Render(fmt.Sprintf("[%-7s]", log.Level)),
			truncate(log.Message, width-25),
		))
	}

	content := strings.Join(logs, "\n")
	if content == "" {
		content = mutedStyle.Render("No logs yet...")
	}

	height := m.height - 12
	if height < 5 {
		height = 5
	}
	return panelStyle.Width(width).Height(height).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(" LOG "), content),
	)
}

func (m *Model) renderHelp() string {
	help := `
  Keys:
    q        - Quit
    ?        - Toggle this help
    ctrl+l   - Clear the log

  Account states:
    ` + successStyle.Render("⠋ syncing") + `   harvesting follower pages
    ` + successStyle.Render("✓ done") + `      snapshot and history saved
    ` + warningStyle.Render("✗ skipped") + `   minimum interval not reached or already running
    ` + errorStyle.Render("✗ failed") + `    upstream, configuration or storage error
`
	return panelStyle.Width(m.width).Render(help)
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		return "00:00"
	}

	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
