package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/ui/styles"
)

const (
	barWidth   = 12
	timeLayout = "15:04 02/01/2006"
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.TableBorderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.TableHeaderStyle
			}
			return styles.TableCellStyle
		})
}

// QuotaTable renders one row per account and tracked model.
func QuotaTable(quotas []models.AccountQuota) string {
	if len(quotas) == 0 {
		return styles.MutedStyle.Render("No accounts.")
	}

	t := newTable("Account", "Plan", "Model", "Remaining", "Reset")
	for _, q := range quotas {
		if !q.Valid() {
			t.Row(q.Email, q.Plan, styles.ErrorTextStyle.Render(q.Error), "", "")
			continue
		}
		for i, m := range q.Models {
			email, plan := q.Email, q.Plan
			if i > 0 {
				email, plan = "", ""
			}
			name := lipgloss.NewStyle().Foreground(styles.GetModelColor(m.ModelID)).Render(m.ModelName)
			reset := m.ResetText
			if reset == "" {
				reset = styles.MutedStyle.Render("-")
			}
			t.Row(email, plan, name, QuotaCell(m.Percentage, barWidth), reset)
		}
	}
	return t.Render()
}

// ScheduleTable renders the reset schedules with time left relative to now.
func ScheduleTable(scheds []models.ResetSchedule, now time.Time) string {
	if len(scheds) == 0 {
		return styles.MutedStyle.Render("No pending resets.")
	}

	t := newTable("Account", "Model", "Reset", "In", "Status", "Retries")
	for _, s := range scheds {
		status := s.Status()
		retries := "-"
		if s.RetryCount > 0 {
			retries = fmt.Sprintf("%d", s.RetryCount)
		}
		t.Row(
			s.Email,
			s.ModelName,
			s.ResetTime.Format(timeLayout),
			FormatUntil(s.Until(now)),
			styles.GetStatusStyle(status).Render(status),
			retries,
		)
	}
	return t.Render()
}

// NotificationList renders notifications one per line, newest first.
func NotificationList(notifs []models.Notification, loc *time.Location) string {
	if len(notifs) == 0 {
		return styles.MutedStyle.Render("No notifications yet.")
	}

	var b strings.Builder
	for _, n := range notifs {
		ts := styles.MutedStyle.Render(n.CreatedAt.In(loc).Format(timeLayout))
		title := styles.GetCategoryStyle(n.Category).Render(n.Title)
		fmt.Fprintf(&b, "%s  %s  %s\n", ts, title, n.Message)
	}
	return strings.TrimRight(b.String(), "\n")
}

// PreheatTable renders recorded preheat attempts.
func PreheatTable(attempts []models.PreheatAttempt, loc *time.Location) string {
	if len(attempts) == 0 {
		return styles.MutedStyle.Render("No preheat attempts yet.")
	}

	t := newTable("Time", "Account", "Model", "Attempt", "Result")
	for _, a := range attempts {
		result := styles.SuccessTextStyle.Render("ok")
		if !a.Success {
			result = styles.ErrorTextStyle.Render(truncate(a.Error, 40))
		}
		t.Row(
			a.CreatedAt.In(loc).Format(timeLayout),
			a.Email,
			a.ModelID,
			fmt.Sprintf("%d", a.Attempt),
			result,
		)
	}
	return t.Render()
}

// FormatUntil renders a signed duration as "in 1h 05m" or "3m ago".
func FormatUntil(d time.Duration) string {
	if d >= 0 {
		return "in " + formatDuration(d)
	}
	return formatDuration(-d) + " ago"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60

	switch {
	case h >= 24:
		return fmt.Sprintf("%dd %02dh", h/24, h%24)
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
