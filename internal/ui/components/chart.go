package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"

	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/ui/styles"
)

// chartPalette colors the model series of a chart in order.
var chartPalette = []asciigraph.AnsiColor{
	asciigraph.Blue,
	asciigraph.Orange,
	asciigraph.Green,
	asciigraph.Magenta,
	asciigraph.Cyan,
	asciigraph.Yellow,
	asciigraph.Red,
}

type accountHistory struct {
	email  string
	from   time.Time
	to     time.Time
	names  []string
	series [][]float64
}

// QuotaHistoryCharts renders one chart per account with a line per model,
// on a fixed 0-100% scale. Snapshots must be grouped by account and model
// and ordered oldest first, as the database returns them.
func QuotaHistoryCharts(snaps []models.QuotaSnapshot, width, height int, loc *time.Location) string {
	if len(snaps) == 0 {
		return styles.MutedStyle.Render("No quota history yet.")
	}

	// Ensure minimum dimensions
	if width < 20 {
		width = 20
	}
	if height < 3 {
		height = 3
	}

	var accounts []*accountHistory
	var cur *accountHistory
	lastModel := ""
	for _, s := range snaps {
		if cur == nil || cur.email != s.Email {
			cur = &accountHistory{email: s.Email, from: s.CreatedAt, to: s.CreatedAt}
			accounts = append(accounts, cur)
			lastModel = ""
		}
		if s.ModelID != lastModel {
			name := s.ModelName
			if name == "" {
				name = s.ModelID
			}
			cur.names = append(cur.names, name)
			cur.series = append(cur.series, nil)
			lastModel = s.ModelID
		}
		last := len(cur.series) - 1
		cur.series[last] = append(cur.series[last], s.Percentage)
		if s.CreatedAt.Before(cur.from) {
			cur.from = s.CreatedAt
		}
		if s.CreatedAt.After(cur.to) {
			cur.to = s.CreatedAt
		}
	}

	parts := make([]string, 0, len(accounts))
	for _, acc := range accounts {
		colors := make([]asciigraph.AnsiColor, len(acc.series))
		for i := range colors {
			colors[i] = chartPalette[i%len(chartPalette)]
		}

		caption := fmt.Sprintf("remaining %% from %s to %s",
			acc.from.In(loc).Format(timeLayout), acc.to.In(loc).Format(timeLayout))
		graph := asciigraph.PlotMany(acc.series,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.LowerBound(0),
			asciigraph.UpperBound(100),
			asciigraph.Precision(0),
			asciigraph.Caption(caption),
			asciigraph.SeriesColors(colors...),
			asciigraph.SeriesLegends(acc.names...),
		)
		parts = append(parts, styles.SubTitleStyle.Render(acc.email)+"\n"+graph)
	}

	return strings.Join(parts, "\n\n")
}
