package models

import (
	"fmt"
	"strings"
	"time"
)

// WorkHours is a daily window in minutes since midnight, both ends
// inclusive. A window whose start is after its end runs past midnight.
// The zero value covers the whole day.
type WorkHours struct {
	Start int
	End   int
	Set   bool
}

// ParseWorkHours reads "HH:MM-HH:MM". An empty string yields the zero value.
func ParseWorkHours(s string) (WorkHours, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return WorkHours{}, nil
	}

	from, to, ok := strings.Cut(s, "-")
	if !ok {
		return WorkHours{}, fmt.Errorf("invalid work hours %q, want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return WorkHours{}, fmt.Errorf("invalid work hours %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return WorkHours{}, fmt.Errorf("invalid work hours %q: %w", s, err)
	}
	return WorkHours{Start: start, End: end, Set: true}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// Contains reports whether t's wall clock falls inside the window.
func (w WorkHours) Contains(t time.Time) bool {
	if !w.Set {
		return true
	}
	mins := t.Hour()*60 + t.Minute()
	if w.Start <= w.End {
		return mins >= w.Start && mins <= w.End
	}
	return mins >= w.Start || mins <= w.End
}

func (w WorkHours) String() string {
	if !w.Set {
		return "always"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}
