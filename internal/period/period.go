package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidDateRange = errors.New("invalid custom date range")

// Window is a resolved reporting interval with a human-readable label.
// Immutable once constructed.
type Window struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains reports whether the timestamp falls within [Start, End].
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// Resolver maps symbolic period tokens and custom date ranges to concrete
// windows. All calendar arithmetic is pinned to a single location.
type Resolver struct {
	loc *time.Location
}

const (
	customDateLayout     = "02/01/2006"
	customRangeSeparator = " - "
)

func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the resolver's reporting timezone.
func (r *Resolver) Location() *time.Location {
	if r == nil || r.loc == nil {
		return time.UTC
	}
	return r.loc
}

// Resolve maps a period token to a window evaluated against a single "now"
// instant. Unrecognized or empty tokens fall back to the full-history window.
// A string containing the custom-range separator is treated as a custom
// "dd/mm/yyyy - dd/mm/yyyy" range and is rejected when malformed or inverted.
func (r *Resolver) Resolve(token string, now time.Time) (Window, error) {
	loc := r.Location()
	now = now.In(loc)
	midnight := truncateToDay(now, loc)

	switch strings.ToLower(strings.TrimSpace(token)) {
	case "today":
		return Window{Start: midnight, End: now, Label: "today"}, nil
	case "yesterday":
		return Window{Start: midnight.AddDate(0, 0, -1), End: midnight.Add(-time.Second), Label: "yesterday"}, nil
	case "this_week":
		return Window{Start: startOfWeek(now, loc), End: now, Label: "this week"}, nil
	case "last_week":
		thisMonday := startOfWeek(now, loc)
		lastMonday := thisMonday.AddDate(0, 0, -7)
		return Window{Start: lastMonday, End: thisMonday.Add(-time.Second), Label: "last week"}, nil
	case "this_month":
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return Window{Start: start, End: now, Label: "this month"}, nil
	case "last_month":
		firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		start := firstOfThis.AddDate(0, -1, 0)
		return Window{Start: start, End: firstOfThis.Add(-time.Second), Label: "last month"}, nil
	case "last_7d":
		return Window{Start: now.AddDate(0, 0, -7), End: now, Label: "last 7 days"}, nil
	case "last_30d":
		return Window{Start: now.AddDate(0, 0, -30), End: now, Label: "last 30 days"}, nil
	case "last_90d":
		return Window{Start: now.AddDate(0, 0, -90), End: now, Label: "last 90 days"}, nil
	}

	if strings.Contains(token, customRangeSeparator) {
		return r.resolveCustom(token, loc)
	}

	// "all", unset, and anything unrecognized share the default window.
	return Window{Start: time.Unix(0, 0).In(loc), End: now, Label: "all data"}, nil
}

func (r *Resolver) resolveCustom(token string, loc *time.Location) (Window, error) {
	parts := strings.SplitN(token, customRangeSeparator, 2)
	if len(parts) != 2 {
		return Window{}, ErrInvalidDateRange
	}

	from, err := time.ParseInLocation(customDateLayout, strings.TrimSpace(parts[0]), loc)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %s", ErrInvalidDateRange, parts[0])
	}
	to, err := time.ParseInLocation(customDateLayout, strings.TrimSpace(parts[1]), loc)
	if err != nil {
		return Window{}, fmt.Errorf("%w: %s", ErrInvalidDateRange, parts[1])
	}
	if to.Before(from) {
		return Window{}, fmt.Errorf("%w: start after end", ErrInvalidDateRange)
	}

	end := to.Add(24*time.Hour - time.Second)
	label := fmt.Sprintf("from %s to %s", from.Format(customDateLayout), to.Format(customDateLayout))
	return Window{Start: from, End: end, Label: label}, nil
}

// startOfWeek returns Monday 00:00:00 of the week containing t.
func startOfWeek(t time.Time, loc *time.Location) time.Time {
	day := truncateToDay(t, loc)
	delta := (int(t.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -delta)
}

func truncateToDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
