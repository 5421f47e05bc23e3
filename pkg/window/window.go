// Package window resolves abstract window selections into concrete
// timestamp intervals. Resolution is a pure function of (selector, params,
// now): explicit ranges are idempotent under repeated resolution, while
// relative selectors depend only on the reference instant.
package window

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow marks malformed or missing window parameters. It is
// rejected synchronously, before any run is created.
var ErrInvalidWindow = errors.New("invalid window")

// Selector names a window resolution strategy.
type Selector string

const (
	// Custom uses caller-given bounds verbatim; date-only bounds snap to
	// 00:00:00 and 23:59:59 of the given calendar days.
	Custom Selector = "custom"
	// LastNDays covers [today-N+1 00:00:00, today 23:59:59] relative to now.
	LastNDays Selector = "last_n_days"
	// LastWeek covers the Monday-Sunday week immediately preceding the week
	// containing now.
	LastWeek Selector = "last_week"
)

// Params carries the selector-specific inputs.
type Params struct {
	N     int    `json:"n,omitempty"`          // last_n_days
	Start string `json:"start_time,omitempty"` // custom: "2006-01-02" or "2006-01-02 15:04:05"
	End   string `json:"end_time,omitempty"`   // custom
}

// Window is a resolved interval plus the label used in artifact filenames.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label string    `json:"label"`
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
	compactDate    = "20060102"
)

// Resolve turns a selector plus parameters into a concrete window relative
// to now. It has no side effects.
func Resolve(selector Selector, params Params, now time.Time) (Window, error) {
	switch selector {
	case Custom:
		return resolveCustom(params, now.Location())
	case LastNDays:
		return resolveLastNDays(params, now)
	case LastWeek:
		return resolveLastWeek(now), nil
	default:
		return Window{}, fmt.Errorf("unsupported window selector %q: %w", selector, ErrInvalidWindow)
	}
}

func resolveCustom(params Params, loc *time.Location) (Window, error) {
	if params.Start == "" || params.End == "" {
		return Window{}, fmt.Errorf("custom window requires start_time and end_time: %w", ErrInvalidWindow)
	}
	start, err := parseBound(params.Start, loc, false)
	if err != nil {
		return Window{}, err
	}
	end, err := parseBound(params.End, loc, true)
	if err != nil {
		return Window{}, err
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("window start %s is not before end %s: %w",
			start.Format(dateTimeLayout), end.Format(dateTimeLayout), ErrInvalidWindow)
	}
	label := start.Format(dateLayout) + "-" + end.Format(dateLayout)
	return Window{Start: start, End: end, Label: label}, nil
}

// parseBound accepts a datetime or a bare date; bare dates snap to the start
// or end of the calendar day.
func parseBound(s string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if t, err := time.ParseInLocation(dateTimeLayout, s, loc); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(dateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q: %w", s, ErrInvalidWindow)
	}
	if endOfDay {
		return t.Add(24*time.Hour - time.Second), nil
	}
	return t, nil
}

func resolveLastNDays(params Params, now time.Time) (Window, error) {
	if params.N <= 0 {
		return Window{}, fmt.Errorf("last_n_days requires a positive n, got %d: %w", params.N, ErrInvalidWindow)
	}
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, now.Location())
	start := end.AddDate(0, 0, -(params.N - 1))
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, now.Location())
	label := fmt.Sprintf("last%dd-%s", params.N, end.Format(compactDate))
	return Window{Start: start, End: end, Label: label}, nil
}

func resolveLastWeek(now time.Time) Window {
	// Monday of the week containing now; time.Weekday has Sunday = 0.
	weekday := (int(now.Weekday()) + 6) % 7
	thisMonday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -weekday)
	start := thisMonday.AddDate(0, 0, -7)
	end := thisMonday.Add(-time.Second)
	label := start.Format(compactDate) + "-" + end.Format(compactDate)
	return Window{Start: start, End: end, Label: label}
}
