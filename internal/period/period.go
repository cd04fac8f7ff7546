// Package period implements the calendar-month billing window. Periods are
// half-open [start, end) and are always expressed as YYYY-MM-DD dates in UTC.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const Layout = "2006-01-02"

var ErrMalformedDate = errors.New("malformed_date")

// MalformedDateError reports a date string that is not a valid YYYY-MM-DD.
type MalformedDateError struct {
	Input string
	Err   error
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("malformed date %q: expected YYYY-MM-DD", e.Input)
}

func (e *MalformedDateError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedDate}
	}
	return []error{ErrMalformedDate, e.Err}
}

// Window is one billing period.
type Window struct {
	Start string `json:"period_start"`
	End   string `json:"period_end"`
}

func Parse(date string) (time.Time, error) {
	trimmed := strings.TrimSpace(date)
	t, err := time.Parse(Layout, trimmed)
	if err != nil {
		return time.Time{}, &MalformedDateError{Input: date, Err: err}
	}
	return t, nil
}

func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// StartOf returns the first day of t's month in UTC.
func StartOf(t time.Time) string {
	t = t.UTC()
	return Format(time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC))
}

// Start returns the first day of date's month.
func Start(date string) (string, error) {
	t, err := Parse(date)
	if err != nil {
		return "", err
	}
	return StartOf(t), nil
}

// End returns the first day of the month after periodStart. Any day of the
// month is accepted and normalized to the month start first.
func End(periodStart string) (string, error) {
	t, err := Parse(periodStart)
	if err != nil {
		return "", err
	}
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Format(first.AddDate(0, 1, 0)), nil
}

// Contains reports start <= date < end.
func Contains(date, start, end string) (bool, error) {
	d, err := Parse(date)
	if err != nil {
		return false, err
	}
	s, err := Parse(start)
	if err != nil {
		return false, err
	}
	e, err := Parse(end)
	if err != nil {
		return false, err
	}
	return !d.Before(s) && d.Before(e), nil
}

// WindowOf returns the period containing t.
func WindowOf(t time.Time) Window {
	start := StartOf(t)
	// start is produced by Format so it always parses
	end, _ := End(start)
	return Window{Start: start, End: end}
}

// Normalize validates a period start supplied by a caller and snaps it to the month start.
func Normalize(periodStart string) (string, error) {
	return Start(periodStart)
}

// Clock is the subset of clock.Clock the calculator needs.
type Clock interface {
	Now() time.Time
}

// Current returns the period containing c.Now().
func Current(c Clock) Window {
	return WindowOf(c.Now())
}
