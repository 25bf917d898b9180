// Package ksatime handles calendar-day arithmetic in the Saudi timezone.
// Subscription days are keyed by the KSA date string (YYYY-MM-DD); all cutoff
// and validity comparisons happen in that calendar, not in UTC.
package ksatime

import (
	"errors"
	"regexp"
	"time"
)

const DateLayout = "2006-01-02"

// Riyadh has no DST; a fixed +03:00 zone is exact.
var Location = time.FixedZone("AST", 3*60*60)

var (
	dateRe   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	cutoffRe = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

var ErrInvalidCutoff = errors.New("invalid cutoff format, expected HH:mm")

// DateString formats t as a KSA calendar date.
func DateString(t time.Time) string {
	return t.In(Location).Format(DateLayout)
}

// Today returns the KSA date string for now.
func Today(now time.Time) string {
	return DateString(now)
}

// Tomorrow returns the KSA date string one day after now.
func Tomorrow(now time.Time) string {
	return DateString(now.In(Location).AddDate(0, 0, 1))
}

// AddDays shifts a KSA date string by n calendar days.
func AddDays(date string, n int) (string, error) {
	t, err := time.ParseInLocation(DateLayout, date, Location)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// IsValidDate reports whether s is a well-formed YYYY-MM-DD string.
func IsValidDate(s string) bool {
	if !dateRe.MatchString(s) {
		return false
	}
	_, err := time.ParseInLocation(DateLayout, s, Location)
	return err == nil
}

// Compare orders two date strings; lexical order matches chronological order
// for this layout.
func Compare(a, b string) int {
	switch {
	case a == b:
		return 0
	case a < b:
		return -1
	default:
		return 1
	}
}

// IsOnOrAfter reports a >= b.
func IsOnOrAfter(a, b string) bool { return Compare(a, b) >= 0 }

// BeforeCutoff reports whether now is still before today's cutoff time.
func BeforeCutoff(now time.Time, cutoff string) (bool, error) {
	if !cutoffRe.MatchString(cutoff) {
		return false, ErrInvalidCutoff
	}
	local := now.In(Location)
	boundary, err := time.ParseInLocation(DateLayout+" 15:04", DateString(local)+" "+cutoff, Location)
	if err != nil {
		return false, ErrInvalidCutoff
	}
	return local.Before(boundary), nil
}
