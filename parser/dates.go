package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// DefaultDateLayouts are tried, in order, when a board does not configure its own.
var DefaultDateLayouts = []string{
	"2006.01.02",
	"2006-01-02",
	"2006/01/02",
	"Jan 2, 2006, 3:04 PM",
	"Jan 2, 2006",
}

var (
	timeOnlyRe  = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)
	monthDayRe  = regexp.MustCompile(`^(\d{1,2})[.\-/](\d{1,2})\.?$`)
	dateTimeSep = regexp.MustCompile(`^(\d{4}[.\-/]\d{1,2}[.\-/]\d{1,2})[ T]`)
)

// DayDifference returns how many calendar days lie between the timestamp
// shown on a listing row and now.
//
// Boards print timestamps in several shapes:
//   - "15:04" only: posted today, returns 0
//   - "11.07" without a year: the current year is assumed, or the previous
//     one when that would land in the future
//   - "2021-09-19 23:47:42": only the date part is used
//   - anything matching layouts (DefaultDateLayouts when none are given)
func DayDifference(ts string, now time.Time, layouts ...string) (int, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return 0, fmt.Errorf("empty timestamp")
	}

	if timeOnlyRe.MatchString(ts) {
		return 0, nil
	}

	if m := monthDayRe.FindStringSubmatch(ts); m != nil {
		return monthDayDifference(m[1], m[2], now)
	}

	if m := dateTimeSep.FindStringSubmatch(ts); m != nil {
		ts = m[1]
	}

	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}

	for _, layout := range layouts {
		date, err := time.ParseInLocation(layout, ts, now.Location())
		if err == nil {
			return calendarDays(date, now), nil
		}
	}

	return 0, fmt.Errorf("timestamp did not match any layout: %q", ts)
}

func monthDayDifference(month, day string, now time.Time) (int, error) {
	asserted := fmt.Sprintf("%d.%s.%s", now.Year(), month, day)
	date, err := time.ParseInLocation("2006.1.2", asserted, now.Location())
	if err != nil {
		return 0, fmt.Errorf("invalid month/day %s.%s: %w", month, day, err)
	}

	// 12.31 read on 01.02 belongs to last year
	if calendarDays(date, now) < 0 {
		date = date.AddDate(-1, 0, 0)
	}

	return calendarDays(date, now), nil
}

// calendarDays counts midnights between date and now.
func calendarDays(date, now time.Time) int {
	from := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
