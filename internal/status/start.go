package status

import (
	"regexp"
	"strconv"
	"time"
)

// Known explicit lmstat start layouts. First match wins.
var startLayouts = []string{
	"1/2/2006 15:04",
	"Jan 2 2006 15:04",
	"2006-01-02 15:04:05",
	"1/2/2006 15:04:05",
}

var (
	reStartWeekday = regexp.MustCompile(`^[A-Za-z]{3} (\d{1,2})/(\d{1,2}) (\d{1,2}):(\d{2})`)
	reStartShort   = regexp.MustCompile(`^(\d{1,2})/(\d{1,2}) (\d{1,2}):(\d{2})`)
)

// parseStart interprets an lmstat "start" field in local time. FLEXlm omits
// the year in its most common form, so dates that land in the future are
// pulled back a year. Returns nil when no known format matches.
func parseStart(s string, now time.Time) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return &t
		}
	}

	m := reStartWeekday.FindStringSubmatch(s)
	if m == nil {
		m = reStartShort.FindStringSubmatch(s)
	}
	if m == nil {
		return nil
	}

	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return nil
	}

	t := time.Date(now.Year(), time.Month(month), day, hour, minute, 0, 0, time.Local)
	if t.After(now.Add(48 * time.Hour)) {
		t = t.AddDate(-1, 0, 0)
	}
	return &t
}
