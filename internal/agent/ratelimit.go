package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// "Claude AI usage limit reached|1735689600"
	resetUnixPattern = regexp.MustCompile(`limit reached\|(\d{9,})`)
	// "resets 6am (Europe/Berlin)"
	resetHourPattern = regexp.MustCompile(`(?i)resets\s+(?:at\s+)?(\d{1,2})(am|pm)(?:\s+\(([^)]+)\))?`)
	// "resets 2:30pm (UTC)"
	resetHourMinutePattern = regexp.MustCompile(`(?i)resets\s+(?:at\s+)?(\d{1,2}):(\d{2})\s*(am|pm)(?:\s+\(([^)]+)\))?`)
	// "resets 14:30 (UTC)"
	reset24hPattern = regexp.MustCompile(`(?i)resets\s+(?:at\s+)?(\d{1,2}):(\d{2})(?:\s+\(([^)]+)\))?`)
)

// ParseResetTime extracts the quota reset time from a rate-limit message.
// Wall-clock formats without a date are resolved to the next occurrence
// after now.
func ParseResetTime(text string, now time.Time) (time.Time, bool) {
	if m := resetUnixPattern.FindStringSubmatch(text); m != nil {
		secs, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			return time.Unix(secs, 0), true
		}
	}

	var hour, minute int
	var ampm, tz string

	switch {
	case resetHourMinutePattern.MatchString(text):
		m := resetHourMinutePattern.FindStringSubmatch(text)
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		ampm, tz = strings.ToLower(m[3]), m[4]
	case resetHourPattern.MatchString(text):
		m := resetHourPattern.FindStringSubmatch(text)
		hour, _ = strconv.Atoi(m[1])
		ampm, tz = strings.ToLower(m[2]), m[3]
	case reset24hPattern.MatchString(text):
		m := reset24hPattern.FindStringSubmatch(text)
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		tz = m[3]
	default:
		return time.Time{}, false
	}

	if ampm == "pm" && hour != 12 {
		hour += 12
	} else if ampm == "am" && hour == 12 {
		hour = 0
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	loc := now.Location()
	if tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	local := now.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !reset.After(local) {
		reset = reset.Add(24 * time.Hour)
	}
	return reset, true
}
