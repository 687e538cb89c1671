package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDateTime resolves a human date + clock pair into an instant in loc.
//
// Accepted date forms: "3/11" or "03/11" (month/day, year taken from ref)
// and "2025-01-28". Accepted clock forms: "6 pm", "6:30 pm", "18:30".
// The result carries the explicit UTC offset of loc at that instant, so
// DST transitions resolve the way a wall clock in that zone would.
func ParseDateTime(dateStr, clockStr string, ref time.Time, loc *time.Location) (time.Time, error) {
	year, month, day, err := parseDate(dateStr, ref)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := parseClock(clockStr)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc), nil
}

func parseDate(s string, ref time.Time) (year, month, day int, err error) {
	s = strings.TrimSpace(s)

	if t, perr := time.Parse("2006-01-02", s); perr == nil {
		return t.Year(), int(t.Month()), t.Day(), nil
	}

	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return 0, 0, 0, &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not M/D or YYYY-MM-DD", s)}
	}
	month, err1 := strconv.Atoi(parts[0])
	day, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, 0, &ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a valid M/D date", s)}
	}
	return ref.Year(), month, day, nil
}

func parseClock(s string) (hour, minute int, err error) {
	s = strings.ToLower(strings.TrimSpace(s))

	meridiem := ""
	for _, suffix := range []string{"am", "pm"} {
		if strings.HasSuffix(s, suffix) {
			meridiem = suffix
			s = strings.TrimSpace(strings.TrimSuffix(s, suffix))
			break
		}
	}

	hm := strings.SplitN(s, ":", 2)
	hour, err = strconv.Atoi(strings.TrimSpace(hm[0]))
	if err != nil {
		return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not a valid clock time", s)}
	}
	if len(hm) == 2 {
		minute, err = strconv.Atoi(strings.TrimSpace(hm[1]))
		if err != nil || minute < 0 || minute > 59 {
			return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("minutes %q out of range", hm[1])}
		}
	}

	switch meridiem {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("hour %d out of range for am/pm", hour)}
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("hour %d out of range for am/pm", hour)}
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour < 0 || hour > 23 {
			return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("hour %d out of range", hour)}
		}
	}
	return hour, minute, nil
}
