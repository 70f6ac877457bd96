package pipeline

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField matches one of the five cron positions. A nil set matches
// every value.
type cronField struct {
	set map[int]struct{}
}

func (f cronField) matches(val int) bool {
	if f.set == nil {
		return true
	}
	_, ok := f.set[val]
	return ok
}

// parseCronField parses "*", "N", "A-B", "*/S", "A-B/S" and comma lists of
// those, bounded to [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}

	set := make(map[int]struct{})
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		rng, stepStr, hasStep := strings.Cut(part, "/")

		step := 1
		if hasStep {
			s, err := strconv.Atoi(stepStr)
			if err != nil || s <= 0 {
				return cronField{}, fmt.Errorf("invalid cron step %q", part)
			}
			step = s
		}

		start, end := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var err error
			if start, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid cron range %q: %w", part, err)
			}
			if end, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid cron range %q: %w", part, err)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", part, err)
			}
			start = v
			if !hasStep {
				end = v
			}
		}

		if start < lo || end > hi || start > end {
			return cronField{}, fmt.Errorf("cron value %q out of range %d-%d", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			set[v] = struct{}{}
		}
	}
	return cronField{set: set}, nil
}

type parsedCron struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

func (c parsedCron) matchesTime(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dayOfMonth.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dayOfWeek.matches(int(t.Weekday()))
}

// parseCron parses a standard 5-field expression:
// "minute hour day-of-month month day-of-week".
func parseCron(expr string) (parsedCron, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return parsedCron{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return parsedCron{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}

	return parsedCron{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

// ValidateCron reports whether expr is a usable schedule.
func ValidateCron(expr string) error {
	_, err := parseCron(expr)
	return err
}

// nextCronTime returns the first minute strictly after `after` matching
// cronExpr, searching at most one year ahead.
func nextCronTime(cronExpr string, after time.Time) (time.Time, error) {
	cron, err := parseCron(cronExpr)
	if err != nil {
		return time.Time{}, err
	}

	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if cron.matchesTime(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time found within one year for %q", cronExpr)
}
