package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronSpec is a parsed five-field cron expression
// ("minute hour day-of-month month day-of-week"). Each field accepts "*",
// single values, "a-b" ranges, "*/n" or "a-b/n" steps and comma lists.
type cronSpec struct {
	minute, hour, dom, month, dow fieldSet
}

// fieldSet is a bitmask of allowed values; bit i set means value i matches.
type fieldSet uint64

func (f fieldSet) has(v int) bool { return f&(1<<uint(v)) != 0 }

var cronBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day of month
	{1, 12}, // month
	{0, 6},  // day of week, Sunday = 0
}

func parseCronSpec(expr string) (cronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSpec{}, fmt.Errorf("cron: want 5 fields, got %d in %q", len(fields), expr)
	}
	var sets [5]fieldSet
	for i, f := range fields {
		s, err := parseCronField(f, cronBounds[i][0], cronBounds[i][1])
		if err != nil {
			return cronSpec{}, fmt.Errorf("cron: field %d %q: %w", i+1, f, err)
		}
		sets[i] = s
	}
	return cronSpec{minute: sets[0], hour: sets[1], dom: sets[2], month: sets[3], dow: sets[4]}, nil
}

func parseCronField(field string, lo, hi int) (fieldSet, error) {
	var set fieldSet
	for _, part := range strings.Split(field, ",") {
		rangePart, stepPart, hasStep := strings.Cut(part, "/")
		step := 1
		if hasStep {
			n, err := strconv.Atoi(stepPart)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("bad step %q", stepPart)
			}
			step = n
		}

		from, to := lo, hi
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return 0, fmt.Errorf("bad range start %q", a)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return 0, fmt.Errorf("bad range end %q", b)
			}
		default:
			v, err := strconv.Atoi(rangePart)
			if err != nil {
				return 0, fmt.Errorf("bad value %q", rangePart)
			}
			from = v
			if !hasStep {
				to = v
			}
		}
		if from < lo || to > hi || from > to {
			return 0, fmt.Errorf("%d-%d outside %d-%d", from, to, lo, hi)
		}
		for v := from; v <= to; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func (c cronSpec) matches(t time.Time) bool {
	return c.minute.has(t.Minute()) &&
		c.hour.has(t.Hour()) &&
		c.dom.has(t.Day()) &&
		c.month.has(int(t.Month())) &&
		c.dow.has(int(t.Weekday()))
}

// next returns the first minute strictly after t that matches, searching at
// most one year ahead.
func (c cronSpec) next(t time.Time) (time.Time, error) {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("cron: no match within a year after %s", t.Format(time.RFC3339))
}
