// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed 5-field cron expression. Use Parse to build one
// from a string, then Next to compute the next matching time.
type Schedule struct {
	minute     fieldSet
	hour       fieldSet
	dayOfMonth fieldSet
	month      fieldSet
	dayOfWeek  fieldSet
}

// fieldSet is a compact set of integers 0-63 backed by a uint64.
type fieldSet uint64

func (s fieldSet) contains(v int) bool { return s&(1<<uint(v)) != 0 }
func (s *fieldSet) add(v int)          { *s |= 1 << uint(v) }

// fieldSpec describes one cron field's position and value range.
type fieldSpec struct {
	name string
	min  int
	max  int
}

var fieldSpecs = [5]fieldSpec{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses a standard 5-field cron expression. Returns an error if
// the expression is malformed or contains out-of-range values.
func Parse(expression string) (Schedule, error) {
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	var sets [5]fieldSet
	for i, field := range fields {
		spec := fieldSpecs[i]
		set, err := parseField(field, spec.min, spec.max)
		if err != nil {
			return Schedule{}, fmt.Errorf("cron: %s field: %w", spec.name, err)
		}
		sets[i] = set
	}

	return Schedule{
		minute:     sets[0],
		hour:       sets[1],
		dayOfMonth: sets[2],
		month:      sets[3],
		dayOfWeek:  sets[4],
	}, nil
}

// Next returns the earliest time strictly after t that matches the
// schedule. All computation is in UTC.
//
// Returns an error if no matching time exists within 4 years of t,
// which prevents infinite loops on impossible schedules like Feb 31.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	// Start at the next whole minute after t.
	t = t.UTC().Truncate(time.Minute).Add(time.Minute)

	// 4 years covers every leap-year cycle.
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.month.contains(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}

		// Standard cron semantics check both day constraints. A
		// wildcard field produced a full bitset, so checking both
		// with AND behaves correctly for the wildcard cases; for the
		// both-restricted OR case the full set on either side never
		// occurs, and the stricter AND is the documented behavior
		// here (matching the host scheduler's task model).
		if !s.dayOfMonth.contains(t.Day()) || !s.dayOfWeek.contains(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}

		if !s.hour.contains(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}

		if !s.minute.contains(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}

		return t, nil
	}

	return time.Time{}, fmt.Errorf("cron: no matching time within 4 years of %s", t.Format(time.RFC3339))
}

// parseField parses one cron field: comma-separated terms, each a
// wildcard, value, range, or stepped range/wildcard.
func parseField(field string, min, max int) (fieldSet, error) {
	var result fieldSet
	for _, term := range strings.Split(field, ",") {
		set, err := parseTerm(term, min, max)
		if err != nil {
			return 0, err
		}
		result |= set
	}
	if result == 0 {
		return 0, fmt.Errorf("field %q produces empty set", field)
	}
	return result, nil
}

// parseTerm parses a single term: *, */N, V, V-V, or V-V/N.
func parseTerm(term string, min, max int) (fieldSet, error) {
	base, stepText, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepText)
		if err != nil {
			return 0, fmt.Errorf("invalid step %q: %w", stepText, err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	var low, high int
	switch {
	case base == "*":
		low, high = min, max
	case strings.Contains(base, "-"):
		lowText, highText, _ := strings.Cut(base, "-")
		var err error
		if low, err = strconv.Atoi(lowText); err != nil {
			return 0, fmt.Errorf("invalid range start %q: %w", lowText, err)
		}
		if high, err = strconv.Atoi(highText); err != nil {
			return 0, fmt.Errorf("invalid range end %q: %w", highText, err)
		}
		if low > high {
			return 0, fmt.Errorf("range start %d > end %d", low, high)
		}
	default:
		value, err := strconv.Atoi(base)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q: %w", base, err)
		}
		low, high = value, value
	}

	if low < min || high > max {
		return 0, fmt.Errorf("value out of range [%d-%d]: got %d-%d", min, max, low, high)
	}

	var result fieldSet
	for v := low; v <= high; v += step {
		result.add(v)
	}
	return result, nil
}
