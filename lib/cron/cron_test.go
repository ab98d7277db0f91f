// Copyright 2026 The NanoClaw Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"strings"
	"testing"
	"time"
)

func mustParse(t *testing.T, expression string) Schedule {
	t.Helper()
	schedule, err := Parse(expression)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expression, err)
	}
	return schedule
}

func utc(year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

func TestParseValid(t *testing.T) {
	expressions := []string{
		"* * * * *",
		"0 7 * * *",
		"*/15 0-6 1,15 * 1-5",
		"30 3 * * 0",
		"0 0 1 1 *",
		"5,10,15 * * * *",
		"0-30/5 * * * *",
	}
	for _, expression := range expressions {
		t.Run(expression, func(t *testing.T) {
			if _, err := Parse(expression); err != nil {
				t.Errorf("Parse(%q) = %v, want nil", expression, err)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name       string
		expression string
		wantErr    string
	}{
		{"too_few_fields", "* * * *", "expected 5 fields"},
		{"too_many_fields", "* * * * * *", "expected 5 fields"},
		{"empty", "", "expected 5 fields"},
		{"minute_out_of_range", "60 * * * *", "out of range"},
		{"hour_out_of_range", "* 24 * * *", "out of range"},
		{"day_zero", "* * 0 * *", "out of range"},
		{"day_out_of_range", "* * 32 * *", "out of range"},
		{"month_zero", "* * * 0 *", "out of range"},
		{"month_out_of_range", "* * * 13 *", "out of range"},
		{"dow_out_of_range", "* * * * 7", "out of range"},
		{"zero_step", "*/0 * * * *", "step must be positive"},
		{"bad_range", "5-3 * * * *", "range start 5 > end 3"},
		{"non_numeric", "abc * * * *", "invalid value"},
		{"bad_step_value", "*/x * * * *", "invalid step"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(test.expression)
			if err == nil {
				t.Fatalf("Parse(%q) = nil, want error containing %q", test.expression, test.wantErr)
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("Parse(%q) = %q, want error containing %q", test.expression, err, test.wantErr)
			}
		})
	}
}

func TestNextEveryMinute(t *testing.T) {
	schedule := mustParse(t, "* * * * *")
	next, err := schedule.Next(utc(2026, 2, 18, 10, 30))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 18, 10, 31); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}

func TestNextDailyAt7AM(t *testing.T) {
	schedule := mustParse(t, "0 7 * * *")

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"before", utc(2026, 2, 18, 5, 0), utc(2026, 2, 18, 7, 0)},
		{"after", utc(2026, 2, 18, 8, 0), utc(2026, 2, 19, 7, 0)},
		// Exactly at 7:00 → next day (strictly after).
		{"exactly", utc(2026, 2, 18, 7, 0), utc(2026, 2, 19, 7, 0)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			next, err := schedule.Next(test.from)
			if err != nil {
				t.Fatal(err)
			}
			if !next.Equal(test.want) {
				t.Errorf("Next(%v) = %v, want %v", test.from, next, test.want)
			}
		})
	}
}

func TestNextEvery15Minutes(t *testing.T) {
	schedule := mustParse(t, "*/15 * * * *")

	tests := []struct {
		from time.Time
		want time.Time
	}{
		{utc(2026, 2, 18, 10, 0), utc(2026, 2, 18, 10, 15)},
		{utc(2026, 2, 18, 10, 14), utc(2026, 2, 18, 10, 15)},
		{utc(2026, 2, 18, 10, 15), utc(2026, 2, 18, 10, 30)},
		{utc(2026, 2, 18, 10, 46), utc(2026, 2, 18, 11, 0)},
		{utc(2026, 2, 18, 23, 50), utc(2026, 2, 19, 0, 0)},
	}
	for _, test := range tests {
		next, err := schedule.Next(test.from)
		if err != nil {
			t.Fatalf("Next(%v): %v", test.from, err)
		}
		if !next.Equal(test.want) {
			t.Errorf("Next(%v) = %v, want %v", test.from, next, test.want)
		}
	}
}

func TestNextWeekdaysOnly(t *testing.T) {
	// Monday through Friday at 9am.
	schedule := mustParse(t, "0 9 * * 1-5")

	// Tuesday before 9am → same day. Feb 17 2026 is a Tuesday.
	next, err := schedule.Next(utc(2026, 2, 17, 8, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 17, 9, 0); !next.Equal(want) {
		t.Errorf("Tuesday before 9am: Next = %v (%v), want %v", next, next.Weekday(), want)
	}

	// Friday after 9am → next Monday. Feb 20 2026 is a Friday.
	next, err = schedule.Next(utc(2026, 2, 20, 10, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 23, 9, 0); !next.Equal(want) {
		t.Errorf("Friday after 9am: Next = %v (%v), want %v", next, next.Weekday(), want)
	}
}

func TestNextSpecificDayOfMonth(t *testing.T) {
	schedule := mustParse(t, "0 0 1,15 * *")

	next, err := schedule.Next(utc(2026, 2, 2, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 15, 0, 0); !next.Equal(want) {
		t.Errorf("Feb 2: Next = %v, want %v", next, want)
	}

	next, err = schedule.Next(utc(2026, 2, 16, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 3, 1, 0, 0); !next.Equal(want) {
		t.Errorf("Feb 16: Next = %v, want %v", next, want)
	}
}

func TestNextImpossibleSchedule(t *testing.T) {
	// Feb 31 never exists.
	schedule := mustParse(t, "0 0 31 2 *")
	if _, err := schedule.Next(utc(2026, 1, 1, 0, 0)); err == nil {
		t.Fatal("Next for Feb 31 = nil error, want no-match error")
	}
}

func TestNextNormalizesToUTC(t *testing.T) {
	schedule := mustParse(t, "0 12 * * *")
	est := time.FixedZone("EST", -5*3600)
	// 10:00 EST == 15:00 UTC, so the next noon UTC is the following day.
	next, err := schedule.Next(time.Date(2026, 2, 18, 10, 0, 0, 0, est))
	if err != nil {
		t.Fatal(err)
	}
	if want := utc(2026, 2, 19, 12, 0); !next.Equal(want) {
		t.Errorf("Next = %v, want %v", next, want)
	}
}
