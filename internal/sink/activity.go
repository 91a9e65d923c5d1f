/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package sink

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Activity restricts a sink to recurring weekly time windows.
type Activity struct {
	Timezone  string             `json:"timezone,omitempty"`
	Intervals []ActivityInterval `json:"intervals"`
}

// ActivityInterval lists days and, optionally, time ranges on those days.
// Without hours the whole day is active.
type ActivityInterval struct {
	Days  []string    `json:"days"`
	Hours []HourRange `json:"hours,omitempty"`
}

// HourRange is an inclusive "HH:MM" range.
type HourRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

var dayNames = map[string]time.Weekday{
	"MON": time.Monday,
	"TUE": time.Tuesday,
	"WED": time.Wednesday,
	"THR": time.Thursday,
	"THU": time.Thursday,
	"FRI": time.Friday,
	"SAT": time.Saturday,
	"SUN": time.Sunday,
}

type timeSlice struct {
	days      map[time.Weekday]bool
	intervals [][2]int
	loc       *time.Location
}

func (ts timeSlice) activeAt(t time.Time) bool {
	local := t.In(ts.loc)
	if !ts.days[local.Weekday()] {
		return false
	}
	if len(ts.intervals) == 0 {
		return true
	}
	second := local.Hour()*3600 + local.Minute()*60 + local.Second()
	for _, iv := range ts.intervals {
		if iv[0] <= second && second <= iv[1] {
			return true
		}
	}
	return false
}

// timeSlices compiles the activity. A nil activity has no slices, which
// means always active.
func (a *Activity) timeSlices() ([]timeSlice, error) {
	if a == nil {
		return nil, nil
	}
	if len(a.Intervals) == 0 {
		return nil, fmt.Errorf("activity requires at least one interval")
	}
	tz := a.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", tz, err)
	}

	slices := make([]timeSlice, 0, len(a.Intervals))
	for _, iv := range a.Intervals {
		ts := timeSlice{days: map[time.Weekday]bool{}, loc: loc}
		if len(iv.Days) == 0 {
			return nil, fmt.Errorf("activity interval requires days")
		}
		for _, d := range iv.Days {
			day, ok := dayNames[strings.ToUpper(strings.TrimSpace(d))]
			if !ok {
				return nil, fmt.Errorf("invalid day of the week: %s", d)
			}
			ts.days[day] = true
		}
		for _, h := range iv.Hours {
			start, err := parseClock(h.Start)
			if err != nil {
				return nil, err
			}
			end, err := parseClock(h.End)
			if err != nil {
				return nil, err
			}
			ts.intervals = append(ts.intervals, [2]int{start, end})
		}
		slices = append(slices, ts)
	}
	return slices, nil
}

// parseClock returns "HH:MM" as seconds since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time: %s", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid time: %s", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid time: %s", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time: %s", s)
	}
	return h*3600 + m*60, nil
}
