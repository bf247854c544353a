package calendar

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

// instanceLayout is the timestamp suffix appended to recurring instance IDs.
const instanceLayout = "20060102T150405Z"

// occurrenceCap bounds recurrence expansion per event.
const occurrenceCap = 1000

// parseFeed parses an ICS payload and expands recurrences into concrete
// events within [rangeStart, rangeEnd], sorted by start time.
//
// Recurring instances get IDs of the form "<uid>_<start in UTC>", so that
// all instances of one series share the ID prefix before the underscore.
func parseFeed(body []byte, rangeStart, rangeEnd time.Time) ([]Event, error) {
	if len(body) == 0 {
		return nil, errors.New("empty feed body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var out []Event
	for _, ve := range cal.Events() {
		events, err := expandVEvent(ve, rangeStart, rangeEnd)
		if err != nil {
			// A malformed component should not hide the rest of the feed.
			log.Printf("calendar: skipping event: %v", err)
			continue
		}
		out = append(out, events...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandVEvent(ve *ical.VEvent, rangeStart, rangeEnd time.Time) ([]Event, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return nil, errors.New("missing UID")
	}

	base := Event{ID: uidProp.Value}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		base.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		base.Location = p.Value
	}
	if p := ve.GetProperty(ical.ComponentProperty("COLOR")); p != nil {
		base.Color = ColorFrom(p.Value)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %s: no usable DTSTART: %w", base.ID, err)
	}
	end, _ := ve.GetEndAt()

	base.AllDay = isAllDay(ve)
	if base.AllDay {
		// Date-only events start at midnight in the event's timezone and
		// span a full day.
		start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
		end = start.Add(24 * time.Hour)
	} else if end.IsZero() || end.Before(start) {
		end = start
	}
	base.Start = start
	base.End = end

	rruleProp := ve.GetProperty(ical.ComponentPropertyRrule)
	if rruleProp == nil || rruleProp.Value == "" {
		if base.Start.Before(rangeStart) || base.Start.After(rangeEnd) {
			return nil, nil
		}
		return []Event{base}, nil
	}
	return expandRecurring(ve, base, rruleProp.Value, rangeStart, rangeEnd)
}

func expandRecurring(ve *ical.VEvent, base Event, rawRule string, rangeStart, rangeEnd time.Time) ([]Event, error) {
	r, err := rrule.StrToRRule(rawRule)
	if err != nil {
		return nil, fmt.Errorf("event %s: parse RRULE %q: %w", base.ID, rawRule, err)
	}
	r.DTStart(base.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exDates(ve) {
		set.ExDate(ex.In(base.Start.Location()))
	}

	loc := base.Start.Location()
	times := set.Between(rangeStart.In(loc), rangeEnd.In(loc), true)
	if len(times) > occurrenceCap {
		times = times[:occurrenceCap]
	}

	duration := base.End.Sub(base.Start)
	out := make([]Event, 0, len(times))
	for _, t := range times {
		ev := base
		if ev.AllDay {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		}
		ev.Start = t
		ev.End = t.Add(duration)
		ev.ID = base.ID + "_" + t.UTC().Format(instanceLayout)
		out = append(out, ev)
	}
	return out, nil
}

// isAllDay reports whether DTSTART is a date-only value.
func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func exDates(ve *ical.VEvent) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parseICSTime handles the basic DATE / DATE-TIME / UTC value forms.
func parseICSTime(v string) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, time.UTC)
	default:
		return time.ParseInLocation("20060102", v, time.UTC)
	}
}
