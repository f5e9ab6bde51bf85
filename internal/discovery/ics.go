package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "copilot/internal/log"
	"copilot/internal/model"
)

// ParsedEvent is one VEVENT before recurrence expansion. Start/End carry
// their own location; all-day values are midnight in the feed zone.
type ParsedEvent struct {
	Feed Feed

	UID string

	Summary     string
	Description string
	Location    string
	Category    string
	Impact      model.Impact
	Latitude    *float64
	Longitude   *float64

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time
	IsOverride bool
}

// impactProperty carries a demand-impact hint on VEVENTs we publish
// ourselves; third-party calendars simply omit it.
const impactProperty = "X-COPILOT-IMPACT"

// ParseICS parses one ICS payload. A VEVENT that fails to parse is logged and
// skipped; the rest of the calendar is still returned.
func ParseICS(feed Feed, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("discovery: empty ICS body")
	}
	loc, err := feed.Location()
	if err != nil {
		return nil, err
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("discovery: parse ICS %s: %w", feed.ID, err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(feed, loc, comp)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", feed.ID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", feed.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(feed Feed, loc *time.Location, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Feed: feed}

	uid := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uid == nil || uid.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uid.Value

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.Impact = model.NormalizeImpact(propValue(ve, impactProperty))

	if cats := propValue(ve, "CATEGORIES"); cats != "" {
		out.Category = strings.TrimSpace(strings.Split(cats, ",")[0])
	}
	if geo := propValue(ve, "GEO"); geo != "" {
		if lat, lng, ok := parseGeo(geo); ok {
			out.Latitude, out.Longitude = &lat, &lng
		}
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseICSTime(dtStart.Value, tzidParam(dtStart), loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start, out.AllDay = start, allDay

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, _, err := parseICSTime(dtEnd.Value, tzidParam(dtEnd), loc)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	} else if dur := propValue(ve, "DURATION"); dur != "" {
		end, err := addICSDuration(out.Start, dur)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		out.End = end
	}
	if out.End.IsZero() || out.End.Before(out.Start) {
		if allDay {
			out.End = out.Start.AddDate(0, 0, 1)
		} else {
			out.End = out.Start
		}
	}

	out.RawRRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, err := parseICSTime(part, tzidParam(p), loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
		if t, _, err := parseICSTime(rid.Value, tzidParam(rid), loc); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func tzidParam(p *ical.IANAProperty) string {
	if p == nil || p.ICalParameters == nil {
		return ""
	}
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		return tzs[0]
	}
	return ""
}

// parseICSTime parses DATE, floating DATE-TIME, TZID DATE-TIME and UTC
// DATE-TIME values. Floating and date-only values are read in the feed's
// market zone, never the host zone.
func parseICSTime(v, tzid string, feedLoc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if !strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102", v, feedLoc)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	loc := feedLoc
	if tzid != "" {
		if l, err := time.LoadLocation(tzid); err == nil {
			loc = l
		} else {
			appLog.Debug("unknown TZID, using feed timezone", "tzid", tzid, "feed_tz", feedLoc.String())
		}
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

// addICSDuration applies an RFC 5545 duration ([+-]P[nW][nD][T[nH][nM][nS]])
// to t. Days and weeks are calendar days, so they keep the wall-clock time
// across DST changes.
func addICSDuration(t time.Time, v string) (time.Time, error) {
	v = strings.ToUpper(strings.TrimSpace(v))
	sign := 1
	switch {
	case strings.HasPrefix(v, "-"):
		sign, v = -1, v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 3 {
		return time.Time{}, fmt.Errorf("invalid duration %q", v)
	}

	var days int
	var clock time.Duration
	inTime := false
	num := ""
	for _, r := range v[1:] {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return time.Time{}, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}
		if num == "" {
			return time.Time{}, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		num = ""
		switch {
		case !inTime && r == 'W':
			days += 7 * n
		case !inTime && r == 'D':
			days += n
		case inTime && r == 'H':
			clock += time.Duration(n) * time.Hour
		case inTime && r == 'M':
			clock += time.Duration(n) * time.Minute
		case inTime && r == 'S':
			clock += time.Duration(n) * time.Second
		default:
			return time.Time{}, fmt.Errorf("invalid duration %q", v)
		}
	}
	if num != "" {
		return time.Time{}, fmt.Errorf("invalid duration %q", v)
	}
	return t.AddDate(0, 0, sign*days).Add(time.Duration(sign) * clock), nil
}

func parseGeo(v string) (float64, float64, bool) {
	parts := strings.Split(v, ";")
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lng, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lat, lng, true
}
