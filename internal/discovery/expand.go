package discovery

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "copilot/internal/log"
	"copilot/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 500

	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location is the market zone event dates and times are rendered in.
	Location *time.Location

	// RangeStart / RangeEnd bound the occurrences that are produced.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means the default.
	MaxOccurrencesPerEvent int
}

// ExpandResult holds the expanded events and the UIDs that hit the cap.
type ExpandResult struct {
	Events    []model.Event
	Truncated []string
}

// Expand turns parsed VEVENTs into concrete event records within the window:
// single events, RRULE recurrences, EXDATE removals and RECURRENCE-ID
// overrides. Output is ordered by start instant then UID so repeated
// refreshes of the same feed produce the same order.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.Location == nil {
		return result, errors.New("discovery: expand needs a location")
	}
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("discovery: RangeEnd is before RangeStart")
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	base := make(map[string][]ParsedEvent)
	overrides := make(map[string][]ParsedEvent)
	uids := make([]string, 0)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overrides[ev.UID] = append(overrides[ev.UID], ev)
			continue
		}
		if _, seen := base[ev.UID]; !seen {
			uids = append(uids, ev.UID)
		}
		base[ev.UID] = append(base[ev.UID], ev)
	}

	type timed struct {
		at time.Time
		ev model.Event
	}
	all := make([]timed, 0)

	for _, uid := range uids {
		truncated := false
		for _, ev := range base[uid] {
			occ, hitCap := expandOne(ev, overrides[uid], cfg)
			truncated = truncated || hitCap
			for _, o := range occ {
				all = append(all, timed{at: o.start, ev: toModel(o.ev, o.start, o.end, cfg.Location)})
			}
		}
		if truncated {
			result.Truncated = append(result.Truncated, uid)
			appLog.Error("expand: occurrence cap reached", errors.New("max occurrences reached"),
				"uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].at.Equal(all[j].at) {
			return all[i].at.Before(all[j].at)
		}
		return all[i].ev.ID < all[j].ev.ID
	})

	result.Events = make([]model.Event, 0, len(all))
	for _, t := range all {
		result.Events = append(result.Events, t.ev)
	}
	return result, nil
}

type occurrence struct {
	ev         ParsedEvent
	start, end time.Time
}

func expandOne(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]occurrence, bool) {
	if ev.RawRRule == "" {
		start, end := ev.Start, ev.End
		if o, ok := findOverride(overrides, start); ok {
			ev, start, end = o, o.Start, o.End
		}
		if !overlaps(start, end, cfg.RangeStart, cfg.RangeEnd) {
			return nil, false
		}
		return []occurrence{{ev: ev, start: start, end: end}}, false
	}

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return nil, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event length so an occurrence that began
	// before the window but is still running is kept.
	dur := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())
	starts := set.Between(from, to, true)

	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	out := make([]occurrence, 0, len(starts))
	for _, s := range starts {
		var e time.Time
		if ev.AllDay {
			days := int(dur.Hours()/24 + 0.5)
			if days < 1 {
				days = 1
			}
			s = time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, s.Location())
			e = s.AddDate(0, 0, days)
		} else {
			e = s.Add(dur)
		}

		occ := occurrence{ev: ev, start: s, end: e}
		if o, ok := findOverride(overrides, s); ok {
			occ = occurrence{ev: o, start: o.Start, end: o.End}
		}
		out = append(out, occ)
	}
	return out, hitCap
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// toModel renders one occurrence into market-local date and time strings.
// All-day occurrences get dates but no times: they cannot be placed at a
// precise hour, so the relevance filter leaves them out.
func toModel(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Event {
	category := ev.Category
	if category == "" {
		category = ev.Feed.Category
	}

	out := model.Event{
		Title:     ev.Summary,
		Category:  category,
		Venue:     ev.Location,
		Latitude:  ev.Latitude,
		Longitude: ev.Longitude,
		Impact:    ev.Impact,
		Source:    ev.Feed.ID,
	}

	if ev.AllDay {
		// All-day dates are calendar dates already; no zone conversion.
		out.EventStartDate = start.Format(dateLayout)
		last := end.AddDate(0, 0, -1)
		if last.After(start) {
			out.EventEndDate = last.Format(dateLayout)
		}
		out.ID = model.StableID(ev.Feed.ID, ev.UID, out.EventStartDate)
		return out
	}

	s := start.In(loc)
	e := end.In(loc)
	out.EventStartDate = s.Format(dateLayout)
	out.EventStartTime = s.Format(clockLayout)

	if e.After(s) {
		out.EventEndTime = e.Format(clockLayout)
		lastDay := e
		if e.Hour() == 0 && e.Minute() == 0 && e.Second() == 0 {
			// Ending exactly at midnight does not occupy the next day.
			lastDay = e.Add(-time.Nanosecond)
		}
		if d := lastDay.Format(dateLayout); d != out.EventStartDate {
			out.EventEndDate = d
		}
	}

	out.ID = model.StableID(ev.Feed.ID, ev.UID, start.UTC().Format(time.RFC3339))
	return out
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aEnd.Before(bStart) && !bEnd.Before(aStart)
}
