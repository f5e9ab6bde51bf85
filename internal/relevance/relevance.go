// Package relevance decides which events are happening "today" at a
// location. "Today" is always the calendar date in the location's IANA
// timezone; the host clock's zone is never consulted.
//
// Every failure (missing fields, malformed values, unknown or missing
// timezone) excludes the event. Nothing in this package returns an error to
// the rendering layer or panics past its boundary.
package relevance

import (
	"errors"
	"fmt"
	"time"

	"copilot/internal/model"
)

// DateLayout is the zero-padded calendar date format used by event records.
// Because it is zero-padded, string order equals chronological order.
const DateLayout = "2006-01-02"

// ErrMissingTimezone marks a caller that asked for "today" without a resolved
// location timezone. It signals an upstream snapshot defect, not bad data.
var ErrMissingTimezone = errors.New("relevance: location timezone missing (upstream snapshot defect)")

// ErrInvalidTimezone marks a timezone name that does not resolve to the
// named IANA zone, including "Local", which would mean the host zone.
var ErrInvalidTimezone = errors.New("relevance: invalid location timezone")

// EndTimePolicy controls whether eventEndTime is a required field.
type EndTimePolicy int

const (
	// EndTimeRequired excludes events without an end time.
	EndTimeRequired EndTimePolicy = iota
	// EndTimeOptional only requires a start time.
	EndTimeOptional
)

// ParseEndTimePolicy maps "required"/"optional" onto a policy.
func ParseEndTimePolicy(s string) (EndTimePolicy, error) {
	switch s {
	case "", "required":
		return EndTimeRequired, nil
	case "optional":
		return EndTimeOptional, nil
	default:
		return EndTimeRequired, errors.New("relevance: unknown end time policy " + s)
	}
}

func (p EndTimePolicy) String() string {
	if p == EndTimeOptional {
		return "optional"
	}
	return "required"
}

// Filter evaluates event relevance. A Filter is immutable after New and safe
// for concurrent use by any number of surfaces.
type Filter struct {
	now       func() time.Time
	policy    EndTimePolicy
	reporters []Reporter
}

type Option func(*Filter)

// WithClock overrides the wall clock. Tests pin "now" with it.
func WithClock(now func() time.Time) Option {
	return func(f *Filter) {
		if now != nil {
			f.now = now
		}
	}
}

func WithEndTimePolicy(p EndTimePolicy) Option {
	return func(f *Filter) { f.policy = p }
}

// WithReporter adds a diagnostics sink in addition to the default logger.
func WithReporter(r Reporter) Option {
	return func(f *Filter) {
		if r != nil {
			f.reporters = append(f.reporters, r)
		}
	}
}

func New(opts ...Option) *Filter {
	f := &Filter{
		now:       time.Now,
		policy:    EndTimeRequired,
		reporters: []Reporter{logReporter{}},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Policy reports the end-time policy this filter enforces.
func (f *Filter) Policy() EndTimePolicy { return f.policy }

// Today returns the current calendar date (YYYY-MM-DD) in timezone.
func (f *Filter) Today(timezone string) (string, error) {
	if timezone == "" {
		return "", ErrMissingTimezone
	}
	loc, err := loadLocation(timezone)
	if err != nil {
		return "", err
	}
	return f.now().In(loc).Format(DateLayout), nil
}

// loadLocation resolves an IANA name. "Local" and any name that LoadLocation
// maps onto a different zone are rejected: the host zone never stands in for
// the location's.
func loadLocation(name string) (*time.Location, error) {
	if name == "Local" {
		return nil, fmt.Errorf("%w: %q names the host zone", ErrInvalidTimezone, name)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimezone, err)
	}
	if loc.String() != name {
		return nil, fmt.Errorf("%w: %q resolved to %q", ErrInvalidTimezone, name, loc.String())
	}
	return loc, nil
}

// IsRelevantToday reports whether ev is active today in timezone.
func (f *Filter) IsRelevantToday(ev model.Event, timezone string) bool {
	today, ok := f.resolveToday(timezone, 1)
	if !ok {
		return false
	}
	return f.activeOn(ev, today)
}

// FilterEventsForToday returns the events active today in timezone, in their
// original order. The input slice is never modified and the result never
// aliases it. "Today" is resolved once per call.
func (f *Filter) FilterEventsForToday(events []model.Event, timezone string) []model.Event {
	out := make([]model.Event, 0, len(events))
	today, ok := f.resolveToday(timezone, len(events))
	if !ok {
		return out
	}
	return f.FilterEventsOn(events, today)
}

// FilterEventsOn is FilterEventsForToday for a day the caller already
// resolved with Today, so a caller that also keys a cache on that day sees
// the same date the events were filtered for. An invalid day yields nothing.
func (f *Filter) FilterEventsOn(events []model.Event, today string) []model.Event {
	out := make([]model.Event, 0, len(events))
	if !validDate(today) {
		return out
	}
	for _, ev := range events {
		if f.activeOn(ev, today) {
			out = append(out, ev)
		}
	}
	return out
}

func (f *Filter) resolveToday(timezone string, events int) (string, bool) {
	today, err := f.Today(timezone)
	switch {
	case errors.Is(err, ErrMissingTimezone):
		for _, r := range f.reporters {
			r.MissingTimezone(events)
		}
		return "", false
	case err != nil:
		for _, r := range f.reporters {
			r.InvalidTimezone(timezone, err)
		}
		return "", false
	}
	return today, true
}

// activeOn applies the field and date-range rules for a resolved local day.
func (f *Filter) activeOn(ev model.Event, today string) (active bool) {
	defer func() {
		if recover() != nil {
			active = false
		}
	}()

	if ev.EventStartDate == "" || ev.EventStartTime == "" {
		return false
	}
	if f.policy == EndTimeRequired && ev.EventEndTime == "" {
		return false
	}

	start := ev.EventStartDate
	end := ev.EventEndDate
	if end == "" {
		end = start
	}
	if !validDate(start) || !validDate(end) {
		return false
	}
	if !validClock(ev.EventStartTime) {
		return false
	}
	if ev.EventEndTime != "" && !validClock(ev.EventEndTime) {
		return false
	}

	return start <= today && today <= end
}

func validDate(s string) bool {
	if len(s) != len(DateLayout) {
		return false
	}
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// Package-level helpers use a shared default filter.
var defaultFilter = New()

func IsRelevantToday(ev model.Event, timezone string) bool {
	return defaultFilter.IsRelevantToday(ev, timezone)
}

func FilterEventsForToday(events []model.Event, timezone string) []model.Event {
	return defaultFilter.FilterEventsForToday(events, timezone)
}
