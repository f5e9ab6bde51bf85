// Package surface shapes today's events for the two dashboard consumers:
// the briefing list and the map marker layer. Neither surface filters; both
// take the output of one relevance pass so they always show the same set.
package surface

import (
	"copilot/internal/model"
	"copilot/internal/relevance"
)

// CategoryGroup is one heading in the briefing list.
type CategoryGroup struct {
	Category string        `json:"category"`
	Events   []model.Event `json:"events"`
}

// ImpactCounts tallies events by expected demand impact.
type ImpactCounts struct {
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Low     int `json:"low"`
	Unrated int `json:"unrated"`
}

// Briefing is the list surface.
type Briefing struct {
	Groups []CategoryGroup `json:"groups"`
	Impact ImpactCounts    `json:"impact"`
	Total  int             `json:"total"`
}

// NewBriefing groups events by category. Groups appear in the order their
// first event appears; events keep their relative order inside a group.
func NewBriefing(events []model.Event) Briefing {
	b := Briefing{Groups: []CategoryGroup{}, Total: len(events)}
	index := make(map[string]int)

	for _, ev := range events {
		cat := ev.DisplayCategory()
		i, ok := index[cat]
		if !ok {
			i = len(b.Groups)
			index[cat] = i
			b.Groups = append(b.Groups, CategoryGroup{Category: cat})
		}
		b.Groups[i].Events = append(b.Groups[i].Events, ev)

		switch model.NormalizeImpact(string(ev.Impact)) {
		case model.ImpactHigh:
			b.Impact.High++
		case model.ImpactMedium:
			b.Impact.Medium++
		case model.ImpactLow:
			b.Impact.Low++
		default:
			b.Impact.Unrated++
		}
	}
	return b
}

// Events flattens the briefing back into the consumed set, group by group.
func (b Briefing) Events() []model.Event {
	out := make([]model.Event, 0, b.Total)
	for _, g := range b.Groups {
		out = append(out, g.Events...)
	}
	return out
}

// Today runs one relevance pass and feeds the result to both surfaces.
func Today(f *relevance.Filter, events []model.Event, timezone string) (Briefing, MapLayer) {
	today := f.FilterEventsForToday(events, timezone)
	return NewBriefing(today), NewMapLayer(today)
}

// On builds both surfaces for a day already resolved with Filter.Today.
func On(f *relevance.Filter, events []model.Event, today string) (Briefing, MapLayer) {
	day := f.FilterEventsOn(events, today)
	return NewBriefing(day), NewMapLayer(day)
}
