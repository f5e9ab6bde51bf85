package surface

import (
	"math"

	"copilot/internal/model"
)

// Marker is one pin on the map.
type Marker struct {
	EventID   string       `json:"event_id"`
	Title     string       `json:"title"`
	Venue     string       `json:"venue,omitempty"`
	Address   string       `json:"address,omitempty"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Impact    model.Impact `json:"impact,omitempty"`
	StartTime string       `json:"start_time"`
	EndTime   string       `json:"end_time,omitempty"`
}

// MapLayer is the map surface. Events that cannot be placed are kept in
// Unplaced so the map and the list still account for the same events.
type MapLayer struct {
	Markers  []Marker      `json:"markers"`
	Unplaced []model.Event `json:"unplaced"`

	consumed []model.Event
}

func NewMapLayer(events []model.Event) MapLayer {
	m := MapLayer{
		Markers:  []Marker{},
		Unplaced: []model.Event{},
		consumed: append([]model.Event(nil), events...),
	}
	for _, ev := range events {
		if !placeable(ev) {
			m.Unplaced = append(m.Unplaced, ev)
			continue
		}
		m.Markers = append(m.Markers, Marker{
			EventID:   ev.ID,
			Title:     ev.DisplayTitle(),
			Venue:     ev.Venue,
			Address:   ev.Address,
			Latitude:  *ev.Latitude,
			Longitude: *ev.Longitude,
			Impact:    model.NormalizeImpact(string(ev.Impact)),
			StartTime: ev.EventStartTime,
			EndTime:   ev.EventEndTime,
		})
	}
	return m
}

// Events returns the set this layer was built from, in input order.
func (m MapLayer) Events() []model.Event {
	return append([]model.Event(nil), m.consumed...)
}

func placeable(ev model.Event) bool {
	if !ev.HasCoordinates() {
		return false
	}
	lat, lng := *ev.Latitude, *ev.Longitude
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
