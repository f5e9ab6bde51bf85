// Package discovery turns configured event feeds (ICS calendars and JSON
// event endpoints) into model.Event records.
package discovery

import (
	"fmt"
	"time"
)

// Kind selects the decoder for a feed.
type Kind string

const (
	KindICS  Kind = "ics"
	KindJSON Kind = "json"
)

// Feed is one configured event source.
type Feed struct {
	ID   string
	Name string
	URL  string
	Kind Kind
	// Timezone is the IANA zone of the market the feed covers. ICS times
	// are rendered into event dates/times in this zone.
	Timezone string
	// Category is applied to events that carry none.
	Category string
}

// Location loads the feed's market timezone. Unlike the relevance filter,
// ingest cannot produce date strings at all without a zone, so a missing
// zone is a configuration error here.
func (f Feed) Location() (*time.Location, error) {
	if f.Timezone == "" {
		return nil, fmt.Errorf("discovery: feed %s has no timezone", f.ID)
	}
	if f.Timezone == "Local" {
		return nil, fmt.Errorf("discovery: feed %s timezone must be an IANA name, not Local", f.ID)
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return nil, fmt.Errorf("discovery: feed %s timezone: %w", f.ID, err)
	}
	return loc, nil
}
