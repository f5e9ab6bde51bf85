package model

import (
	"strings"

	"github.com/google/uuid"
)

// UntitledEvent is shown when an upstream record carries no title.
const UntitledEvent = "Untitled Event"

// DefaultCategory groups events the upstream did not categorise.
const DefaultCategory = "other"

// Impact is the expected effect of an event on ride demand.
type Impact string

const (
	ImpactHigh   Impact = "high"
	ImpactMedium Impact = "medium"
	ImpactLow    Impact = "low"
)

// NormalizeImpact maps a raw upstream value onto a known Impact. Unknown or
// empty values yield "".
func NormalizeImpact(s string) Impact {
	switch Impact(strings.ToLower(strings.TrimSpace(s))) {
	case ImpactHigh:
		return ImpactHigh
	case ImpactMedium:
		return ImpactMedium
	case ImpactLow:
		return ImpactLow
	default:
		return ""
	}
}

// Event is a single discovered event as served to the dashboard.
//
// Dates are calendar dates (YYYY-MM-DD) in the market the event belongs to.
// Times are kept as the free-form strings the upstream produced; the
// relevance filter only checks that they are present and parseable.
type Event struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`

	EventStartDate string `json:"eventStartDate,omitempty" yaml:"eventStartDate,omitempty"`
	EventEndDate   string `json:"eventEndDate,omitempty" yaml:"eventEndDate,omitempty"`
	EventStartTime string `json:"eventStartTime,omitempty" yaml:"eventStartTime,omitempty"`
	EventEndTime   string `json:"eventEndTime,omitempty" yaml:"eventEndTime,omitempty"`

	Venue     string   `json:"venue,omitempty" yaml:"venue,omitempty"`
	Address   string   `json:"address,omitempty" yaml:"address,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`

	Impact Impact `json:"impact,omitempty" yaml:"impact,omitempty"`

	// Source is the feed ID that produced this event.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
}

// DisplayTitle returns the title, or UntitledEvent when it is blank.
func (e Event) DisplayTitle() string {
	if t := strings.TrimSpace(e.Title); t != "" {
		return t
	}
	return UntitledEvent
}

// DisplayCategory returns the lower-cased category or DefaultCategory.
func (e Event) DisplayCategory() string {
	if c := strings.ToLower(strings.TrimSpace(e.Category)); c != "" {
		return c
	}
	return DefaultCategory
}

func (e Event) HasCoordinates() bool {
	return e.Latitude != nil && e.Longitude != nil
}

var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("copilot:event"))

// StableID derives a deterministic UUIDv5 from the given parts, so the same
// upstream record maps to the same ID on every refresh.
func StableID(parts ...string) string {
	return uuid.NewSHA1(eventNamespace, []byte(strings.Join(parts, "\x1f"))).String()
}

// EnsureID fills e.ID from its identifying fields when upstream left it empty.
func (e *Event) EnsureID() {
	if e.ID != "" {
		return
	}
	e.ID = StableID(e.Source, e.Title, e.EventStartDate, e.EventStartTime, e.Venue)
}
