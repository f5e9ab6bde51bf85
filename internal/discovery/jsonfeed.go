package discovery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	appLog "copilot/internal/log"
	"copilot/internal/model"
)

// DecodeJSON reads an event-discovery response. Both a bare array and an
// object with an "events" array are accepted. A record that fails to decode
// is logged and skipped; the rest of the feed is still returned. Records are
// passed through unfiltered; missing IDs are derived, categories default to
// the feed's.
func DecodeJSON(feed Feed, body []byte) ([]model.Event, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("discovery: empty JSON body")
	}

	var raw []json.RawMessage
	if body[0] == '[' {
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("discovery: decode %s: %w", feed.ID, err)
		}
	} else {
		var wrapped struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fmt.Errorf("discovery: decode %s: %w", feed.ID, err)
		}
		raw = wrapped.Events
	}

	events := make([]model.Event, 0, len(raw))
	for i, rec := range raw {
		var ev model.Event
		if err := json.Unmarshal(rec, &ev); err != nil {
			appLog.Error("json event decode failed", err, "id", feed.ID, "index", i)
			continue
		}
		if ev.Source == "" {
			ev.Source = feed.ID
		}
		if ev.Category == "" {
			ev.Category = feed.Category
		}
		ev.Impact = model.NormalizeImpact(string(ev.Impact))
		ev.EnsureID()
		events = append(events, ev)
	}

	appLog.Debug("json decode completed", "id", feed.ID, "event_count", len(events), "skipped", len(raw)-len(events))
	return events, nil
}
