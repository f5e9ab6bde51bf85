package relevance

import (
	appLog "copilot/internal/log"
)

// Reporter receives diagnostics from the filter. Implementations must be
// cheap and must not panic; they run inline with rendering.
type Reporter interface {
	// MissingTimezone is called once per filter call made without a
	// timezone; events is the number of records that were excluded.
	MissingTimezone(events int)
	// InvalidTimezone is called when the timezone name cannot be loaded.
	InvalidTimezone(name string, err error)
}

type logReporter struct{}

func (logReporter) MissingTimezone(events int) {
	appLog.Error("relevance: no location timezone, excluding all events", ErrMissingTimezone,
		"excluded", events,
		"class", "data_integrity",
	)
}

func (logReporter) InvalidTimezone(name string, err error) {
	appLog.Error("relevance: unknown timezone, excluding all events", err, "timezone", name)
}
