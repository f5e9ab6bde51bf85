package relevance

import (
	"errors"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appLog "copilot/internal/log"
	"copilot/internal/model"
)

const chicago = "America/Chicago"

type recordingReporter struct {
	mu      sync.Mutex
	missing []int
	invalid []string
}

func (r *recordingReporter) MissingTimezone(events int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing = append(r.missing, events)
}

func (r *recordingReporter) InvalidTimezone(name string, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalid = append(r.invalid, name)
}

func fixedClock(t *testing.T, rfc3339 string) func() time.Time {
	t.Helper()
	now, err := time.Parse(time.RFC3339, rfc3339)
	require.NoError(t, err)
	return func() time.Time { return now }
}

func newTestFilter(t *testing.T, now string, opts ...Option) (*Filter, *recordingReporter) {
	t.Helper()
	appLog.SetLogger(zap.NewNop())
	rep := &recordingReporter{}
	all := append([]Option{WithClock(fixedClock(t, now)), WithReporter(rep)}, opts...)
	return New(all...), rep
}

func timed(id, start, end string) model.Event {
	return model.Event{
		ID:             id,
		Title:          id,
		EventStartDate: start,
		EventEndDate:   end,
		EventStartTime: "19:00",
		EventEndTime:   "22:00",
	}
}

func ids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID)
	}
	return out
}

// 2026-01-10T23:00Z is 17:00 in Chicago.
const scenarioNow = "2026-01-10T23:00:00Z"

func TestConcreteScenario(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow, WithEndTimePolicy(EndTimeOptional))

	events := []model.Event{
		{ID: "a", EventStartDate: "2026-01-10", EventStartTime: "19:00"},
		{ID: "b", EventStartDate: "2026-01-09", EventEndDate: "2026-01-09", EventStartTime: "20:00"},
		{ID: "c", EventStartDate: "2026-01-08", EventEndDate: "2026-01-12", EventStartTime: "10:00"},
		{ID: "d", EventStartDate: "2026-01-10"},
	}

	got := f.FilterEventsForToday(events, chicago)
	assert.Equal(t, []string{"a", "c"}, ids(got))
}

func TestConcreteScenarioStrictPolicyNeedsEndTime(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)

	withoutEnd := model.Event{ID: "a", EventStartDate: "2026-01-10", EventStartTime: "19:00"}
	assert.False(t, f.IsRelevantToday(withoutEnd, chicago))

	withoutEnd.EventEndTime = "23:00"
	assert.True(t, f.IsRelevantToday(withoutEnd, chicago))
}

func TestTodayUsesLocationZoneNotUTC(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)

	today, err := f.Today(chicago)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-10", today)

	tokyo, err := f.Today("Asia/Tokyo")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-11", tokyo)
}

func TestMissingTimezoneExcludesEverything(t *testing.T) {
	f, rep := newTestFilter(t, scenarioNow)

	events := []model.Event{
		timed("a", "2026-01-10", ""),
		timed("b", "2026-01-01", "2026-12-31"),
	}
	for _, ev := range events {
		assert.False(t, f.IsRelevantToday(ev, ""))
	}
	got := f.FilterEventsForToday(events, "")
	assert.Empty(t, got)
	assert.NotNil(t, got)

	// Two single-event calls plus one diagnostic for the whole batch.
	assert.Equal(t, []int{1, 1, 2}, rep.missing)

	_, err := f.Today("")
	assert.True(t, errors.Is(err, ErrMissingTimezone))
}

func TestUnknownTimezoneExcludesEverything(t *testing.T) {
	f, rep := newTestFilter(t, scenarioNow)

	got := f.FilterEventsForToday([]model.Event{timed("a", "2026-01-10", "")}, "Mars/Olympus_Mons")
	assert.Empty(t, got)
	assert.Equal(t, []string{"Mars/Olympus_Mons"}, rep.invalid)
	assert.Empty(t, rep.missing)
}

func TestSingleDayInclusion(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)
	assert.True(t, f.IsRelevantToday(timed("a", "2026-01-10", ""), chicago))
}

func TestMultiDayRange(t *testing.T) {
	ev := timed("fest", "2026-01-09", "2026-01-11")

	cases := []struct {
		now  string
		want bool
	}{
		{"2026-01-09T18:00:00Z", true},  // first day
		{"2026-01-10T23:00:00Z", true},  // inside
		{"2026-01-12T05:59:00Z", true},  // 23:59 on the 11th in Chicago
		{"2026-01-12T06:00:00Z", false}, // midnight on the 12th
		{"2026-01-08T18:00:00Z", false}, // day before
	}
	for _, tc := range cases {
		f, _ := newTestFilter(t, tc.now)
		assert.Equal(t, tc.want, f.IsRelevantToday(ev, chicago), "now=%s", tc.now)
	}
}

func TestEndedYesterdayIsExcluded(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)
	assert.False(t, f.IsRelevantToday(timed("old", "2026-01-07", "2026-01-09"), chicago))
}

func TestMissingStartFieldsExcluded(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow, WithEndTimePolicy(EndTimeOptional))

	noTime := timed("x", "2026-01-08", "2026-01-12")
	noTime.EventStartTime = ""
	assert.False(t, f.IsRelevantToday(noTime, chicago))

	noDate := timed("y", "", "2026-01-12")
	assert.False(t, f.IsRelevantToday(noDate, chicago))
}

func TestMalformedValuesExcluded(t *testing.T) {
	f, rep := newTestFilter(t, scenarioNow)

	bad := []model.Event{
		timed("slashes", "2026/01/10", ""),
		timed("unpadded", "2026-1-10", ""),
		timed("impossible", "2026-02-30", ""),
		timed("end-garbage", "2026-01-10", "soon"),
		func() model.Event { e := timed("bad-start-time", "2026-01-10", ""); e.EventStartTime = "evening"; return e }(),
		func() model.Event { e := timed("bad-end-time", "2026-01-10", ""); e.EventEndTime = "25:00"; return e }(),
	}
	for _, ev := range bad {
		assert.False(t, f.IsRelevantToday(ev, chicago), ev.ID)
	}
	assert.Empty(t, rep.missing)
	assert.Empty(t, rep.invalid)
}

func TestClockShapes(t *testing.T) {
	for _, s := range []string{"19:00", "07:30:00", "7:30 PM", "7:30pm", "7 PM", "7pm", "2026-01-10T19:00:00-06:00"} {
		assert.True(t, validClock(s), s)
	}
	for _, s := range []string{"", "noon-ish", "19h", "24:30"} {
		assert.False(t, validClock(s), s)
	}
}

func TestOrderPreservedAndIdempotent(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)

	events := []model.Event{
		timed("z", "2026-01-10", ""),
		timed("gone", "2026-01-01", ""),
		timed("m", "2026-01-05", "2026-01-20"),
		timed("a", "2026-01-10", "2026-01-10"),
	}

	once := f.FilterEventsForToday(events, chicago)
	assert.Equal(t, []string{"z", "m", "a"}, ids(once))

	twice := f.FilterEventsForToday(once, chicago)
	assert.Equal(t, once, twice)
}

func TestInputNotMutated(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)

	events := []model.Event{timed("gone", "2026-01-01", ""), timed("keep", "2026-01-10", "")}
	before := append([]model.Event(nil), events...)

	out := f.FilterEventsForToday(events, chicago)
	require.Len(t, out, 1)
	out[0].Title = "changed"

	assert.Equal(t, before, events)
}

func TestConcurrentSurfacesAgree(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)

	events := []model.Event{
		timed("a", "2026-01-10", ""),
		timed("b", "2026-01-11", ""),
		timed("c", "2026-01-09", "2026-01-10"),
	}

	var wg sync.WaitGroup
	results := make([][]model.Event, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = f.FilterEventsForToday(events, chicago)
		}(i)
	}
	wg.Wait()

	for _, r := range results[1:] {
		assert.Equal(t, results[0], r)
	}
}

func TestDSTTransitionDay(t *testing.T) {
	// US DST starts 2026-03-08 at 02:00 local.
	f, _ := newTestFilter(t, "2026-03-08T05:30:00Z")
	today, err := f.Today(chicago)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-07", today)

	f, _ = newTestFilter(t, "2026-03-08T06:30:00Z")
	today, err = f.Today(chicago)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-08", today)

	// Same instant one week later is already CDT (UTC-5).
	f, _ = newTestFilter(t, "2026-03-15T05:30:00Z")
	today, err = f.Today(chicago)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-15", today)
}

func TestParseEndTimePolicy(t *testing.T) {
	p, err := ParseEndTimePolicy("")
	require.NoError(t, err)
	assert.Equal(t, EndTimeRequired, p)

	p, err = ParseEndTimePolicy("optional")
	require.NoError(t, err)
	assert.Equal(t, EndTimeOptional, p)
	assert.Equal(t, "optional", p.String())

	_, err = ParseEndTimePolicy("sometimes")
	assert.Error(t, err)
}

func TestCacheKey(t *testing.T) {
	events := []model.Event{timed("a", "2026-01-10", "")}

	k1 := CacheKey(events, chicago, "2026-01-10")
	assert.Equal(t, k1, CacheKey(append([]model.Event(nil), events...), chicago, "2026-01-10"))
	assert.NotEqual(t, k1, CacheKey(events, "America/New_York", "2026-01-10"))
	assert.NotEqual(t, k1, CacheKey(events, chicago, "2026-01-11"))

	changed := append([]model.Event(nil), events...)
	changed[0].EventEndDate = "2026-01-11"
	assert.NotEqual(t, k1, CacheKey(changed, chicago, "2026-01-10"))
}

func TestLocalNeverStandsInForLocationZone(t *testing.T) {
	saved := time.Local
	time.Local = time.FixedZone("Kiritimati", 14*60*60)
	t.Cleanup(func() { time.Local = saved })

	f, rep := newTestFilter(t, scenarioNow)

	_, err := f.Today("Local")
	assert.True(t, errors.Is(err, ErrInvalidTimezone))

	tomorrowInKiritimati := timed("x", "2026-01-11", "")
	assert.False(t, f.IsRelevantToday(tomorrowInKiritimati, "Local"))
	assert.Empty(t, f.FilterEventsForToday([]model.Event{tomorrowInKiritimati}, "Local"))

	assert.Equal(t, []string{"Local", "Local"}, rep.invalid)
	assert.Empty(t, rep.missing)
}

func TestTodayRejectsNamesThatResolveElsewhere(t *testing.T) {
	f, _ := newTestFilter(t, scenarioNow)

	for _, name := range []string{"Nowhere/Town", "Local"} {
		_, err := f.Today(name)
		assert.True(t, errors.Is(err, ErrInvalidTimezone), name)
	}

	utc, err := f.Today("UTC")
	require.NoError(t, err)
	assert.Equal(t, "2026-01-10", utc)
}

func TestFilterEventsOnUsesGivenDay(t *testing.T) {
	f, rep := newTestFilter(t, scenarioNow)

	events := []model.Event{
		timed("today", "2026-01-10", ""),
		timed("tomorrow", "2026-01-11", ""),
		timed("span", "2026-01-09", "2026-01-11"),
	}

	// The clock says the 10th; the resolved day wins.
	assert.Equal(t, []string{"tomorrow", "span"}, ids(f.FilterEventsOn(events, "2026-01-11")))
	assert.Equal(t, ids(f.FilterEventsForToday(events, chicago)), ids(f.FilterEventsOn(events, "2026-01-10")))

	got := f.FilterEventsOn(events, "soon")
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, rep.invalid)
}
