package retriever

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dbt-markwan/dbt-log-retriever/pkg/dbtcloud"
)

// TimeField selects which run timestamp a window constrains.
type TimeField string

const (
	TimeFieldCreated  TimeField = "created_at"
	TimeFieldFinished TimeField = "finished_at"
)

// TimeWindow bounds run timestamps. Both bounds are inclusive and
// either may be zero, leaving that side unbounded.
type TimeWindow struct {
	After  time.Time
	Before time.Time

	// Field is the run timestamp the window applies to. Empty means
	// TimeFieldCreated.
	Field TimeField
}

// IsZero reports whether the window has no bounds.
func (w TimeWindow) IsZero() bool {
	return w.After.IsZero() && w.Before.IsZero()
}

func (w TimeWindow) field() TimeField {
	if w.Field == TimeFieldFinished {
		return TimeFieldFinished
	}

	return TimeFieldCreated
}

// Contains reports whether t lies within the window.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.After.IsZero() && t.Before(w.After) {
		return false
	}

	if !w.Before.IsZero() && t.After(w.Before) {
		return false
	}

	return true
}

// timestampOf returns the run timestamp the window constrains and
// whether the run carries it.
func (w TimeWindow) timestampOf(run *dbtcloud.Run) (time.Time, bool) {
	var ts *dbtcloud.Timestamp

	switch w.field() {
	case TimeFieldFinished:
		ts = run.FinishedAt
	default:
		ts = run.CreatedAt
	}

	if ts == nil || ts.IsZero() {
		return time.Time{}, false
	}

	return ts.Time, true
}

// Matches reports whether the run satisfies the window. A run missing
// the constrained timestamp (e.g. still executing, with no finish
// time) is excluded by any bounded window.
func (w TimeWindow) Matches(run *dbtcloud.Run) bool {
	if w.IsZero() {
		return true
	}

	ts, ok := w.timestampOf(run)
	if !ok {
		return false
	}

	return w.Contains(ts)
}

// WindowSpec is the string form of a time window as it arrives from
// configuration and command line flags.
type WindowSpec struct {
	CreatedAfter   string
	CreatedBefore  string
	FinishedAfter  string
	FinishedBefore string

	// DaysBack is shorthand for CreatedAfter set to now minus N days.
	DaysBack int
}

// Window parses the raw bounds into a TimeWindow. Created and finished
// bounds constrain different run timestamps, so mixing them is rejected.
func (s WindowSpec) Window() (TimeWindow, error) {
	hasCreated := s.CreatedAfter != "" || s.CreatedBefore != "" || s.DaysBack > 0
	hasFinished := s.FinishedAfter != "" || s.FinishedBefore != ""

	if hasCreated && hasFinished {
		return TimeWindow{}, fmt.Errorf("created and finished bounds cannot be combined in one window")
	}

	if s.DaysBack < 0 {
		return TimeWindow{}, fmt.Errorf("days back must not be negative, got %d", s.DaysBack)
	}

	if s.DaysBack > 0 && s.CreatedAfter != "" {
		return TimeWindow{}, fmt.Errorf("days back and created after are both set, use one lower bound")
	}

	window := TimeWindow{Field: TimeFieldCreated}

	afterRaw, beforeRaw := s.CreatedAfter, s.CreatedBefore
	if hasFinished {
		window.Field = TimeFieldFinished
		afterRaw, beforeRaw = s.FinishedAfter, s.FinishedBefore
	}

	if s.DaysBack > 0 {
		window.After = time.Now().UTC().AddDate(0, 0, -s.DaysBack)
	}

	if afterRaw != "" {
		t, err := dbtcloud.ParseTime(afterRaw)
		if err != nil {
			return TimeWindow{}, fmt.Errorf("parsing window lower bound: %w", err)
		}

		window.After = t
	}

	if beforeRaw != "" {
		t, err := dbtcloud.ParseTime(beforeRaw)
		if err != nil {
			return TimeWindow{}, fmt.Errorf("parsing window upper bound: %w", err)
		}

		window.Before = endOfDayIfDateOnly(beforeRaw, t)
	}

	if !window.After.IsZero() && !window.Before.IsZero() && window.Before.Before(window.After) {
		return TimeWindow{}, fmt.Errorf("window upper bound %s precedes lower bound %s",
			window.Before.Format(time.RFC3339), window.After.Format(time.RFC3339))
	}

	return window, nil
}

// endOfDayIfDateOnly widens a date-only upper bound to the last instant
// of that day, so the named day is included rather than cut off at
// midnight.
func endOfDayIfDateOnly(raw string, t time.Time) time.Time {
	if _, err := time.Parse("2006-01-02", strings.TrimSpace(raw)); err != nil {
		return t
	}

	return t.Add(24*time.Hour - time.Nanosecond)
}

// RunLister is the client surface FetchRuns needs.
type RunLister interface {
	ListRuns(ctx context.Context, environmentID int64, limit int, orderBy string) ([]dbtcloud.Run, error)
}

// FetchRuns requests the most recent runs for an environment, capped
// at limit, and keeps those whose timestamp falls inside the window.
// The window is applied client side; the API rejects server-side date
// range parameters.
//
// The second return reports truncation: the cap was reached and
// matching runs may exist beyond the retrieved page. Callers must
// surface it rather than present the result as complete.
func FetchRuns(ctx context.Context, client RunLister, environmentID int64, limit int, window TimeWindow) ([]dbtcloud.Run, bool, error) {
	page, err := client.ListRuns(ctx, environmentID, limit, dbtcloud.OrderByCreatedDesc)
	if err != nil {
		return nil, false, err
	}

	matched := make([]dbtcloud.Run, 0, len(page))

	for i := range page {
		if window.Matches(&page[i]) {
			matched = append(matched, page[i])
		}
	}

	return matched, pageTruncated(page, limit, window), nil
}

// pageTruncated reports whether runs matching the window may exist
// beyond the retrieved page.
func pageTruncated(page []dbtcloud.Run, limit int, window TimeWindow) bool {
	if len(page) < limit {
		return false
	}

	if window.After.IsZero() {
		return true
	}

	// The page is ordered by creation time, newest first. That
	// ordering says nothing about finish times, so a full page under
	// a finished_at window is always treated as possibly truncated.
	if window.field() == TimeFieldFinished {
		return true
	}

	oldest := &page[len(page)-1]
	if oldest.CreatedAt == nil || oldest.CreatedAt.IsZero() {
		return true
	}

	// If the oldest retrieved run still satisfies the lower bound,
	// older matching runs may have been cut off by the cap.
	return !oldest.CreatedAt.Before(window.After)
}
