// Package scheduler decides when streams go live: it computes upcoming run
// instants from schedule patterns, fires due streams, and bounds session
// runtime.
package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/streamloop/streamloop/internal/models"
)

// cronSpec lowers a recurring schedule to a standard five-field cron spec
// with a CRON_TZ prefix so occurrences track the configured zone across
// DST changes.
func cronSpec(stream *models.Stream, loc *time.Location) (string, error) {
	hour, minute, err := stream.RecurringClock()
	if err != nil {
		return "", err
	}

	dayField := "*"
	if stream.ScheduleType == models.ScheduleWeekly {
		days, err := stream.Weekdays()
		if err != nil {
			return "", err
		}
		names := make([]string, len(days))
		for i, d := range days {
			names[i] = strings.ToLower(d.String()[:3])
		}
		dayField = strings.Join(names, ",")
	}

	return fmt.Sprintf("CRON_TZ=%s %d %d * * %s", loc.String(), minute, hour, dayField), nil
}

// NextRun computes the next instant at which the stream should go live,
// strictly after from. Returns a zero time when the stream has nothing
// left to trigger.
func NextRun(stream *models.Stream, from time.Time, loc *time.Location) (time.Time, error) {
	switch stream.ScheduleType {
	case models.ScheduleOnce:
		if stream.ScheduleTime == nil {
			return time.Time{}, nil
		}
		at := time.Time(*stream.ScheduleTime)
		if !at.After(from) {
			return time.Time{}, nil
		}
		return at, nil

	case models.ScheduleDaily, models.ScheduleWeekly:
		if !stream.RecurringActive() {
			return time.Time{}, nil
		}
		spec, err := cronSpec(stream, loc)
		if err != nil {
			return time.Time{}, err
		}
		sched, err := cron.ParseStandard(spec)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing schedule for stream %s: %w", stream.ID, err)
		}
		return sched.Next(from), nil

	default:
		return time.Time{}, models.ErrInvalidScheduleType
	}
}

// occurrenceToday returns the stream's scheduled instant for today in loc
// and whether today is an allowed day. Only meaningful for recurring
// streams.
func occurrenceToday(stream *models.Stream, now time.Time, loc *time.Location) (time.Time, bool, error) {
	hour, minute, err := stream.RecurringClock()
	if err != nil {
		return time.Time{}, false, err
	}
	days, err := stream.Weekdays()
	if err != nil {
		return time.Time{}, false, err
	}

	local := now.In(loc)
	allowed := false
	for _, d := range days {
		if local.Weekday() == d {
			allowed = true
			break
		}
	}
	if !allowed {
		return time.Time{}, false, nil
	}

	occ := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	return occ, true, nil
}

// ScheduleEntry is one upcoming run for display.
type ScheduleEntry struct {
	StreamID   models.ULID         `json:"stream_id"`
	StreamName string              `json:"stream_name"`
	RunAt      time.Time           `json:"run_at"`
	Type       models.ScheduleType `json:"type"`
}

// UpcomingSchedule computes the next run for each stream and returns the
// entries falling within the horizon, soonest first.
func UpcomingSchedule(streams []*models.Stream, now time.Time, loc *time.Location, horizon time.Duration) []ScheduleEntry {
	var entries []ScheduleEntry
	limit := now.Add(horizon)
	for _, stream := range streams {
		next, err := NextRun(stream, now, loc)
		if err != nil || next.IsZero() || next.After(limit) {
			continue
		}
		entries = append(entries, ScheduleEntry{
			StreamID:   stream.ID,
			StreamName: stream.Name,
			RunAt:      next,
			Type:       stream.ScheduleType,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RunAt.Before(entries[j].RunAt)
	})
	return entries
}

// TodaySchedule returns the entries whose next run falls on the current
// calendar day in loc, soonest first.
func TodaySchedule(streams []*models.Stream, now time.Time, loc *time.Location) []ScheduleEntry {
	local := now.In(loc)
	var entries []ScheduleEntry
	for _, stream := range streams {
		next, err := NextRun(stream, now, loc)
		if err != nil || next.IsZero() {
			continue
		}
		run := next.In(loc)
		if run.Year() != local.Year() || run.YearDay() != local.YearDay() {
			continue
		}
		entries = append(entries, ScheduleEntry{
			StreamID:   stream.ID,
			StreamName: stream.Name,
			RunAt:      next,
			Type:       stream.ScheduleType,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RunAt.Before(entries[j].RunAt)
	})
	return entries
}

// GroupByType buckets entries by schedule type, preserving their order.
func GroupByType(entries []ScheduleEntry) map[models.ScheduleType][]ScheduleEntry {
	grouped := make(map[models.ScheduleType][]ScheduleEntry, len(entries))
	for _, entry := range entries {
		grouped[entry.Type] = append(grouped[entry.Type], entry)
	}
	return grouped
}
