package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ScheduleType represents how a stream's start instant repeats.
type ScheduleType string

const (
	// ScheduleOnce fires a single time at an absolute instant.
	ScheduleOnce ScheduleType = "once"
	// ScheduleDaily fires every day at a fixed local time.
	ScheduleDaily ScheduleType = "daily"
	// ScheduleWeekly fires on configured weekdays at a fixed local time.
	ScheduleWeekly ScheduleType = "weekly"
)

// StreamStatus represents the current lifecycle state of a stream.
type StreamStatus string

const (
	// StreamStatusOffline indicates the stream has no pending schedule.
	StreamStatusOffline StreamStatus = "offline"
	// StreamStatusScheduled indicates the stream is waiting for its next trigger.
	StreamStatusScheduled StreamStatus = "scheduled"
	// StreamStatusLive indicates an encoder process is running for the stream.
	StreamStatusLive StreamStatus = "live"
)

// BroadcastState mirrors the external provider's broadcast lifecycle.
type BroadcastState string

const (
	BroadcastStateNone     BroadcastState = ""
	BroadcastStateReady    BroadcastState = "ready"
	BroadcastStateLive     BroadcastState = "live"
	BroadcastStateComplete BroadcastState = "complete"
)

// Stream represents a configured relay of stored media to a live ingest
// endpoint. It is the single source of truth for status; every transition
// funnels through the stream repository's guarded update paths.
type Stream struct {
	BaseModel

	// Name is a user-friendly name for the stream.
	Name string `gorm:"not null;size:255" json:"name"`

	// UserID is the owning user.
	UserID ULID `gorm:"index;not null;type:varchar(26)" json:"user_id"`

	// IngestURL is the target RTMP(S) endpoint.
	IngestURL string `gorm:"not null;size:2048" json:"ingest_url"`

	// StreamKey is the ingest secret. Redacted from logs.
	StreamKey string `gorm:"not null;size:512" json:"-" masq:"secret"`

	// MediaFileID references the attached media. A stream without media
	// cannot start.
	MediaFileID *ULID `gorm:"type:varchar(26)" json:"media_file_id,omitempty"`

	// Encoder parameters passed to the external encoder invocation.
	VideoBitrate string `gorm:"size:20" json:"video_bitrate,omitempty"`
	AudioBitrate string `gorm:"size:20" json:"audio_bitrate,omitempty"`
	Resolution   string `gorm:"size:20" json:"resolution,omitempty"` // e.g. "1920x1080"
	Framerate    int    `gorm:"default:0" json:"framerate,omitempty"`
	LoopMedia    *bool  `gorm:"default:true" json:"loop_media"`

	// ScheduleType selects once, daily, or weekly triggering.
	ScheduleType ScheduleType `gorm:"not null;size:10" json:"schedule_type"`

	// ScheduleTime is the absolute start instant for one-shot streams.
	// Cleared when the one-shot run completes or is cancelled.
	ScheduleTime *Time `json:"schedule_time,omitempty"`

	// RecurringTime is the local wall-clock start ("HH:MM") for recurring streams.
	RecurringTime string `gorm:"size:5" json:"recurring_time,omitempty"`

	// DaysOfWeek is a comma-separated weekday list ("mon,wed,fri"),
	// weekly streams only.
	DaysOfWeek string `gorm:"size:30" json:"days_of_week,omitempty"`

	// RecurringEnabled gates recurring triggering without losing the pattern.
	RecurringEnabled *bool `gorm:"default:false" json:"recurring_enabled"`

	// DurationMinutes bounds the runtime of one live session.
	// Nil means the stream runs until stopped or the encoder exits.
	DurationMinutes *int `json:"duration_minutes,omitempty"`

	// Status is the current lifecycle state.
	Status StreamStatus `gorm:"not null;default:'offline';size:20;index" json:"status"`

	// StartedAt is when the current/last live session began.
	StartedAt *Time `json:"started_at,omitempty"`

	// LastTriggeredAt records the most recent scheduled instant that fired.
	// The trigger consults this fact so one instant never fires twice.
	LastTriggeredAt *Time `json:"last_triggered_at,omitempty"`

	// External broadcast mirror.
	BroadcastID    string         `gorm:"size:64" json:"broadcast_id,omitempty"`
	BroadcastState BroadcastState `gorm:"size:20" json:"broadcast_state,omitempty"`

	// TemplateID selects the broadcast template used when creating the
	// provider broadcast for a fired stream.
	TemplateID *ULID `gorm:"type:varchar(26)" json:"template_id,omitempty"`

	// Provider lifecycle flags.
	AutoStartBroadcast *bool `gorm:"default:false" json:"auto_start_broadcast"`
	AutoStopBroadcast  *bool `gorm:"default:false" json:"auto_stop_broadcast"`
	UnlistOnEnd        *bool `gorm:"default:false" json:"unlist_on_end"`

	// LastError holds the most recent start/stop failure for operators.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`
}

// TableName returns the table name for Stream.
func (Stream) TableName() string {
	return "streams"
}

// IsRecurring returns true for daily and weekly schedule types.
func (s *Stream) IsRecurring() bool {
	return s.ScheduleType == ScheduleDaily || s.ScheduleType == ScheduleWeekly
}

// RecurringActive returns true if the stream should keep re-triggering.
func (s *Stream) RecurringActive() bool {
	return s.IsRecurring() && BoolVal(s.RecurringEnabled)
}

// HasSchedule returns true if the stream has anything left to trigger.
func (s *Stream) HasSchedule() bool {
	if s.ScheduleType == ScheduleOnce {
		return s.ScheduleTime != nil
	}
	return s.RecurringActive()
}

// Duration returns the configured runtime bound, or false if unlimited.
func (s *Stream) Duration() (time.Duration, bool) {
	if s.DurationMinutes == nil || *s.DurationMinutes <= 0 {
		return 0, false
	}
	return time.Duration(*s.DurationMinutes) * time.Minute, true
}

// NextStatus computes the status a stream lands in when its live session
// ends, whatever the cause. Every stop/crash/expiry path uses this one
// function so no two writers can disagree on the terminal state.
func (s *Stream) NextStatus() StreamStatus {
	if s.RecurringActive() {
		return StreamStatusScheduled
	}
	return StreamStatusOffline
}

// ClearsScheduleOnStop reports whether the stop transition must also clear
// schedule_time. One-shot streams consume their instant when the run ends.
func (s *Stream) ClearsScheduleOnStop() bool {
	return s.ScheduleType == ScheduleOnce
}

// Weekdays parses DaysOfWeek into time.Weekday values.
// Daily streams return all seven days.
func (s *Stream) Weekdays() ([]time.Weekday, error) {
	if s.ScheduleType == ScheduleDaily {
		return []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		}, nil
	}

	var days []time.Weekday
	for _, tok := range strings.Split(s.DaysOfWeek, ",") {
		tok = strings.TrimSpace(strings.ToLower(tok))
		if tok == "" {
			continue
		}
		day, ok := weekdayNames[tok]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDayOfWeek, tok)
		}
		days = append(days, day)
	}
	if len(days) == 0 {
		return nil, ErrDaysOfWeekRequired
	}
	return days, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// RecurringClock parses RecurringTime into hour and minute.
func (s *Stream) RecurringClock() (hour, minute int, err error) {
	if s.RecurringTime == "" {
		return 0, 0, ErrRecurringTimeRequired
	}
	if _, err := time.Parse("15:04", s.RecurringTime); err != nil {
		return 0, 0, ErrInvalidRecurringTime
	}
	fmt.Sscanf(s.RecurringTime, "%d:%d", &hour, &minute)
	return hour, minute, nil
}

// Sanitize trims whitespace from user-provided fields.
func (s *Stream) Sanitize() {
	s.Name = strings.TrimSpace(s.Name)
	s.IngestURL = strings.TrimSpace(s.IngestURL)
	s.StreamKey = strings.TrimSpace(s.StreamKey)
	s.RecurringTime = strings.TrimSpace(s.RecurringTime)
	s.DaysOfWeek = strings.TrimSpace(strings.ToLower(s.DaysOfWeek))
}

// Validate performs basic validation on the stream.
func (s *Stream) Validate() error {
	s.Sanitize()

	if s.Name == "" {
		return ErrNameRequired
	}
	if s.UserID.IsZero() {
		return ErrUserRequired
	}
	if s.IngestURL == "" {
		return ErrIngestURLRequired
	}
	if u, err := url.Parse(s.IngestURL); err != nil || u.Scheme == "" {
		return ErrInvalidIngestURL
	}
	if s.StreamKey == "" {
		return ErrStreamKeyRequired
	}

	switch s.ScheduleType {
	case ScheduleOnce:
	case ScheduleDaily, ScheduleWeekly:
		if _, _, err := s.RecurringClock(); err != nil {
			return err
		}
		if s.ScheduleType == ScheduleWeekly {
			if _, err := s.Weekdays(); err != nil {
				return err
			}
		}
	default:
		return ErrInvalidScheduleType
	}

	if s.DurationMinutes != nil && *s.DurationMinutes <= 0 {
		return ErrInvalidDuration
	}

	switch s.Status {
	case StreamStatusOffline, StreamStatusScheduled, StreamStatusLive:
	default:
		return ErrInvalidStatus
	}

	return nil
}

// BeforeCreate is a GORM hook that validates the stream and generates its ULID.
func (s *Stream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if s.Status == "" {
		s.Status = StreamStatusOffline
	}
	return s.Validate()
}
