package models

import "errors"

// Validation errors returned by model Validate methods.
var (
	ErrNameRequired          = errors.New("name is required")
	ErrUserRequired          = errors.New("user is required")
	ErrIngestURLRequired     = errors.New("ingest URL is required")
	ErrInvalidIngestURL      = errors.New("ingest URL is not a valid URL")
	ErrStreamKeyRequired     = errors.New("stream key is required")
	ErrInvalidScheduleType   = errors.New("invalid schedule type")
	ErrScheduleTimeRequired  = errors.New("schedule time is required for one-shot streams")
	ErrRecurringTimeRequired = errors.New("recurring time is required for recurring streams")
	ErrInvalidRecurringTime  = errors.New("recurring time must be in HH:MM format")
	ErrDaysOfWeekRequired    = errors.New("weekly streams require at least one weekday")
	ErrInvalidDayOfWeek      = errors.New("invalid day of week")
	ErrInvalidDuration       = errors.New("duration must be positive")
	ErrInvalidStatus         = errors.New("invalid stream status")
	ErrMediaPathRequired     = errors.New("media path is required")
	ErrInvalidMediaKind      = errors.New("invalid media kind")
	ErrInvalidPrivacy        = errors.New("invalid privacy status")
	ErrTokenRequired         = errors.New("refresh token is required")
	ErrFolderRequired        = errors.New("folder is required")
)
