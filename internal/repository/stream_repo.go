package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/streamloop/streamloop/internal/models"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) *streamRepo {
	return &streamRepo{db: db}
}

// Create creates a new stream.
func (r *streamRepo) Create(ctx context.Context, stream *models.Stream) error {
	if err := r.db.WithContext(ctx).Create(stream).Error; err != nil {
		return fmt.Errorf("creating stream: %w", err)
	}
	return nil
}

// GetByID retrieves a stream by ID.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.Stream, error) {
	var stream models.Stream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// GetByUser retrieves all streams owned by a user.
func (r *streamRepo) GetByUser(ctx context.Context, userID models.ULID) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("name ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting streams by user: %w", err)
	}
	return streams, nil
}

// GetAll retrieves all streams.
func (r *streamRepo) GetAll(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting all streams: %w", err)
	}
	return streams, nil
}

// Update updates an existing stream after validating it.
func (r *streamRepo) Update(ctx context.Context, stream *models.Stream) error {
	if err := stream.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// Delete hard-deletes a stream by ID.
func (r *streamRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Stream{}).Error; err != nil {
		return fmt.Errorf("deleting stream: %w", err)
	}
	return nil
}

// GetScheduled returns scheduled streams that still have something to fire:
// one-shot streams with a schedule time, or recurring-enabled streams.
func (r *streamRepo) GetScheduled(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	err := r.db.WithContext(ctx).
		Where("status = ?", models.StreamStatusScheduled).
		Where(
			r.db.Where("schedule_type = ? AND schedule_time IS NOT NULL", models.ScheduleOnce).
				Or("schedule_type IN ? AND recurring_enabled = ?",
					[]models.ScheduleType{models.ScheduleDaily, models.ScheduleWeekly}, true),
		).
		Find(&streams).Error
	if err != nil {
		return nil, fmt.Errorf("getting scheduled streams: %w", err)
	}
	return streams, nil
}

// GetLive returns streams currently marked live.
func (r *streamRepo) GetLive(ctx context.Context) ([]*models.Stream, error) {
	var streams []*models.Stream
	if err := r.db.WithContext(ctx).Where("status = ?", models.StreamStatusLive).Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting live streams: %w", err)
	}
	return streams, nil
}

// MarkTriggered claims a scheduled instant. The WHERE clause is the dedup
// guard: only a stream still in the scheduled state whose last trigger
// predates this instant can be claimed, so overlapping poll ticks and the
// overdue branch cannot fire the same instant twice.
func (r *streamRepo) MarkTriggered(ctx context.Context, id models.ULID, instant time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ? AND status = ?", id, models.StreamStatusScheduled).
		Where("last_triggered_at IS NULL OR last_triggered_at < ?", instant).
		Update("last_triggered_at", instant)
	if res.Error != nil {
		return false, fmt.Errorf("marking stream triggered: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ReleaseTrigger undoes a claim made by MarkTriggered, restoring the
// previous trigger instant. The WHERE clause mirrors the claim guard so a
// newer claim is never rolled back.
func (r *streamRepo) ReleaseTrigger(ctx context.Context, id models.ULID, instant time.Time, prev *time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ? AND last_triggered_at = ?", id, instant).
		Update("last_triggered_at", prev)
	if res.Error != nil {
		return fmt.Errorf("releasing trigger claim: %w", res.Error)
	}
	return nil
}

// MarkLive transitions a stream to live.
func (r *streamRepo) MarkLive(ctx context.Context, id models.ULID, startedAt time.Time) error {
	updates := map[string]any{
		"status":     models.StreamStatusLive,
		"started_at": startedAt,
		"last_error": "",
	}
	res := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ? AND status <> ?", id, models.StreamStatusLive).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("marking stream live: %w", res.Error)
	}
	return nil
}

// ApplyStopped transitions a stream out of live. The update is applied
// unconditionally so a stop always lands in a deterministic state even when
// no process was actually running.
func (r *streamRepo) ApplyStopped(ctx context.Context, id models.ULID, next models.StreamStatus, clearSchedule bool, lastError string) error {
	updates := map[string]any{
		"status":     next,
		"started_at": nil,
		"last_error": lastError,
	}
	if clearSchedule {
		updates["schedule_time"] = nil
	}
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("applying stop transition: %w", err)
	}
	return nil
}

// UpdateBroadcast records the provider broadcast reference and state.
func (r *streamRepo) UpdateBroadcast(ctx context.Context, id models.ULID, broadcastID string, state models.BroadcastState) error {
	updates := map[string]any{
		"broadcast_id":    broadcastID,
		"broadcast_state": state,
	}
	if err := r.db.WithContext(ctx).Model(&models.Stream{}).
		Where("id = ?", id).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("updating broadcast reference: %w", err)
	}
	return nil
}

// Ensure streamRepo implements StreamRepository at compile time.
var _ StreamRepository = (*streamRepo)(nil)
