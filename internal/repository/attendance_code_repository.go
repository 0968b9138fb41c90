package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/campuscore/course-api/internal/models"
)

const attendanceCodeKeyPrefix = "attendance:code:"

// AttendanceCodeRepository stores the single live check-in code per schedule
// in Redis. A SET on the schedule key atomically replaces any previous code,
// and the key TTL enforces expiry even if no one ever reads the code again.
type AttendanceCodeRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewAttendanceCodeRepository constructs the repository.
func NewAttendanceCodeRepository(client *redis.Client, logger *zap.Logger) *AttendanceCodeRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceCodeRepository{client: client, logger: logger}
}

// Save stores the code under the schedule key, invalidating any previous one.
func (r *AttendanceCodeRepository) Save(ctx context.Context, code *models.AttendanceCode, ttl time.Duration) error {
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal attendance code: %w", err)
	}
	key := attendanceCodeKeyPrefix + code.ScheduleID
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Find returns the live code for the schedule or ErrAttendanceCodeAbsent.
func (r *AttendanceCodeRepository) Find(ctx context.Context, scheduleID string) (*models.AttendanceCode, error) {
	key := attendanceCodeKeyPrefix + scheduleID
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrAttendanceCodeAbsent
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	var code models.AttendanceCode
	if err := json.Unmarshal(raw, &code); err != nil {
		return nil, fmt.Errorf("unmarshal attendance code for %s: %w", scheduleID, err)
	}
	return &code, nil
}

// Delete invalidates the schedule's live code, if any.
func (r *AttendanceCodeRepository) Delete(ctx context.Context, scheduleID string) error {
	key := attendanceCodeKeyPrefix + scheduleID
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
