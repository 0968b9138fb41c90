package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/campuscore/course-api/internal/models"
)

// ScheduleRepository reads class schedules owned by the timetable module.
type ScheduleRepository struct {
	db *sqlx.DB
}

// NewScheduleRepository constructs the repository.
func NewScheduleRepository(db *sqlx.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// FindByID returns a schedule by its ID.
func (r *ScheduleRepository) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	const query = `SELECT id, offering_id, lecturer_id, day_of_week, start_time, end_time, room, created_at, updated_at
        FROM schedules WHERE id = $1`
	var schedule models.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}
