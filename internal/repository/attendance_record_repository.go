package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuscore/course-api/internal/models"
)

const attendanceColumns = `id, enrollment_id, schedule_id, date, status, notes, recorded_by, recorded_at`

// AttendanceRecordRepository persists per-session attendance. The unique
// constraint on (enrollment_id, schedule_id, date) is the final arbiter for
// duplicate check-ins.
type AttendanceRecordRepository struct {
	db *sqlx.DB
}

// NewAttendanceRecordRepository constructs the repository.
func NewAttendanceRecordRepository(db *sqlx.DB) *AttendanceRecordRepository {
	return &AttendanceRecordRepository{db: db}
}

// Insert creates the record unless one exists for the same enrollment,
// schedule and date, in which case ErrDuplicateAttendance is returned. The
// conditional insert makes a concurrent duplicate a reportable outcome rather
// than a constraint violation.
func (r *AttendanceRecordRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO attendance_records (id, enrollment_id, schedule_id, date, status, notes, recorded_by, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (enrollment_id, schedule_id, date) DO NOTHING
        RETURNING %s`, attendanceColumns)
	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.EnrollmentID, record.ScheduleID, record.Date,
		record.Status, record.Notes, record.RecordedBy, record.RecordedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDuplicateAttendance
		}
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	return &stored, nil
}

// Upsert records attendance overwriting any existing decision for the
// session. Used by the lecturer-marked path, never by code entry.
func (r *AttendanceRecordRepository) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO attendance_records (id, enrollment_id, schedule_id, date, status, notes, recorded_by, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (enrollment_id, schedule_id, date)
        DO UPDATE SET status = EXCLUDED.status, notes = EXCLUDED.notes, recorded_by = EXCLUDED.recorded_by, recorded_at = EXCLUDED.recorded_at
        RETURNING %s`, attendanceColumns)
	var stored models.AttendanceRecord
	if err := r.db.GetContext(ctx, &stored, query,
		record.ID, record.EnrollmentID, record.ScheduleID, record.Date,
		record.Status, record.Notes, record.RecordedBy, record.RecordedAt); err != nil {
		return nil, fmt.Errorf("upsert attendance record: %w", err)
	}
	return &stored, nil
}

// Find returns the record for the session and date, if any.
func (r *AttendanceRecordRepository) Find(ctx context.Context, enrollmentID, scheduleID string, date time.Time) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
        WHERE enrollment_id = $1 AND schedule_id = $2 AND date = $3`, attendanceColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, enrollmentID, scheduleID, date); err != nil {
		return nil, err
	}
	return &record, nil
}

// SessionReport lists recorded attendance for a schedule session.
func (r *AttendanceRecordRepository) SessionReport(ctx context.Context, scheduleID string, date time.Time) ([]models.SessionReportRow, error) {
	const query = `SELECT ar.enrollment_id, e.student_id, ar.status, ar.notes, ar.recorded_by
        FROM attendance_records ar
        JOIN enrollments e ON e.id = ar.enrollment_id
        WHERE ar.schedule_id = $1 AND ar.date = $2
        ORDER BY e.student_id`
	var rows []models.SessionReportRow
	if err := r.db.SelectContext(ctx, &rows, query, scheduleID, date); err != nil {
		return nil, fmt.Errorf("session attendance report: %w", err)
	}
	return rows, nil
}
