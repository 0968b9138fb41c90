package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/campuscore/course-api/internal/models"
)

// Sentinel errors surfaced by the seat ledger. Services translate them into
// typed results or API errors; they never reach the HTTP layer raw.
var (
	ErrAlreadyEnrolled      = errors.New("student already enrolled in offering")
	ErrOfferingFull         = errors.New("offering has no free seats")
	ErrEnrollmentNotActive  = errors.New("enrollment is not active")
	ErrDuplicateWaitlist    = errors.New("student already waitlisted for offering")
	ErrDuplicateAttendance  = errors.New("attendance already recorded for session")
	ErrAttendanceCodeAbsent = errors.New("no live attendance code for schedule")
)

const enrollmentColumns = `id, student_id, offering_id, status, grade, enrolled_at, dropped_at, created_at, updated_at`

// EnrollmentRepository owns seat accounting for offerings. Every mutation that
// depends on the current enrolled count runs inside one transaction holding a
// per-offering advisory lock, so concurrent enrolls for the same offering are
// serialized while distinct offerings proceed in parallel.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// FindByStudentAndOffering returns the single row for the pair, any status.
func (r *EnrollmentRepository) FindByStudentAndOffering(ctx context.Context, studentID, offeringID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND offering_id = $2`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, offeringID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// CountEnrolled reports the number of ENROLLED rows for the offering. The
// count is always derived from the rows themselves, never cached.
func (r *EnrollmentRepository) CountEnrolled(ctx context.Context, offeringID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM enrollments WHERE offering_id = $1 AND status = $2`,
		offeringID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}

// TryEnroll reserves a seat and creates (or reactivates) the enrollment as one
// atomic unit. It fails with ErrAlreadyEnrolled when an ENROLLED row exists
// and ErrOfferingFull when no seat is free.
func (r *EnrollmentRepository) TryEnroll(ctx context.Context, studentID, offeringID string, capacity int) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enroll: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if err := lockOffering(ctx, tx, offeringID); err != nil {
		return nil, err
	}

	existing, err := findForUpdateTx(ctx, tx, studentID, offeringID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if existing != nil && existing.Status == models.EnrollmentStatusEnrolled {
		return nil, ErrAlreadyEnrolled
	}

	enrolled, err := countEnrolledTx(ctx, tx, offeringID)
	if err != nil {
		return nil, err
	}
	if enrolled >= capacity {
		return nil, ErrOfferingFull
	}

	stored, err := activateEnrollmentTx(ctx, tx, studentID, offeringID, existing)
	if err != nil {
		return nil, err
	}

	// A student who takes a seat directly leaves the queue; keeping the
	// PENDING entry would let the next promotion spend a seat on them twice.
	if err := discardPendingWaitlistTx(ctx, tx, studentID, offeringID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enroll: %w", err)
	}
	commit = true
	return stored, nil
}

// Drop marks the enrollment DROPPED and reports whether a seat was freed.
// Dropping a row that already left ENROLLED is a no-op, not an error.
func (r *EnrollmentRepository) Drop(ctx context.Context, studentID, offeringID string) (*models.Enrollment, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin drop: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if err := lockOffering(ctx, tx, offeringID); err != nil {
		return nil, false, err
	}

	existing, err := findForUpdateTx(ctx, tx, studentID, offeringID)
	if err != nil {
		return nil, false, err
	}
	if existing.Status != models.EnrollmentStatusEnrolled {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit drop: %w", err)
		}
		commit = true
		return existing, false, nil
	}

	now := time.Now().UTC()
	query := fmt.Sprintf(`UPDATE enrollments SET status = $2, dropped_at = $3, updated_at = $3 WHERE id = $1 RETURNING %s`, enrollmentColumns)
	var updated models.Enrollment
	if err := tx.GetContext(ctx, &updated, query, existing.ID, models.EnrollmentStatusDropped, now); err != nil {
		return nil, false, fmt.Errorf("drop enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit drop: %w", err)
	}
	commit = true
	return &updated, true, nil
}

// FinalizeGrade closes an ENROLLED row as COMPLETED or FAILED with the letter
// grade, freeing the seat either way.
func (r *EnrollmentRepository) FinalizeGrade(ctx context.Context, studentID, offeringID string, status models.EnrollmentStatus, grade string) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin finalize: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if err := lockOffering(ctx, tx, offeringID); err != nil {
		return nil, err
	}

	existing, err := findForUpdateTx(ctx, tx, studentID, offeringID)
	if err != nil {
		return nil, err
	}
	if existing.Status != models.EnrollmentStatusEnrolled {
		return nil, ErrEnrollmentNotActive
	}

	query := fmt.Sprintf(`UPDATE enrollments SET status = $2, grade = $3, updated_at = $4 WHERE id = $1 RETURNING %s`, enrollmentColumns)
	var updated models.Enrollment
	if err := tx.GetContext(ctx, &updated, query, existing.ID, status, grade, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("finalize enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit finalize: %w", err)
	}
	commit = true
	return &updated, nil
}

func findForUpdateTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) (*models.Enrollment, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrollments WHERE student_id = $1 AND offering_id = $2 FOR UPDATE`, enrollmentColumns)
	var enrollment models.Enrollment
	if err := tx.GetContext(ctx, &enrollment, query, studentID, offeringID); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func countEnrolledTx(ctx context.Context, tx *sqlx.Tx, offeringID string) (int, error) {
	var count int
	if err := tx.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM enrollments WHERE offering_id = $1 AND status = $2`,
		offeringID, models.EnrollmentStatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}

// activateEnrollmentTx inserts a fresh ENROLLED row or reactivates the pair's
// existing one. The caller holds the offering lock and has verified capacity.
func activateEnrollmentTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string, existing *models.Enrollment) (*models.Enrollment, error) {
	now := time.Now().UTC()
	var stored models.Enrollment
	if existing != nil {
		query := fmt.Sprintf(`UPDATE enrollments
            SET status = $2, grade = NULL, enrolled_at = $3, dropped_at = NULL, updated_at = $3
            WHERE id = $1 RETURNING %s`, enrollmentColumns)
		if err := tx.GetContext(ctx, &stored, query, existing.ID, models.EnrollmentStatusEnrolled, now); err != nil {
			return nil, fmt.Errorf("reactivate enrollment: %w", err)
		}
		return &stored, nil
	}

	query := fmt.Sprintf(`INSERT INTO enrollments (id, student_id, offering_id, status, enrolled_at, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $5, $5) RETURNING %s`, enrollmentColumns)
	if err := tx.GetContext(ctx, &stored, query, uuid.NewString(), studentID, offeringID, models.EnrollmentStatusEnrolled, now); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}
	return &stored, nil
}
