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

const waitlistColumns = `id, student_id, offering_id, position, status, added_at`

// WaitlistRepository maintains the per-offering FIFO queue. Position
// assignment, promotion and compaction all run under the same advisory lock
// as seat reservation so positions stay dense and unique.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// Add appends the student at the tail of the offering's queue and returns the
// assigned 1-based position. A student with a PENDING entry cannot join twice.
func (r *WaitlistRepository) Add(ctx context.Context, studentID, offeringID string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin waitlist add: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if err := lockOffering(ctx, tx, offeringID); err != nil {
		return 0, err
	}

	var exists int
	err = tx.GetContext(ctx, &exists,
		`SELECT 1 FROM waitlist_entries WHERE student_id = $1 AND offering_id = $2 AND status = $3 LIMIT 1`,
		studentID, offeringID, models.WaitlistStatusPending)
	if err == nil {
		return 0, ErrDuplicateWaitlist
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("check waitlist entry: %w", err)
	}

	var maxPosition int
	if err := tx.GetContext(ctx, &maxPosition,
		`SELECT COALESCE(MAX(position), 0) FROM waitlist_entries WHERE offering_id = $1 AND status = $2`,
		offeringID, models.WaitlistStatusPending); err != nil {
		return 0, fmt.Errorf("max waitlist position: %w", err)
	}

	position := maxPosition + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO waitlist_entries (id, student_id, offering_id, position, status, added_at)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), studentID, offeringID, position, models.WaitlistStatusPending, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("insert waitlist entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit waitlist add: %w", err)
	}
	commit = true
	return position, nil
}

// PromoteNext moves the longest-waiting PENDING student into a seat: the
// entry is marked NOTIFIED, remaining positions compact downward and the
// student's enrollment is created or reactivated. When the seat was taken by
// a concurrent enroll the entry stays PENDING and no promotion is reported.
// A head entry whose student already holds an ENROLLED row is expired and
// skipped so a stale entry can never spend a freed seat twice.
func (r *WaitlistRepository) PromoteNext(ctx context.Context, offeringID string, capacity int) (*models.WaitlistPromotion, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin promote: %w", err)
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

	enrolled, err := countEnrolledTx(ctx, tx, offeringID)
	if err != nil {
		return nil, err
	}
	if enrolled >= capacity {
		// Seat race lost; leave the queue untouched for the next release.
		return nil, nil
	}

	headQuery := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE offering_id = $1 AND status = $2 ORDER BY position ASC LIMIT 1 FOR UPDATE`, waitlistColumns)
	for {
		var entry models.WaitlistEntry
		if err := tx.GetContext(ctx, &entry, headQuery, offeringID, models.WaitlistStatusPending); err != nil {
			if err == sql.ErrNoRows {
				// Commit so any expired stale entries stay expired.
				if err := tx.Commit(); err != nil {
					return nil, fmt.Errorf("commit promote: %w", err)
				}
				commit = true
				return nil, nil
			}
			return nil, fmt.Errorf("next waitlist entry: %w", err)
		}

		existing, err := findForUpdateTx(ctx, tx, entry.StudentID, offeringID)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("load promoted enrollment: %w", err)
		}
		if existing != nil && existing.Status == models.EnrollmentStatusEnrolled {
			if _, err := tx.ExecContext(ctx,
				`UPDATE waitlist_entries SET status = $2 WHERE id = $1`,
				entry.ID, models.WaitlistStatusExpired); err != nil {
				return nil, fmt.Errorf("expire waitlist entry: %w", err)
			}
			if err := compactPositionsTx(ctx, tx, offeringID, entry.Position); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE waitlist_entries SET status = $2 WHERE id = $1`,
			entry.ID, models.WaitlistStatusNotified); err != nil {
			return nil, fmt.Errorf("notify waitlist entry: %w", err)
		}
		if err := compactPositionsTx(ctx, tx, offeringID, entry.Position); err != nil {
			return nil, err
		}

		stored, err := activateEnrollmentTx(ctx, tx, entry.StudentID, offeringID, existing)
		if err != nil {
			return nil, err
		}

		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit promote: %w", err)
		}
		commit = true
		return &models.WaitlistPromotion{StudentID: entry.StudentID, EnrollmentID: stored.ID, Position: entry.Position}, nil
	}
}

// Remove deletes the student's PENDING entry and closes the position gap in
// the same transaction.
func (r *WaitlistRepository) Remove(ctx context.Context, studentID, offeringID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin waitlist remove: %w", err)
	}
	commit := false
	defer func() {
		if !commit {
			tx.Rollback()
		}
	}()

	if err := lockOffering(ctx, tx, offeringID); err != nil {
		return err
	}

	var entry models.WaitlistEntry
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE student_id = $1 AND offering_id = $2 AND status = $3 FOR UPDATE`, waitlistColumns)
	if err := tx.GetContext(ctx, &entry, query, studentID, offeringID, models.WaitlistStatusPending); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, entry.ID); err != nil {
		return fmt.Errorf("delete waitlist entry: %w", err)
	}
	if err := compactPositionsTx(ctx, tx, offeringID, entry.Position); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit waitlist remove: %w", err)
	}
	commit = true
	return nil
}

// ListByOffering returns the PENDING queue in position order.
func (r *WaitlistRepository) ListByOffering(ctx context.Context, offeringID string) ([]models.WaitlistEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE offering_id = $1 AND status = $2 ORDER BY position ASC`, waitlistColumns)
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, offeringID, models.WaitlistStatusPending); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// discardPendingWaitlistTx deletes the student's PENDING entry, if any, and
// closes the position gap. Used when the student gains a seat outside the
// promotion path; absence of an entry is not an error.
func discardPendingWaitlistTx(ctx context.Context, tx *sqlx.Tx, studentID, offeringID string) error {
	var entry models.WaitlistEntry
	query := fmt.Sprintf(`SELECT %s FROM waitlist_entries
        WHERE student_id = $1 AND offering_id = $2 AND status = $3 FOR UPDATE`, waitlistColumns)
	if err := tx.GetContext(ctx, &entry, query, studentID, offeringID, models.WaitlistStatusPending); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return fmt.Errorf("load pending waitlist entry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, entry.ID); err != nil {
		return fmt.Errorf("discard waitlist entry: %w", err)
	}
	return compactPositionsTx(ctx, tx, offeringID, entry.Position)
}

func compactPositionsTx(ctx context.Context, tx *sqlx.Tx, offeringID string, removedPosition int) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE waitlist_entries SET position = position - 1
        WHERE offering_id = $1 AND status = $2 AND position > $3`,
		offeringID, models.WaitlistStatusPending, removedPosition); err != nil {
		return fmt.Errorf("compact waitlist positions: %w", err)
	}
	return nil
}
