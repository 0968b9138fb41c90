package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campuscore/course-api/internal/models"
)

// OfferingRepository reads course offerings owned by the catalog module.
type OfferingRepository struct {
	db *sqlx.DB
}

// NewOfferingRepository constructs the repository.
func NewOfferingRepository(db *sqlx.DB) *OfferingRepository {
	return &OfferingRepository{db: db}
}

// FindByID returns an offering by its ID.
func (r *OfferingRepository) FindByID(ctx context.Context, id string) (*models.Offering, error) {
	const query = `SELECT id, course_id, term_id, enrollment_code, capacity, active, created_at, updated_at
        FROM offerings WHERE id = $1`
	var offering models.Offering
	if err := r.db.GetContext(ctx, &offering, query, id); err != nil {
		return nil, err
	}
	return &offering, nil
}

// FindByEnrollmentCode resolves a join code to its active offering.
func (r *OfferingRepository) FindByEnrollmentCode(ctx context.Context, code string) (*models.Offering, error) {
	const query = `SELECT id, course_id, term_id, enrollment_code, capacity, active, created_at, updated_at
        FROM offerings WHERE enrollment_code = $1 AND active = TRUE`
	var offering models.Offering
	if err := r.db.GetContext(ctx, &offering, query, code); err != nil {
		return nil, err
	}
	return &offering, nil
}

// lockOffering serializes writers for one offering within the transaction.
// Distinct offerings hash to distinct advisory locks and proceed in parallel.
func lockOffering(ctx context.Context, tx *sqlx.Tx, offeringID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, offeringID); err != nil {
		return fmt.Errorf("lock offering %s: %w", offeringID, err)
	}
	return nil
}
