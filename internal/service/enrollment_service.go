package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuscore/course-api/internal/models"
	"github.com/campuscore/course-api/internal/repository"
	appErrors "github.com/campuscore/course-api/pkg/errors"
)

type enrollmentLedger interface {
	TryEnroll(ctx context.Context, studentID, offeringID string, capacity int) (*models.Enrollment, error)
	Drop(ctx context.Context, studentID, offeringID string) (*models.Enrollment, bool, error)
	FinalizeGrade(ctx context.Context, studentID, offeringID string, status models.EnrollmentStatus, grade string) (*models.Enrollment, error)
	CountEnrolled(ctx context.Context, offeringID string) (int, error)
}

type waitlistManager interface {
	Add(ctx context.Context, studentID, offeringID string) (int, error)
	PromoteNext(ctx context.Context, offeringID string, capacity int) (*models.WaitlistPromotion, error)
	Remove(ctx context.Context, studentID, offeringID string) error
	ListByOffering(ctx context.Context, offeringID string) ([]models.WaitlistEntry, error)
}

type offeringReader interface {
	FindByID(ctx context.Context, id string) (*models.Offering, error)
	FindByEnrollmentCode(ctx context.Context, code string) (*models.Offering, error)
}

// EnrollRequest describes a direct enrollment attempt.
type EnrollRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	OfferingID string `json:"offering_id" validate:"required"`
}

// EnrollByCodeRequest describes enrollment via a join code.
type EnrollByCodeRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Code      string `json:"code" validate:"required"`
}

// DropRequest describes a course drop.
type DropRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	OfferingID string `json:"offering_id" validate:"required"`
}

// FinalizeGradeRequest closes an enrollment with a final letter grade.
type FinalizeGradeRequest struct {
	StudentID  string `json:"student_id" validate:"required"`
	OfferingID string `json:"offering_id" validate:"required"`
	Grade      string `json:"grade" validate:"required,max=2"`
	Passed     bool   `json:"passed"`
}

// EnrollmentService orchestrates seat reservation and waitlist flow. Expected
// outcomes (full offering, already dropped) come back as typed results;
// errors are reserved for missing references and invalid input.
type EnrollmentService struct {
	ledger    enrollmentLedger
	waitlist  waitlistManager
	offerings offeringReader
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(ledger enrollmentLedger, waitlist waitlistManager, offerings offeringReader, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{ledger: ledger, waitlist: waitlist, offerings: offerings, validator: validate, logger: logger, metrics: metrics}
}

// Enroll reserves a seat for the student or queues them on the waitlist.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.EnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	offering, err := s.loadActiveOffering(ctx, req.OfferingID)
	if err != nil {
		return nil, err
	}
	return s.enroll(ctx, req.StudentID, offering)
}

// EnrollByCode resolves a join code to its offering and enrolls the student.
func (s *EnrollmentService) EnrollByCode(ctx context.Context, req EnrollByCodeRequest) (*models.EnrollResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	offering, err := s.offerings.FindByEnrollmentCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment code does not match an active offering")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve enrollment code")
	}
	return s.enroll(ctx, req.StudentID, offering)
}

func (s *EnrollmentService) enroll(ctx context.Context, studentID string, offering *models.Offering) (*models.EnrollResult, error) {
	enrollment, err := s.ledger.TryEnroll(ctx, studentID, offering.ID, offering.Capacity)
	switch {
	case err == nil:
		s.logger.Info("student enrolled",
			zap.String("student_id", studentID),
			zap.String("offering_id", offering.ID))
		s.recordEnrollment(string(models.OutcomeEnrolled))
		return &models.EnrollResult{Outcome: models.OutcomeEnrolled, Enrollment: enrollment}, nil
	case errors.Is(err, repository.ErrAlreadyEnrolled):
		return nil, appErrors.Clone(appErrors.ErrConflict, "student already enrolled in this offering")
	case errors.Is(err, repository.ErrOfferingFull):
		position, wlErr := s.waitlist.Add(ctx, studentID, offering.ID)
		if wlErr != nil {
			if errors.Is(wlErr, repository.ErrDuplicateWaitlist) {
				return nil, appErrors.Clone(appErrors.ErrConflict, "student already on the waitlist for this offering")
			}
			return nil, appErrors.Wrap(wlErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to join waitlist")
		}
		s.logger.Info("student waitlisted",
			zap.String("student_id", studentID),
			zap.String("offering_id", offering.ID),
			zap.Int("position", position))
		s.recordEnrollment(string(models.OutcomeWaitlisted))
		return &models.EnrollResult{Outcome: models.OutcomeWaitlisted, Position: position}, nil
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enroll student")
	}
}

// Drop releases the student's seat. The longest-waiting student, if any, is
// promoted into it. Dropping an already-dropped enrollment is a no-op.
func (s *EnrollmentService) Drop(ctx context.Context, req DropRequest) (*models.DropResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}
	offering, err := s.loadOffering(ctx, req.OfferingID)
	if err != nil {
		return nil, err
	}
	enrollment, freed, err := s.ledger.Drop(ctx, req.StudentID, req.OfferingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
	}
	result := &models.DropResult{Enrollment: enrollment, AlreadyDropped: !freed}
	if freed {
		result.Promoted = s.promote(ctx, offering)
	}
	return result, nil
}

// FinalizeGrade closes the enrollment as COMPLETED or FAILED and frees the
// seat, promoting the next waitlisted student.
func (s *EnrollmentService) FinalizeGrade(ctx context.Context, req FinalizeGradeRequest) (*models.DropResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade payload")
	}
	offering, err := s.loadOffering(ctx, req.OfferingID)
	if err != nil {
		return nil, err
	}
	status := models.EnrollmentStatusCompleted
	if !req.Passed {
		status = models.EnrollmentStatusFailed
	}
	enrollment, err := s.ledger.FinalizeGrade(ctx, req.StudentID, req.OfferingID, status, req.Grade)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		case errors.Is(err, repository.ErrEnrollmentNotActive):
			return nil, appErrors.Clone(appErrors.ErrConflict, "enrollment is not active")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize grade")
		}
	}
	return &models.DropResult{Enrollment: enrollment, Promoted: s.promote(ctx, offering)}, nil
}

// LeaveWaitlist removes the student's pending entry and compacts positions.
func (s *EnrollmentService) LeaveWaitlist(ctx context.Context, studentID, offeringID string) error {
	if studentID == "" || offeringID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student and offering are required")
	}
	if err := s.waitlist.Remove(ctx, studentID, offeringID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "no pending waitlist entry for student")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to leave waitlist")
	}
	return nil
}

// Waitlist returns the pending queue for an offering in FIFO order.
func (s *EnrollmentService) Waitlist(ctx context.Context, offeringID string) ([]models.WaitlistEntry, error) {
	if _, err := s.loadOffering(ctx, offeringID); err != nil {
		return nil, err
	}
	entries, err := s.waitlist.ListByOffering(ctx, offeringID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	return entries, nil
}

func (s *EnrollmentService) loadOffering(ctx context.Context, offeringID string) (*models.Offering, error) {
	offering, err := s.offerings.FindByID(ctx, offeringID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "offering not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load offering")
	}
	return offering, nil
}

// loadActiveOffering gates the enroll paths. Drop, grading and waitlist
// housekeeping stay available after an offering is deactivated.
func (s *EnrollmentService) loadActiveOffering(ctx context.Context, offeringID string) (*models.Offering, error) {
	offering, err := s.loadOffering(ctx, offeringID)
	if err != nil {
		return nil, err
	}
	if !offering.Active {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "offering is not active")
	}
	return offering, nil
}

// promote attempts a waitlist promotion after a seat was freed. Losing the
// seat to a concurrent enroll is not an error; the entry stays pending.
func (s *EnrollmentService) promote(ctx context.Context, offering *models.Offering) *models.WaitlistPromotion {
	promotion, err := s.waitlist.PromoteNext(ctx, offering.ID, offering.Capacity)
	if err != nil {
		s.logger.Error("waitlist promotion failed",
			zap.String("offering_id", offering.ID),
			zap.Error(err))
		return nil
	}
	if promotion != nil {
		s.logger.Info("waitlist student promoted",
			zap.String("offering_id", offering.ID),
			zap.String("student_id", promotion.StudentID))
		if s.metrics != nil {
			s.metrics.RecordPromotion()
		}
	}
	return promotion
}

func (s *EnrollmentService) recordEnrollment(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordEnrollment(outcome)
	}
}
