package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campuscore/course-api/internal/models"
	"github.com/campuscore/course-api/internal/repository"
	appErrors "github.com/campuscore/course-api/pkg/errors"
)

type attendanceCodeStore interface {
	Save(ctx context.Context, code *models.AttendanceCode, ttl time.Duration) error
	Find(ctx context.Context, scheduleID string) (*models.AttendanceCode, error)
	Delete(ctx context.Context, scheduleID string) error
}

type scheduleReader interface {
	FindByID(ctx context.Context, id string) (*models.Schedule, error)
}

type attendanceRecordStore interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error)
	Find(ctx context.Context, enrollmentID, scheduleID string, date time.Time) (*models.AttendanceRecord, error)
	SessionReport(ctx context.Context, scheduleID string, date time.Time) ([]models.SessionReportRow, error)
}

type enrollmentReader interface {
	FindByStudentAndOffering(ctx context.Context, studentID, offeringID string) (*models.Enrollment, error)
}

// GenerateCodeRequest issues a fresh check-in code for a schedule session.
type GenerateCodeRequest struct {
	ScheduleID           string          `json:"schedule_id" validate:"required"`
	CreatorID            string          `json:"-"`
	Role                 models.UserRole `json:"-"`
	PresentWindowMinutes *int            `json:"present_window_minutes" validate:"omitempty,min=1"`
	LateWindowMinutes    *int            `json:"late_window_minutes" validate:"omitempty,min=1"`
}

// CheckInRequest is a student's attendance code entry.
type CheckInRequest struct {
	ScheduleID string `json:"schedule_id" validate:"required"`
	Code       string `json:"code" validate:"required,len=6,numeric"`
	StudentID  string `json:"-"`
}

// MarkAttendanceRequest is the lecturer-initiated marking payload.
type MarkAttendanceRequest struct {
	ScheduleID string          `json:"schedule_id" validate:"required"`
	StudentID  string          `json:"student_id" validate:"required"`
	Date       string          `json:"date" validate:"required"`
	Status     string          `json:"status" validate:"required"`
	Notes      *string         `json:"notes"`
	RecorderID string          `json:"-"`
	Role       models.UserRole `json:"-"`
}

// AttendanceService issues per-session check-in codes and records check-ins.
// The clock and code generator are injected so window and expiry behaviour is
// testable without sleeping.
type AttendanceService struct {
	codes       attendanceCodeStore
	schedules   scheduleReader
	records     attendanceRecordStore
	enrollments enrollmentReader
	validator   *validator.Validate
	logger      *zap.Logger
	metrics     *MetricsService

	codeTTL              time.Duration
	presentWindowMinutes int
	lateWindowMinutes    int

	now     func() time.Time
	newCode func() string
}

// AttendanceOptions tunes code lifetime and default classification windows.
type AttendanceOptions struct {
	CodeTTL              time.Duration
	PresentWindowMinutes int
	LateWindowMinutes    int
}

// NewAttendanceService constructs the attendance service.
func NewAttendanceService(codes attendanceCodeStore, schedules scheduleReader, records attendanceRecordStore, enrollments enrollmentReader, opts AttendanceOptions, validate *validator.Validate, logger *zap.Logger, metrics *MetricsService) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = 2 * time.Hour
	}
	if opts.PresentWindowMinutes <= 0 {
		opts.PresentWindowMinutes = 15
	}
	if opts.LateWindowMinutes <= 0 {
		opts.LateWindowMinutes = 30
	}
	return &AttendanceService{
		codes:                codes,
		schedules:            schedules,
		records:              records,
		enrollments:          enrollments,
		validator:            validate,
		logger:               logger,
		metrics:              metrics,
		codeTTL:              opts.CodeTTL,
		presentWindowMinutes: opts.PresentWindowMinutes,
		lateWindowMinutes:    opts.LateWindowMinutes,
		now:                  time.Now,
		newCode:              randomAttendanceCode,
	}
}

// GenerateCode issues a new code for the schedule, replacing any live one.
func (s *AttendanceService) GenerateCode(ctx context.Context, req GenerateCodeRequest) (*models.AttendanceCode, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid code payload")
	}
	schedule, err := s.loadSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeLecturer(schedule, req.CreatorID, req.Role); err != nil {
		return nil, err
	}

	presentWindow := s.presentWindowMinutes
	if req.PresentWindowMinutes != nil {
		presentWindow = *req.PresentWindowMinutes
	}
	lateWindow := s.lateWindowMinutes
	if req.LateWindowMinutes != nil {
		lateWindow = *req.LateWindowMinutes
	}
	if lateWindow < presentWindow {
		return nil, appErrors.Clone(appErrors.ErrValidation, "late window must not be shorter than present window")
	}

	code := &models.AttendanceCode{
		ScheduleID:           req.ScheduleID,
		Code:                 s.newCode(),
		IssuedAt:             s.now().UTC().Unix(),
		CreatorID:            req.CreatorID,
		PresentWindowMinutes: presentWindow,
		LateWindowMinutes:    lateWindow,
	}
	if err := s.codes.Save(ctx, code, s.codeTTL); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store attendance code")
	}
	s.logger.Info("attendance code issued",
		zap.String("schedule_id", req.ScheduleID),
		zap.String("creator_id", req.CreatorID))
	return code, nil
}

// GetCode returns the live code for a schedule, expiring stale ones lazily.
func (s *AttendanceService) GetCode(ctx context.Context, scheduleID, requesterID string, role models.UserRole) (*models.AttendanceCode, error) {
	schedule, err := s.loadSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeLecturer(schedule, requesterID, role); err != nil {
		return nil, err
	}
	code, err := s.liveCode(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no live attendance code for schedule")
	}
	return code, nil
}

// RevokeCode invalidates the schedule's live code ahead of expiry.
func (s *AttendanceService) RevokeCode(ctx context.Context, scheduleID, requesterID string, role models.UserRole) error {
	schedule, err := s.loadSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	if err := s.authorizeLecturer(schedule, requesterID, role); err != nil {
		return err
	}
	if err := s.codes.Delete(ctx, scheduleID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke attendance code")
	}
	return nil
}

// CheckIn validates the submitted code, classifies the student by elapsed
// time since session start and records the attendance. A repeated submission
// for the same session and date reports AlreadyRecorded without mutation.
func (s *AttendanceService) CheckIn(ctx context.Context, req CheckInRequest) (*models.CheckInResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-in payload")
	}

	code, err := s.liveCode(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if code == nil || code.Code != req.Code {
		return nil, appErrors.Clone(appErrors.ErrInvalidCode, "")
	}

	schedule, err := s.loadSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.FindByStudentAndOffering(ctx, req.StudentID, schedule.OfferingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotEnrolled, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	now := s.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	status := classifyCheckIn(schedule.SessionStartOn(today), now, code.PresentWindowMinutes, code.LateWindowMinutes)

	record := &models.AttendanceRecord{
		EnrollmentID: enrollment.ID,
		ScheduleID:   req.ScheduleID,
		Date:         today,
		Status:       status,
		RecordedBy:   req.StudentID,
		RecordedAt:   now,
	}
	stored, err := s.records.Insert(ctx, record)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateAttendance) {
			existing, findErr := s.records.Find(ctx, enrollment.ID, req.ScheduleID, today)
			if findErr != nil {
				return nil, appErrors.Wrap(findErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load existing attendance")
			}
			return &models.CheckInResult{Attendance: existing, AlreadyRecorded: true}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}

	s.logger.Info("student checked in",
		zap.String("student_id", req.StudentID),
		zap.String("schedule_id", req.ScheduleID),
		zap.String("status", string(status)))
	if s.metrics != nil {
		s.metrics.RecordCheckIn(string(status))
	}
	return &models.CheckInResult{Attendance: stored}, nil
}

// MarkAttendance records or corrects attendance on behalf of the lecturer.
// Unlike code entry this path overwrites, and recorded_by is the lecturer.
func (s *AttendanceService) MarkAttendance(ctx context.Context, req MarkAttendanceRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	status := models.AttendanceStatus(req.Status)
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported attendance status")
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	schedule, err := s.loadSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeLecturer(schedule, req.RecorderID, req.Role); err != nil {
		return nil, err
	}

	enrollment, err := s.enrollments.FindByStudentAndOffering(ctx, req.StudentID, schedule.OfferingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student has no enrollment in this offering")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}

	record := &models.AttendanceRecord{
		EnrollmentID: enrollment.ID,
		ScheduleID:   req.ScheduleID,
		Date:         date,
		Status:       status,
		Notes:        req.Notes,
		RecordedBy:   req.RecorderID,
		RecordedAt:   s.now().UTC(),
	}
	stored, err := s.records.Upsert(ctx, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark attendance")
	}
	return stored, nil
}

// SessionReport returns recorded attendance for a schedule session.
func (s *AttendanceService) SessionReport(ctx context.Context, scheduleID string, date time.Time) ([]models.SessionReportRow, error) {
	if _, err := s.loadSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	rows, err := s.records.SessionReport(ctx, scheduleID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session report")
	}
	return rows, nil
}

// liveCode fetches the schedule's code and lazily expires stale ones. The
// Redis key TTL normally handles expiry; the issuedAt check also covers codes
// written with a longer TTL before a configuration change.
func (s *AttendanceService) liveCode(ctx context.Context, scheduleID string) (*models.AttendanceCode, error) {
	code, err := s.codes.Find(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, repository.ErrAttendanceCodeAbsent) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance code")
	}
	if s.now().UTC().Unix()-code.IssuedAt > int64(s.codeTTL.Seconds()) {
		if err := s.codes.Delete(ctx, scheduleID); err != nil {
			s.logger.Warn("failed to delete expired attendance code",
				zap.String("schedule_id", scheduleID),
				zap.Error(err))
		}
		return nil, nil
	}
	return code, nil
}

func (s *AttendanceService) loadSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	schedule, err := s.schedules.FindByID(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

func (s *AttendanceService) authorizeLecturer(schedule *models.Schedule, userID string, role models.UserRole) error {
	if role == models.RoleAdmin {
		return nil
	}
	if role == models.RoleLecturer && schedule.LecturerID == userID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "schedule belongs to another lecturer")
}
