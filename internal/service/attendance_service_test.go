package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campuscore/course-api/internal/models"
	"github.com/campuscore/course-api/internal/repository"
	appErrors "github.com/campuscore/course-api/pkg/errors"
)

type mockCodeStore struct {
	codes map[string]*models.AttendanceCode
}

func newMockCodeStore() *mockCodeStore {
	return &mockCodeStore{codes: make(map[string]*models.AttendanceCode)}
}

func (m *mockCodeStore) Save(ctx context.Context, code *models.AttendanceCode, ttl time.Duration) error {
	copied := *code
	m.codes[code.ScheduleID] = &copied
	return nil
}

func (m *mockCodeStore) Find(ctx context.Context, scheduleID string) (*models.AttendanceCode, error) {
	code, ok := m.codes[scheduleID]
	if !ok {
		return nil, repository.ErrAttendanceCodeAbsent
	}
	return code, nil
}

func (m *mockCodeStore) Delete(ctx context.Context, scheduleID string) error {
	delete(m.codes, scheduleID)
	return nil
}

type mockSchedules struct {
	schedules map[string]*models.Schedule
}

func (m *mockSchedules) FindByID(ctx context.Context, id string) (*models.Schedule, error) {
	if s, ok := m.schedules[id]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

type mockRecordStore struct {
	records map[string]*models.AttendanceRecord
}

func newMockRecordStore() *mockRecordStore {
	return &mockRecordStore{records: make(map[string]*models.AttendanceRecord)}
}

func recordKey(enrollmentID, scheduleID string, date time.Time) string {
	return enrollmentID + "|" + scheduleID + "|" + date.Format("2006-01-02")
}

func (m *mockRecordStore) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	key := recordKey(record.EnrollmentID, record.ScheduleID, record.Date)
	if _, ok := m.records[key]; ok {
		return nil, repository.ErrDuplicateAttendance
	}
	copied := *record
	copied.ID = key
	m.records[key] = &copied
	return &copied, nil
}

func (m *mockRecordStore) Upsert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, error) {
	key := recordKey(record.EnrollmentID, record.ScheduleID, record.Date)
	copied := *record
	copied.ID = key
	m.records[key] = &copied
	return &copied, nil
}

func (m *mockRecordStore) Find(ctx context.Context, enrollmentID, scheduleID string, date time.Time) (*models.AttendanceRecord, error) {
	if record, ok := m.records[recordKey(enrollmentID, scheduleID, date)]; ok {
		return record, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRecordStore) SessionReport(ctx context.Context, scheduleID string, date time.Time) ([]models.SessionReportRow, error) {
	var rows []models.SessionReportRow
	for _, record := range m.records {
		if record.ScheduleID == scheduleID && record.Date.Equal(date) {
			rows = append(rows, models.SessionReportRow{
				EnrollmentID: record.EnrollmentID,
				StudentID:    record.RecordedBy,
				Status:       record.Status,
				RecordedBy:   record.RecordedBy,
			})
		}
	}
	return rows, nil
}

type mockEnrollmentReader struct {
	enrollments map[string]*models.Enrollment // key: studentID|offeringID
}

func (m *mockEnrollmentReader) FindByStudentAndOffering(ctx context.Context, studentID, offeringID string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[studentID+"|"+offeringID]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

type attendanceFixture struct {
	svc     *AttendanceService
	codes   *mockCodeStore
	records *mockRecordStore
}

func newAttendanceFixture(t *testing.T) *attendanceFixture {
	t.Helper()
	start := "09:00"
	schedules := &mockSchedules{schedules: map[string]*models.Schedule{
		"sch-1": {ID: "sch-1", OfferingID: "off-1", LecturerID: "lect-1", DayOfWeek: "MONDAY", StartTime: &start},
	}}
	enrollments := &mockEnrollmentReader{enrollments: map[string]*models.Enrollment{
		"stu-1|off-1": {ID: "enr-1", StudentID: "stu-1", OfferingID: "off-1", Status: models.EnrollmentStatusEnrolled},
	}}
	codes := newMockCodeStore()
	records := newMockRecordStore()
	svc := NewAttendanceService(codes, schedules, records, enrollments, AttendanceOptions{}, validator.New(), zap.NewNop(), nil)
	svc.newCode = func() string { return "123456" }
	return &attendanceFixture{svc: svc, codes: codes, records: records}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func sessionDay(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, time.UTC)
}

func generateCode(t *testing.T, f *attendanceFixture) *models.AttendanceCode {
	t.Helper()
	code, err := f.svc.GenerateCode(context.Background(), GenerateCodeRequest{
		ScheduleID: "sch-1", CreatorID: "lect-1", Role: models.RoleLecturer,
	})
	require.NoError(t, err)
	return code
}

func TestAttendanceServiceCheckInWindows(t *testing.T) {
	cases := []struct {
		name   string
		minute int
		want   models.AttendanceStatus
	}{
		{"within present window", 10, models.AttendanceStatusPresent},
		{"within late window", 20, models.AttendanceStatusLate},
		{"after late window", 45, models.AttendanceStatusAbsent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAttendanceFixture(t)
			f.svc.now = fixedClock(sessionDay(9, 0))
			generateCode(t, f)

			f.svc.now = fixedClock(sessionDay(9, tc.minute))
			result, err := f.svc.CheckIn(context.Background(), CheckInRequest{
				ScheduleID: "sch-1", Code: "123456", StudentID: "stu-1",
			})
			require.NoError(t, err)
			assert.False(t, result.AlreadyRecorded)
			assert.Equal(t, tc.want, result.Attendance.Status)
			assert.Equal(t, "stu-1", result.Attendance.RecordedBy)
		})
	}
}

func TestAttendanceServiceRepeatedCheckInIsIdempotent(t *testing.T) {
	f := newAttendanceFixture(t)
	f.svc.now = fixedClock(sessionDay(9, 5))
	generateCode(t, f)

	first, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "123456", StudentID: "stu-1"})
	require.NoError(t, err)
	require.False(t, first.AlreadyRecorded)

	// Second entry later the same day must not overwrite the first status.
	f.svc.now = fixedClock(sessionDay(9, 40))
	second, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "123456", StudentID: "stu-1"})
	require.NoError(t, err)
	assert.True(t, second.AlreadyRecorded)
	assert.Equal(t, models.AttendanceStatusPresent, second.Attendance.Status)
	assert.Len(t, f.records.records, 1)
}

func TestAttendanceServiceRejectsWrongCode(t *testing.T) {
	f := newAttendanceFixture(t)
	f.svc.now = fixedClock(sessionDay(9, 0))
	generateCode(t, f)

	_, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "654321", StudentID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCode.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceRejectsUnenrolledStudent(t *testing.T) {
	f := newAttendanceFixture(t)
	f.svc.now = fixedClock(sessionDay(9, 0))
	generateCode(t, f)

	_, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "123456", StudentID: "stranger"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotEnrolled.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceRegenerateInvalidatesPreviousCode(t *testing.T) {
	f := newAttendanceFixture(t)
	f.svc.now = fixedClock(sessionDay(9, 0))
	generateCode(t, f)

	f.svc.newCode = func() string { return "777777" }
	generateCode(t, f)

	_, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "123456", StudentID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCode.Code, appErrors.FromError(err).Code)

	result, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "777777", StudentID: "stu-1"})
	require.NoError(t, err)
	assert.False(t, result.AlreadyRecorded)
}

func TestAttendanceServiceCodeExpiresAfterTTL(t *testing.T) {
	f := newAttendanceFixture(t)
	issued := sessionDay(9, 0)
	f.svc.now = fixedClock(issued)
	generateCode(t, f)

	// One second past the 2h TTL the code is gone and the entry is purged.
	f.svc.now = fixedClock(issued.Add(2*time.Hour + time.Second))
	_, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "123456", StudentID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCode.Code, appErrors.FromError(err).Code)
	assert.Empty(t, f.codes.codes)

	_, err = f.svc.GetCode(context.Background(), "sch-1", "lect-1", models.RoleLecturer)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceGenerateCodeAuthorization(t *testing.T) {
	f := newAttendanceFixture(t)
	f.svc.now = fixedClock(sessionDay(9, 0))

	_, err := f.svc.GenerateCode(context.Background(), GenerateCodeRequest{
		ScheduleID: "sch-1", CreatorID: "lect-2", Role: models.RoleLecturer,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	code, err := f.svc.GenerateCode(context.Background(), GenerateCodeRequest{
		ScheduleID: "sch-1", CreatorID: "admin-1", Role: models.RoleAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, "123456", code.Code)
}

func TestAttendanceServiceGenerateCodeWindowOverrides(t *testing.T) {
	f := newAttendanceFixture(t)
	f.svc.now = fixedClock(sessionDay(9, 0))

	present, late := 5, 10
	code, err := f.svc.GenerateCode(context.Background(), GenerateCodeRequest{
		ScheduleID: "sch-1", CreatorID: "lect-1", Role: models.RoleLecturer,
		PresentWindowMinutes: &present, LateWindowMinutes: &late,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, code.PresentWindowMinutes)
	assert.Equal(t, 10, code.LateWindowMinutes)

	// A late window shorter than the present window is rejected.
	badLate := 3
	_, err = f.svc.GenerateCode(context.Background(), GenerateCodeRequest{
		ScheduleID: "sch-1", CreatorID: "lect-1", Role: models.RoleLecturer,
		PresentWindowMinutes: &present, LateWindowMinutes: &badLate,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAttendanceServiceMarkAttendanceUpserts(t *testing.T) {
	f := newAttendanceFixture(t)
	f.svc.now = fixedClock(sessionDay(9, 5))
	generateCode(t, f)

	_, err := f.svc.CheckIn(context.Background(), CheckInRequest{ScheduleID: "sch-1", Code: "123456", StudentID: "stu-1"})
	require.NoError(t, err)

	notes := "doctor's note"
	record, err := f.svc.MarkAttendance(context.Background(), MarkAttendanceRequest{
		ScheduleID: "sch-1", StudentID: "stu-1", Date: "2026-03-02",
		Status: "EXCUSED", Notes: &notes,
		RecorderID: "lect-1", Role: models.RoleLecturer,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusExcused, record.Status)
	assert.Equal(t, "lect-1", record.RecordedBy)
	assert.Len(t, f.records.records, 1)

	_, err = f.svc.MarkAttendance(context.Background(), MarkAttendanceRequest{
		ScheduleID: "sch-1", StudentID: "stu-1", Date: "2026-03-02",
		Status: "SLEEPING", RecorderID: "lect-1", Role: models.RoleLecturer,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}
