package models

import "time"

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "PRESENT"
	AttendanceStatusLate    AttendanceStatus = "LATE"
	AttendanceStatusAbsent  AttendanceStatus = "ABSENT"
	AttendanceStatusExcused AttendanceStatus = "EXCUSED"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// AttendanceCode is the short-lived per-schedule check-in secret. Only one
// live code exists per schedule; issuing a new one replaces the previous.
type AttendanceCode struct {
	ScheduleID           string `json:"schedule_id"`
	Code                 string `json:"code"`
	IssuedAt             int64  `json:"issued_at"`
	CreatorID            string `json:"creator_id"`
	PresentWindowMinutes int    `json:"present_window_minutes"`
	LateWindowMinutes    int    `json:"late_window_minutes"`
}

// AttendanceRecord stores one attendance decision per (enrollment, schedule,
// date). RecordedBy is the student on the code-entry path and the lecturer on
// the manual path.
type AttendanceRecord struct {
	ID           string           `db:"id" json:"id"`
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	ScheduleID   string           `db:"schedule_id" json:"schedule_id"`
	Date         time.Time        `db:"date" json:"date"`
	Status       AttendanceStatus `db:"status" json:"status"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
	RecordedBy   string           `db:"recorded_by" json:"recorded_by"`
	RecordedAt   time.Time        `db:"recorded_at" json:"recorded_at"`
}

// CheckInResult is the typed outcome of a code entry. A repeated check-in for
// the same session and date reports AlreadyRecorded rather than erroring.
type CheckInResult struct {
	Attendance      *AttendanceRecord `json:"attendance"`
	AlreadyRecorded bool              `json:"already_recorded"`
}

// SessionReportRow is one student's line in a session attendance report.
type SessionReportRow struct {
	EnrollmentID string           `db:"enrollment_id" json:"enrollment_id"`
	StudentID    string           `db:"student_id" json:"student_id"`
	Status       AttendanceStatus `db:"status" json:"status"`
	Notes        *string          `db:"notes" json:"notes,omitempty"`
	RecordedBy   string           `db:"recorded_by" json:"recorded_by"`
}
