package models

import "time"

// EnrollmentStatus represents the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
	EnrollmentStatusFailed    EnrollmentStatus = "FAILED"
)

// Enrollment relates one student to one offering. At most one row exists per
// (student, offering) pair; re-enrollment after a drop reactivates the row.
type Enrollment struct {
	ID         string           `db:"id" json:"id"`
	StudentID  string           `db:"student_id" json:"student_id"`
	OfferingID string           `db:"offering_id" json:"offering_id"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	Grade      *string          `db:"grade" json:"grade,omitempty"`
	EnrolledAt time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt  *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// WaitlistStatus represents the lifecycle state of a waitlist entry.
type WaitlistStatus string

const (
	WaitlistStatusPending  WaitlistStatus = "PENDING"
	WaitlistStatusNotified WaitlistStatus = "NOTIFIED"
	WaitlistStatusExpired  WaitlistStatus = "EXPIRED"
)

// WaitlistEntry queues a student for a seat in a full offering. Positions
// within one offering are dense, 1-based and FIFO by addition time.
type WaitlistEntry struct {
	ID         string         `db:"id" json:"id"`
	StudentID  string         `db:"student_id" json:"student_id"`
	OfferingID string         `db:"offering_id" json:"offering_id"`
	Position   int            `db:"position" json:"position"`
	Status     WaitlistStatus `db:"status" json:"status"`
	AddedAt    time.Time      `db:"added_at" json:"added_at"`
}

// WaitlistPromotion reports a student moved off the waitlist into a seat.
type WaitlistPromotion struct {
	StudentID    string `json:"student_id"`
	EnrollmentID string `json:"enrollment_id"`
	Position     int    `json:"position"`
}

// EnrollmentOutcome distinguishes the two expected results of an enroll call.
type EnrollmentOutcome string

const (
	OutcomeEnrolled   EnrollmentOutcome = "ENROLLED"
	OutcomeWaitlisted EnrollmentOutcome = "WAITLISTED"
)

// EnrollResult is the typed result of an enrollment attempt. A full offering
// is a normal outcome, not an error: the student lands on the waitlist.
type EnrollResult struct {
	Outcome    EnrollmentOutcome `json:"outcome"`
	Enrollment *Enrollment       `json:"enrollment,omitempty"`
	Position   int               `json:"position,omitempty"`
}

// DropResult is the typed result of a drop. Dropping an already-dropped
// enrollment reports AlreadyDropped instead of failing.
type DropResult struct {
	Enrollment     *Enrollment        `json:"enrollment"`
	AlreadyDropped bool               `json:"already_dropped"`
	Promoted       *WaitlistPromotion `json:"promoted,omitempty"`
}
