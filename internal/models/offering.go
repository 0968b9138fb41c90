package models

import "time"

// Offering is a course instance scheduled within one academic term. The
// enrollment core reads capacity and the active flag but never mutates the
// offering itself; catalog management lives in the admin CRUD layer.
type Offering struct {
	ID             string    `db:"id" json:"id"`
	CourseID       string    `db:"course_id" json:"course_id"`
	TermID         string    `db:"term_id" json:"term_id"`
	EnrollmentCode string    `db:"enrollment_code" json:"enrollment_code,omitempty"`
	Capacity       int       `db:"capacity" json:"capacity"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
