package models

import "time"

// Schedule is a recurring weekly class session belonging to one offering.
// StartTime and EndTime are wall-clock values in "15:04" form; legacy rows
// may carry no start time at all.
type Schedule struct {
	ID         string    `db:"id" json:"id"`
	OfferingID string    `db:"offering_id" json:"offering_id"`
	LecturerID string    `db:"lecturer_id" json:"lecturer_id"`
	DayOfWeek  string    `db:"day_of_week" json:"day_of_week"`
	StartTime  *string   `db:"start_time" json:"start_time,omitempty"`
	EndTime    *string   `db:"end_time" json:"end_time,omitempty"`
	Room       string    `db:"room" json:"room"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// SessionStartOn resolves the schedule's start time on the given date, or nil
// when the schedule has no parseable start time.
func (s *Schedule) SessionStartOn(day time.Time) *time.Time {
	if s == nil || s.StartTime == nil {
		return nil
	}
	parsed, err := time.Parse("15:04", *s.StartTime)
	if err != nil {
		return nil
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), parsed.Hour(), parsed.Minute(), 0, 0, day.Location())
	return &start
}
