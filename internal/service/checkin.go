package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/campuscore/course-api/internal/models"
)

// classifyCheckIn maps elapsed time since session start onto an attendance
// status. Within the present window the student is PRESENT, within the late
// window LATE, afterwards ABSENT. Sessions with no known start time accept
// the check-in as PRESENT.
func classifyCheckIn(sessionStart *time.Time, now time.Time, presentWindowMinutes, lateWindowMinutes int) models.AttendanceStatus {
	if sessionStart == nil {
		return models.AttendanceStatusPresent
	}
	elapsed := now.Sub(*sessionStart)
	switch {
	case elapsed <= time.Duration(presentWindowMinutes)*time.Minute:
		return models.AttendanceStatusPresent
	case elapsed <= time.Duration(lateWindowMinutes)*time.Minute:
		return models.AttendanceStatusLate
	default:
		return models.AttendanceStatusAbsent
	}
}

// randomAttendanceCode draws a uniform 6-digit numeric code in
// [100000, 999999].
func randomAttendanceCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		return fmt.Sprintf("%06d", time.Now().UnixNano()%900000+100000)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000)
}
