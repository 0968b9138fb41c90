package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campuscore/course-api/internal/models"
	"github.com/campuscore/course-api/internal/service"
	appErrors "github.com/campuscore/course-api/pkg/errors"
	"github.com/campuscore/course-api/pkg/response"
)

// AttendanceHandler exposes attendance code and check-in endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance}
}

// GenerateCode handles POST /schedules/:id/attendance-code.
func (h *AttendanceHandler) GenerateCode(c *gin.Context) {
	var req service.GenerateCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.ScheduleID = c.Param("id")
	if claims := claimsFromContext(c); claims != nil {
		req.CreatorID = claims.UserID
		req.Role = claims.Role
	}
	code, err := h.attendance.GenerateCode(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, code)
}

// GetCode handles GET /schedules/:id/attendance-code.
func (h *AttendanceHandler) GetCode(c *gin.Context) {
	var requesterID string
	var role models.UserRole
	if claims := claimsFromContext(c); claims != nil {
		requesterID = claims.UserID
		role = claims.Role
	}
	code, err := h.attendance.GetCode(c.Request.Context(), c.Param("id"), requesterID, role)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, code, nil)
}

// RevokeCode handles DELETE /schedules/:id/attendance-code.
func (h *AttendanceHandler) RevokeCode(c *gin.Context) {
	var requesterID string
	var role models.UserRole
	if claims := claimsFromContext(c); claims != nil {
		requesterID = claims.UserID
		role = claims.Role
	}
	if err := h.attendance.RevokeCode(c.Request.Context(), c.Param("id"), requesterID, role); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckIn handles POST /attendance/check-in.
func (h *AttendanceHandler) CheckIn(c *gin.Context) {
	var req service.CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.StudentID = resolveStudentID(c, req.StudentID)
	result, err := h.attendance.CheckIn(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	status := http.StatusCreated
	if result.AlreadyRecorded {
		status = http.StatusOK
	}
	response.JSON(c, status, result, nil)
}

// Mark handles POST /attendance/mark.
func (h *AttendanceHandler) Mark(c *gin.Context) {
	var req service.MarkAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if claims := claimsFromContext(c); claims != nil {
		req.RecorderID = claims.UserID
		req.Role = claims.Role
	}
	record, err := h.attendance.MarkAttendance(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// SessionReport handles GET /schedules/:id/attendance.
func (h *AttendanceHandler) SessionReport(c *gin.Context) {
	date, err := time.Parse("2006-01-02", c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02")))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD"))
		return
	}
	rows, err := h.attendance.SessionReport(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}
