package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuscore/course-api/internal/service"
	appErrors "github.com/campuscore/course-api/pkg/errors"
	"github.com/campuscore/course-api/pkg/response"
)

// EnrollmentHandler exposes enrollment and waitlist endpoints.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// Enroll handles POST /enrollments.
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.StudentID = resolveStudentID(c, req.StudentID)
	result, err := h.enrollments.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// EnrollByCode handles POST /enrollments/by-code.
func (h *EnrollmentHandler) EnrollByCode(c *gin.Context) {
	var req service.EnrollByCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.StudentID = resolveStudentID(c, req.StudentID)
	result, err := h.enrollments.EnrollByCode(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Drop handles POST /enrollments/drop.
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req service.DropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.StudentID = resolveStudentID(c, req.StudentID)
	result, err := h.enrollments.Drop(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// FinalizeGrade handles POST /enrollments/grade.
func (h *EnrollmentHandler) FinalizeGrade(c *gin.Context) {
	var req service.FinalizeGradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.enrollments.FinalizeGrade(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Waitlist handles GET /offerings/:id/waitlist.
func (h *EnrollmentHandler) Waitlist(c *gin.Context) {
	entries, err := h.enrollments.Waitlist(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// LeaveWaitlist handles DELETE /offerings/:id/waitlist.
func (h *EnrollmentHandler) LeaveWaitlist(c *gin.Context) {
	studentID := resolveStudentID(c, c.Query("studentId"))
	if err := h.enrollments.LeaveWaitlist(c.Request.Context(), studentID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
