package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/campuscore/course-api/internal/middleware"
	"github.com/campuscore/course-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// resolveStudentID forces students to act as themselves while letting staff
// supply an explicit student id.
func resolveStudentID(c *gin.Context, requested string) string {
	claims := claimsFromContext(c)
	if claims != nil && claims.Role == models.RoleStudent {
		return claims.UserID
	}
	return requested
}
