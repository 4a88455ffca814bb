package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stemsi/exstem-engine/internal/response"
)

const (
	// Identity is asserted by the upstream gateway after authentication.
	HeaderStudentID  = "X-Student-ID"
	HeaderExaminerID = "X-Examiner-ID"

	ContextKeyStudentID  = "student_id"
	ContextKeyExaminerID = "examiner_id"

	maxExaminerIDLength = 128
)

// RequireStudent resolves the student id from the gateway header. Browsers
// cannot set headers on a WebSocket upgrade, so upgrades may pass it as the
// student_id query parameter instead.
func RequireStudent() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(HeaderStudentID)
		if raw == "" && websocket.IsWebSocketUpgrade(c.Request) {
			raw = c.Query("student_id")
		}

		studentID, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || studentID <= 0 {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrIdentityRequired)
			return
		}

		c.Set(ContextKeyStudentID, studentID)
		c.Next()
	}
}

// RequireExaminer resolves the examiner id from the gateway header.
func RequireExaminer() gin.HandlerFunc {
	return func(c *gin.Context) {
		examinerID := strings.TrimSpace(c.GetHeader(HeaderExaminerID))
		if examinerID == "" || len(examinerID) > maxExaminerIDLength {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrIdentityRequired)
			return
		}

		c.Set(ContextKeyExaminerID, examinerID)
		c.Next()
	}
}

// GetStudentID extracts the student id set by RequireStudent.
func GetStudentID(c *gin.Context) (int, bool) {
	v, exists := c.Get(ContextKeyStudentID)
	if !exists {
		return 0, false
	}
	id, ok := v.(int)
	return id, ok
}

// GetExaminerID extracts the examiner id set by RequireExaminer.
func GetExaminerID(c *gin.Context) string {
	return c.GetString(ContextKeyExaminerID)
}
