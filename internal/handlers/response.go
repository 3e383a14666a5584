package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shivam349/codex1/internal/apperr"
	"github.com/shivam349/codex1/internal/logging"
)

// ok writes a success envelope with data.
func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// okMsg writes a success envelope carrying a message and, when non-nil, data.
func okMsg(c *gin.Context, status int, msg string, data any) {
	body := gin.H{"success": true, "message": msg}
	if data != nil {
		body["data"] = data
	}
	c.JSON(status, body)
}

func (s *Server) failMsg(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": msg})
}

// fail maps an error kind onto a status and writes the error envelope.
// Internal errors are logged with their cause; the cause reaches the client
// only outside production.
func (s *Server) fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	msg := apperr.MessageOf(err)
	if kind == apperr.KindInternal {
		logging.FromGin(s.Log, c).WithError(err).Error("request failed")
		msg = "Server error"
		if !s.Options.Production {
			msg = err.Error()
		}
	}
	s.failMsg(c, statusFor(kind), msg)
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict, apperr.KindOutOfStock:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
