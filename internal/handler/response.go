package handler

import (
	"Parley/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"

	userIDHeader = "X-User-Id"
	userIDKey    = "userId"
)

// Response is the envelope every REST endpoint answers with
type Response struct {
	HttpStatusCode int    `json:"HttpStatusCode"`
	IsSuccess      bool   `json:"IsSuccess"`
	Status         string `json:"Status"`
	Message        string `json:"Message"`
	ErrorCode      string `json:"ErrorCode,omitempty"`
	ResponseBody   any    `json:"ResponseBody,omitempty"`
}

func respond(c *gin.Context, code int, message string, body any) {
	c.JSON(code, Response{
		HttpStatusCode: code,
		IsSuccess:      true,
		Status:         StatusSuccess,
		Message:        message,
		ResponseBody:   body,
	})
}

// respondError maps a service error onto the envelope. Internal failures
// never leak their cause.
func respondError(c *gin.Context, err error) {
	kind := service.KindOf(err)
	code := statusFor(kind)

	status := StatusFail
	if code >= http.StatusInternalServerError {
		status = StatusError
		_ = c.Error(err)
	}

	c.AbortWithStatusJSON(code, Response{
		HttpStatusCode: code,
		IsSuccess:      false,
		Status:         status,
		Message:        service.MessageOf(err),
		ErrorCode:      kind.Code(),
	})
}

func badRequest(c *gin.Context, message string) {
	respondError(c, &service.Error{Kind: service.KindValidation, Message: message})
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindInvalidOperation, service.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// RequireUser reads the caller's id from the X-User-Id header
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userIDHeader)
		if userID == "" {
			badRequest(c, userIDHeader+" header is required")
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
