package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/docs2md/internal/batch"
	"github.com/joseph-ayodele/docs2md/internal/common"
)

// APIError is the body of every error response:
// { "error": { "code": "not_found", "message": "batch not found" } }
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error APIError `json:"error"`
}

func JSONError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: APIError{Code: code, Message: msg}})
}

func BadRequest(c *gin.Context, msg string) {
	JSONError(c, http.StatusBadRequest, "bad_request", msg)
}

func NotFound(c *gin.Context, msg string) {
	JSONError(c, http.StatusNotFound, "not_found", msg)
}

func Conflict(c *gin.Context, msg string) {
	JSONError(c, http.StatusConflict, "conflict", msg)
}

func TooLarge(c *gin.Context, msg string) {
	JSONError(c, http.StatusRequestEntityTooLarge, "payload_too_large", msg)
}

func Unavailable(c *gin.Context, msg string) {
	JSONError(c, http.StatusServiceUnavailable, "unavailable", msg)
}

func Internal(c *gin.Context, msg string) {
	JSONError(c, http.StatusInternalServerError, "internal_error", msg)
}

// fromError maps service errors onto status codes.
func fromError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		NotFound(c, err.Error())
	case errors.Is(err, common.ErrTooLarge):
		TooLarge(c, err.Error())
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		BadRequest(c, err.Error())
	case errors.Is(err, batch.ErrRunning):
		Conflict(c, err.Error())
	case errors.Is(err, batch.ErrShuttingDown):
		Unavailable(c, err.Error())
	case errors.Is(err, common.ErrPackaging):
		JSONError(c, http.StatusInternalServerError, "packaging_error", err.Error())
	default:
		Internal(c, err.Error())
	}
}
