package api

import (
	"net/http"
	"strconv"
	"time"

	"counseling-service/internal/apperror"
	"counseling-service/internal/auth"
	"counseling-service/internal/models"
	"counseling-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func writeError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	status := apperror.HTTPStatus(kind)

	if status >= http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:    status,
		Error:     string(kind),
		Message:   apperror.Message(err),
		Timestamp: time.Now().UTC(),
	})
}

// errorMiddleware renders errors attached by middleware that aborted
// without writing a response.
func errorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 && !c.Writer.Written() {
			writeError(c, c.Errors.Last().Err)
		}
	}
}

func callerOrAbort(c *gin.Context) (models.Caller, bool) {
	caller, ok := auth.CallerFrom(c)
	if !ok {
		writeError(c, apperror.Unauthorized("authentication required"))
		return models.Caller{}, false
	}
	return caller, true
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, apperror.BadRequest("invalid id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}
