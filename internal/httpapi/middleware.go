package httpapi

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mx-claw/agent-fleet/internal/apperrors"
	"github.com/mx-claw/agent-fleet/internal/common/logger"
)

// requestLogger logs each request's path, method, status, and duration,
// tagging it with a generated request id for correlation.
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := uuid.New().String()
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		c.Next()

		log.Info("request completed",
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID),
		)
	}
}

// errorHandler maps an AppError's Kind to an HTTP status for the response.
func errorHandler(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		var appErr *apperrors.AppError
		if stderrors.As(err, &appErr) {
			log.Error("request error", zap.String("kind", string(appErr.Kind)), zap.Error(appErr))
			c.JSON(statusForKind(appErr.Kind), gin.H{"error": appErr.Error()})
			return
		}

		log.Error("internal server error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "an internal error occurred"})
	}
}

func statusForKind(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.KindLifecycle:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
