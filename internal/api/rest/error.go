package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/walletops/hookrelay/internal/api/apierrors"
	"github.com/walletops/hookrelay/internal/domain"
	"github.com/walletops/hookrelay/internal/logger"
)

func statusForCode(code apierrors.ErrorCode) int {
	switch code {
	case apierrors.ErrCodeBadRequest:
		return http.StatusBadRequest
	case apierrors.ErrCodeValidationFailed:
		return http.StatusUnprocessableEntity
	case apierrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apierrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apierrors.ErrCodeQueueUnavailable, apierrors.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps an error to its wire representation. Domain sentinels are
// translated first, then structured API errors; anything else is a 500 and
// gets logged with the request path.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		c.JSON(http.StatusNotFound, apierrors.NewNotFoundError("webhook not found"))
	case errors.Is(err, domain.ErrInvalidURL):
		c.JSON(http.StatusUnprocessableEntity, apierrors.NewValidationError(err.Error()))
	case errors.Is(err, domain.ErrEmptyEvents), errors.Is(err, domain.ErrUnsupportedEventType):
		c.JSON(http.StatusUnprocessableEntity, apierrors.NewValidationError(err.Error()))
	case errors.Is(err, domain.ErrQueueUnavailable):
		c.JSON(http.StatusServiceUnavailable, apierrors.NewQueueUnavailableError("delivery queue unavailable"))
	default:
		var apiErr *apierrors.APIError
		if errors.As(err, &apiErr) {
			c.JSON(statusForCode(apiErr.Code), apiErr)
			return
		}
		logger.Error(err, zap.String("path", c.Request.URL.Path))
		c.JSON(http.StatusInternalServerError, apierrors.NewInternalError("internal server error"))
	}
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, apierrors.NewBadRequestError(message))
}
