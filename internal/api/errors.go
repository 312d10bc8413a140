package api

import (
	"net/http"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock, apperr.KindInsufficientCashback,
		apperr.KindInvalidStateTransition, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindExcessiveDiscount:
		return http.StatusUnprocessableEntity
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as JSON. Internal errors hide their cause from the
// client and are logged instead.
func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	body := gin.H{"error": kind}

	e, ok := apperr.As(err)
	switch {
	case status == http.StatusInternalServerError:
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["message"] = "internal error"
	case ok:
		body["message"] = e.Message
		if len(e.Fields) > 0 {
			body["fields"] = e.Fields
		}
		if len(e.Details) > 0 {
			body["details"] = e.Details
		}
		if e.Retryable() {
			body["retryable"] = true
		}
	default:
		body["message"] = err.Error()
	}

	c.AbortWithStatusJSON(status, body)
}
