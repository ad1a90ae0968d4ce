package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/studio-ingest/internal/domain/media"
	"github.com/yungbote/studio-ingest/internal/platform/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	apiErr := APIError{Message: msg, Code: code}
	var ve *media.ValidationError
	if errors.As(err, &ve) {
		apiErr.Field = ve.Field
	}
	c.JSON(status, ErrorEnvelope{Error: apiErr})
}

// RespondDomainError picks the status from the error type.
func RespondDomainError(c *gin.Context, err error) {
	var ae *apierr.Error
	var ve *media.ValidationError
	switch {
	case errors.As(err, &ae) && ae.Status != 0:
		RespondError(c, ae.Status, ae.Code, err)
	case errors.As(err, &ve):
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
	case media.IsRateLimited(err):
		RespondError(c, http.StatusTooManyRequests, "upstream_throttled", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal", err)
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
