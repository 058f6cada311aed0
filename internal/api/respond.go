package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/wikiclip/internal/account"
	"github.com/vyrodovalexey/wikiclip/internal/auth"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	// unauthorizedBody is the same for every authentication failure, so
	// the response never says which check failed or why.
	unauthorizedBody = ErrorBody{Error: "unauthorized", Message: "authentication required"}

	unavailableBody = ErrorBody{Error: "service_unavailable", Message: "credential store unavailable"}
)

// AbortAuth answers a failed gate check. It is the composer's error
// handler.
func AbortAuth(c *gin.Context, err error) {
	if auth.IsUnavailable(err) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, unavailableBody)
		return
	}
	c.Header("WWW-Authenticate", `Bearer realm="wikiclip"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, unauthorizedBody)
}

// respondError maps a handler error to a status and body.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)

	var locked *account.LockedError
	switch {
	case errors.As(err, &locked):
		secs := int(locked.RetryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusLocked, ErrorBody{Error: "locked", Message: "account temporarily locked"})
	case errors.Is(err, auth.ErrUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, unavailableBody)
	case errors.Is(err, account.ErrInvalidLogin):
		AbortAuth(c, err)
	case errors.Is(err, account.ErrEmailTaken):
		c.AbortWithStatusJSON(http.StatusConflict, ErrorBody{Error: "email_taken", Message: "email address already in use"})
	case errors.Is(err, account.ErrNoPendingEmail):
		c.AbortWithStatusJSON(http.StatusConflict, ErrorBody{Error: "no_pending_email", Message: "no email change is pending"})
	case errors.Is(err, account.ErrInvalidEmail):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: "invalid_email", Message: "invalid email address"})
	case errors.Is(err, account.ErrWeakPassword):
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{
			Error:   "weak_password",
			Message: "password must be 8 to 72 bytes with upper and lower case letters",
		})
	case errors.Is(err, account.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorBody{Error: "not_found", Message: "user not found"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorBody{Error: "internal_error", Message: "an unexpected error occurred"})
	}
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err).SetType(gin.ErrorTypeBind)
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: "bad_request", Message: "malformed request body"})
}
