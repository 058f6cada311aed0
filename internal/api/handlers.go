package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/wikiclip/internal/account"
	"github.com/vyrodovalexey/wikiclip/internal/auth"
	"github.com/vyrodovalexey/wikiclip/internal/observability"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

type emailRequest struct {
	Email string `json:"email" binding:"required"`
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

type userResponse struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PendingEmail string    `json:"pending_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toUserResponse(u *account.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, PendingEmail: u.PendingEmail, CreatedAt: u.CreatedAt}
}

type meResponse struct {
	User     userResponse `json:"user"`
	AuthType string       `json:"auth_type"`
	Expires  time.Time    `json:"expires_at"`
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// identity returns the identity the session guard attached. PolicyTable
// refuses overrides that strip that guard, so a miss here is a bug.
func identity(c *gin.Context) *auth.Identity {
	id, ok := auth.IdentityFromContext(c.Request.Context())
	if !ok {
		panic("handler requires an identity but the route has no session policy")
	}
	return id
}

func (a *API) meta(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.checks))
	for name, check := range a.checks {
		if err := check(ctx); err != nil {
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			a.logger.Warn("health check failed", observability.String("check", name), observability.Error(err))
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(status, gin.H{"result": gin.H{
		"name":        a.name,
		"version":     a.version,
		"description": "WikiClip authentication gate",
		"time":        time.Now().UTC().Format(time.RFC3339),
		"checks":      checks,
	}})
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := a.accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(u))
}

func (a *API) token(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := a.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *API) logout(c *gin.Context) {
	if err := a.accounts.Logout(c.Request.Context(), identity(c)); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) me(c *gin.Context) {
	id := identity(c)
	u, err := a.accounts.Me(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, meResponse{User: toUserResponse(u), AuthType: string(id.AuthType), Expires: id.ExpiresAt})
}

func (a *API) changePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := a.accounts.ChangePassword(c.Request.Context(), identity(c), req.CurrentPassword, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) issueUserKey(c *gin.Context) {
	s, err := a.accounts.IssueUserKey(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (a *API) revokeTokens(c *gin.Context) {
	n, err := a.accounts.RevokeAllTokens(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

func (a *API) requestEmailChange(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := a.accounts.RequestEmailChange(c.Request.Context(), identity(c), req.Email); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// forgotPassword always answers 202 once the body parses, whether or not
// the address belongs to a user.
func (a *API) forgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := a.accounts.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		a.logger.Error("password reset request failed",
			observability.String("request_id", observability.RequestIDFromContext(c.Request.Context())),
			observability.Error(err))
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "if the address is registered, a reset link has been sent"})
}

// resetPassword runs after the gate consumed the reset token. The new
// password comes only from the JSON body, never the URL; without one a
// temporary password is generated and mailed.
func (a *API) resetPassword(c *gin.Context) {
	var req resetPasswordRequest
	if c.Request.ContentLength != 0 && c.Request.Body != nil {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
	}

	generated, err := a.accounts.ResetPassword(c.Request.Context(), identity(c), req.NewPassword)
	if err != nil {
		respondError(c, err)
		return
	}
	msg := "password updated"
	if generated {
		msg = "a temporary password has been sent by email"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "generated": generated})
}

func (a *API) confirmEmail(c *gin.Context) {
	u, err := a.accounts.ConfirmEmailChange(c.Request.Context(), identity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(u))
}
