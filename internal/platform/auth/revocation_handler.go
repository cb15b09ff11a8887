package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/telecare/telecare/internal/platform/apperr"
)

// LogoutHandler revokes the bearer token used for the request. Tokens without
// a jti cannot be revoked and are rejected with a validation error.
func LogoutHandler(list *RevocationList) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := IdentityFromContext(c.Request().Context())
		if id == nil {
			return apperr.Unauthorized("Unauthorized")
		}
		if id.TokenID == "" {
			return apperr.Validation("Token cannot be revoked")
		}

		expiresAt := id.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = time.Now().Add(24 * time.Hour)
		}
		if err := list.Revoke(c.Request().Context(), id.TokenID, id.UserID, expiresAt); err != nil {
			return apperr.Internal("revoke token", err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	}
}
