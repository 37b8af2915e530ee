package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/peer-eval-api/internal/models"
	appErrors "github.com/noah-isme/peer-eval-api/pkg/errors"
	"github.com/noah-isme/peer-eval-api/pkg/logger"
	"github.com/noah-isme/peer-eval-api/pkg/response"
)

const (
	// ContextPrincipalKey is the gin context key storing the authenticated principal.
	ContextPrincipalKey = "currentPrincipal"
	// ContextClaimsKey is the gin context key storing the validated session claims.
	ContextClaimsKey = "sessionClaims"
)

// SessionValidator checks a raw session token.
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*models.SessionClaims, error)
}

// SessionCookie names the cookie carrying the session token.
type SessionCookie struct {
	Name   string
	Secure bool
}

// Session protects routes by requiring a live session, read from the session cookie or an
// Authorization bearer header. An aged-out session also clears the cookie.
func Session(sessions SessionValidator, cookie SessionCookie) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := sessionToken(c, cookie.Name)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		claims, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, appErrors.ErrSessionExpired) {
				ClearCookie(c, cookie)
			}
			response.Error(c, err)
			c.Abort()
			return
		}

		c.Set(ContextClaimsKey, claims)
		c.Set(ContextPrincipalKey, claims.Principal())
		c.Set(logger.PrincipalKey, claims.PrincipalID)
		c.Next()
	}
}

// ClearCookie expires the session cookie on the client.
func ClearCookie(c *gin.Context, cookie SessionCookie) {
	if cookie.Name == "" {
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(cookie.Name, "", -1, "/", "", cookie.Secure, true)
}

func sessionToken(c *gin.Context, cookieName string) (string, error) {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if cookieName != "" {
		if value, err := c.Cookie(cookieName); err == nil && value != "" {
			return value, nil
		}
	}
	return "", appErrors.Clone(appErrors.ErrUnauthorized, "sign in required")
}

// CurrentPrincipal returns the principal stored by Session.
func CurrentPrincipal(c *gin.Context) (models.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return models.Principal{}, false
	}
	principal, ok := value.(models.Principal)
	return principal, ok
}

// CurrentClaims returns the session claims stored by Session.
func CurrentClaims(c *gin.Context) *models.SessionClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*models.SessionClaims)
	return claims
}
