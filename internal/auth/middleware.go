package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/WISVCH/CHPay-sub001/internal/api"
)

const (
	ctxUserID = "user_id"
	ctxEmail  = "user_email"
	ctxRole   = "user_role"
)

var (
	errNoAuthHeader = errors.New("authorization header required")
	errBadScheme    = errors.New("bearer token required")
)

// IdentityResolver maps an authenticated identity to a local user id,
// registering the user on first sight.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, id Identity) (uuid.UUID, error)
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errNoAuthHeader
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errBadScheme
	}
	return token, nil
}

// AuthMiddleware validates the bearer token and stores the local user id,
// email and role on the request context.
func AuthMiddleware(secret string, resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			api.Abort(c, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := ValidateToken(token, secret)
		if errors.Is(err, ErrTokenExpired) {
			api.Abort(c, http.StatusUnauthorized, "token expired")
			return
		}
		if err != nil {
			api.Abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		userID, err := resolver.ResolveIdentity(c.Request.Context(), claims.Identity())
		if err != nil {
			api.Abort(c, http.StatusInternalServerError, "failed to resolve user")
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxEmail, claims.Email)
		c.Set(ctxRole, claims.Role)
		c.Next()
	}
}

func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.GetString(ctxRole) {
		case role:
			c.Next()
		case "":
			api.Abort(c, http.StatusUnauthorized, "not authenticated")
		default:
			api.Abort(c, http.StatusForbidden, "insufficient permissions")
		}
	}
}

func GetUserID(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
