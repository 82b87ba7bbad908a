package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"personalchat/internal/models"
)

const (
	identityContextKey  = "auth_identity"
	authTokenContextKey = "auth_token"
)

// Middleware validates bearer tokens and stores the authenticated identity in
// the context. Requests without a valid token are rejected.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		identity, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityContextKey, identity)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// OptionalMiddleware attaches the identity when a valid token is present and
// otherwise lets the request through as the guest session. An invalid token
// is still rejected so a caller cannot silently fall back to guest state.
func (s *Service) OptionalMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken := s.extractToken(c)
		if authToken == "" {
			c.Next()
			return
		}
		identity, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(identityContextKey, identity)
		c.Set(authTokenContextKey, authToken)
		c.Next()
	}
}

// IdentityFromContext retrieves the authenticated identity, nil for guests.
func IdentityFromContext(c *gin.Context) *models.Identity {
	val, ok := c.Get(identityContextKey)
	if !ok {
		return nil
	}
	identity, ok := val.(*models.Identity)
	if !ok {
		return nil
	}
	return identity
}

// AuthTokenFromContext retrieves the bearer token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

func (s *Service) extractToken(c *gin.Context) string {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token
	}
	return ""
}
