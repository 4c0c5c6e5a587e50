package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"lexchat/internal/apperr"
)

const (
	userIDContextKey    = "auth_user_id"
	authTokenContextKey = "auth_token"
	viaCookieContextKey = "auth_via_cookie"
)

// Middleware validates bearer or cookie tokens and stores the authenticated user in the context.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authToken, viaCookie := s.extractToken(c)
		if authToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), authToken)
		if err != nil {
			if errors.Is(err, apperr.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		c.Set(userIDContextKey, userID)
		c.Set(authTokenContextKey, authToken)
		c.Set(viaCookieContextKey, viaCookie)
		c.Next()
	}
}

// CSRFMiddleware enforces double-submit protection on unsafe methods for
// sessions that arrived in a cookie. It must run after Middleware; requests
// Middleware authenticated by bearer token pass through.
func (s *Service) CSRFMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if safeMethod(c.Request.Method) {
			c.Next()
			return
		}
		if _, authenticated := c.Get(viaCookieContextKey); authenticated && !c.GetBool(viaCookieContextKey) {
			c.Next()
			return
		}
		headerToken := c.GetHeader(s.csrfHeaderName)
		cookieToken, _ := c.Cookie(s.csrfCookieName)
		if headerToken == "" || cookieToken == "" ||
			subtle.ConstantTimeCompare([]byte(headerToken), []byte(cookieToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing or mismatched csrf token"})
			return
		}
		c.Next()
	}
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// UserIDFromContext retrieves the authenticated user id from the gin context.
func UserIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(userIDContextKey)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok && userID != ""
}

// AuthTokenFromContext retrieves the token captured by the middleware.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(authTokenContextKey)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// extractToken prefers the Authorization header; viaCookie reports the fallback.
func (s *Service) extractToken(c *gin.Context) (token string, viaCookie bool) {
	authHeader := c.GetHeader(s.headerName)
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:]), false
	}
	if token, err := c.Cookie(s.cookieName); err == nil && token != "" {
		return token, true
	}
	return "", false
}

// SetSessionCookies writes the session and CSRF cookies after login.
func (s *Service) SetSessionCookies(c *gin.Context, token, csrfToken string) {
	maxAge := int(s.tokenTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, token, maxAge, "/", "", s.secure, true)
	c.SetCookie(s.csrfCookieName, csrfToken, maxAge, "/", "", s.secure, false)
}

// ClearSessionCookies expires both cookies.
func (s *Service) ClearSessionCookies(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cookieName, "", -1, "/", "", s.secure, true)
	c.SetCookie(s.csrfCookieName, "", -1, "/", "", s.secure, false)
}
