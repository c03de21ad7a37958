package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gachalab/internal/auth"
	"gachalab/internal/identity"
)

const ctxUserID = "uid"

// CORS echoes the request origin when it is allowed, otherwise the first
// configured origin. Preflights stop here with 204.
func (s *Server) CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", s.allowOrigin(c.GetHeader("Origin")))
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Guest-Token, X-Admin-Token")
		h.Add("Vary", "Origin")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) allowOrigin(origin string) string {
	if len(s.Cfg.AllowedOrigins) == 0 {
		return ""
	}
	for _, o := range s.Cfg.AllowedOrigins {
		if o == origin {
			return o
		}
	}
	return s.Cfg.AllowedOrigins[0]
}

// UserRequired demands a verified bearer and stores the user id.
func (s *Server) UserRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.BearerToken(c.Request)
		if token == "" || s.Identity == nil || s.Identity.Verifier == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}
		uid, err := s.Identity.Verifier.Verify(c.Request.Context(), token)
		if err != nil || uid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}
		c.Set(ctxUserID, uid)
		c.Next()
	}
}

func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.isStaticAdminToken(c.GetHeader("X-Admin-Token")) {
			c.Next()
			return
		}
		token := identity.BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED"})
			return
		}
		if s.isStaticAdminToken(token) {
			c.Next()
			return
		}
		if !s.Cfg.AdminJWTEnabled() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN"})
			return
		}
		claims, err := auth.ParseAdminToken(s.JWTSecret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "FORBIDDEN"})
			return
		}
		if err := s.validateAdminSession(c.Request.Context(), claims.SessionID); err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, errInvalidSession) {
				status = http.StatusServiceUnavailable
			}
			c.AbortWithStatusJSON(status, gin.H{"error": "SESSION_INVALID"})
			return
		}
		c.Next()
	}
}

func (s *Server) isStaticAdminToken(token string) bool {
	if token == "" || s.Cfg.AdminToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.Cfg.AdminToken)) == 1
}
