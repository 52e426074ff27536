package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// securityHeaders sets the fixed response headers on every /api response: MIME
// sniffing, framing, and the legacy XSS-filter header. The /ws route and the
// basePath routes mounted by Router.Handler do not pass through it.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// corsMiddleware allows any origin to call the control API with the method/header set
// the control plane actually uses, answering preflight OPTIONS requests directly.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// apiKeyAuth rejects requests lacking a matching shared secret in Authorization
// (Bearer or ApiKey scheme) or X-API-Key. A blank key disables the check entirely,
// matching the "when configured with a shared secret" conditioning in the spec.
func apiKeyAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		if presented, ok := bearerOrAPIKey(c); ok && presented == key {
			c.Next()
			return
		}
		writeJSON(c, http.StatusUnauthorized, errorResp{Error: "missing or invalid API key"})
		c.Abort()
	}
}

func bearerOrAPIKey(c *gin.Context) (string, bool) {
	if v := c.GetHeader("X-API-Key"); v != "" {
		return v, true
	}
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return "", false
	}
	if v, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return v, true
	}
	if v, ok := strings.CutPrefix(auth, "ApiKey "); ok {
		return v, true
	}
	return "", false
}
