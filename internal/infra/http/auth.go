package http

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const apiKeyScheme = "api-key "

// requireGatewayKey checks "Authorization: Api-Key <key>" against the
// configured gateway keys. Every key is compared so timing does not reveal
// which one matched.
func (s *Server) requireGatewayKey(c *gin.Context) (string, bool) {
	key := extractAPIKey(c.GetHeader("Authorization"))
	if key == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication credentials were not provided."})
		return "", false
	}
	matched := 0
	for _, allowed := range s.gatewayKeys {
		matched |= subtle.ConstantTimeCompare([]byte(key), allowed)
	}
	if matched != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key."})
		return "", false
	}
	return key, true
}

func extractAPIKey(value string) string {
	value = strings.TrimSpace(value)
	if len(value) < len(apiKeyScheme) || !strings.EqualFold(value[:len(apiKeyScheme)], apiKeyScheme) {
		return ""
	}
	return strings.TrimSpace(value[len(apiKeyScheme):])
}

// keyFingerprint keeps raw API keys out of rate limiter keys.
func keyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

func (s *Server) requireAdmin(c *gin.Context) {
	if s.adminAPIKey == "" {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "admin key required")
		return
	}
	key := c.GetHeader("X-Admin-Key")
	if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.adminAPIKey)) != 1 {
		writeErrorCode(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin key")
		return
	}
	if s.registry == nil {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "registry unavailable")
	}
}
