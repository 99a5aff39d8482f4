package http

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pathledger/internal/domain"
)

const (
	routeGatewayTelemetry = "telemetry:gateway"
	routeEventsVerify     = "events:verify"
)

// enforceRateLimit applies the fixed-window limit to one caller on one route.
// Limiter outages let traffic through unless the server is configured to
// fail closed.
func (s *Server) enforceRateLimit(c *gin.Context, routeID, caller string) bool {
	if s.rateLimiter == nil || s.rateLimitRequests <= 0 {
		return true
	}
	key := fmt.Sprintf("caller:%s:endpoint:%s", caller, routeID)
	decision, err := s.rateLimiter.Allow(c.Request.Context(), key, s.rateLimitRequests, s.rateLimitWindow)
	if err != nil {
		s.log.Warn("rate limiter unavailable", "route", routeID, "err", err)
		if s.rateLimitFailClosed {
			s.rejectRateLimited(c, routeID, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable")
			return false
		}
		return true
	}
	writeRateLimitHeaders(c, decision)
	if !decision.Allowed {
		s.rejectRateLimited(c, routeID, "RATE_LIMITED", "rate limit exceeded")
		return false
	}
	return true
}

// Gateways only understand {"error": ...} bodies.
func (s *Server) rejectRateLimited(c *gin.Context, routeID, code, message string) {
	if routeID == routeGatewayTelemetry {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": message})
		return
	}
	writeErrorCode(c, http.StatusTooManyRequests, code, message)
}

func writeRateLimitHeaders(c *gin.Context, decision domain.RateLimitDecision) {
	if decision.Limit > 0 {
		c.Header("RateLimit-Limit", strconv.Itoa(decision.Limit))
	}
	if decision.Remaining >= 0 {
		c.Header("RateLimit-Remaining", strconv.Itoa(decision.Remaining))
	}
	if !decision.ResetAt.IsZero() {
		c.Header("RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			retryAfter := int64(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
		}
	}
}
