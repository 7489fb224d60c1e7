package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins  []string
	AllowAllOrigins bool
	// MaxAge lets browsers cache a preflight answer. Zero omits the header.
	MaxAge time.Duration
}

// The browser client uploads through presigned URLs and only talks to this
// API for upload completion, status reads and the notification stream.
var (
	corsAllowMethods  = strings.Join([]string{http.MethodGet, http.MethodPost, http.MethodOptions}, ", ")
	corsAllowHeaders  = strings.Join([]string{"Content-Type", "Authorization", "Cache-Control", "Last-Event-ID", OwnerHeader, RequestIDHeader}, ", ")
	corsExposeHeaders = RequestIDHeader
)

// originSet matches origins case-insensitively. An empty set admits any origin.
type originSet map[string]struct{}

func newOriginSet(origins []string) (originSet, bool) {
	set := make(originSet, len(origins))
	for _, o := range origins {
		o = strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
		if o == "*" {
			return nil, true
		}
		if o != "" {
			set[o] = struct{}{}
		}
	}
	return set, len(set) == 0
}

func (s originSet) has(origin string) bool {
	_, ok := s[strings.ToLower(origin)]
	return ok
}

// CORS returns a middleware that handles Cross-Origin Resource Sharing.
// With AllowAllOrigins the wildcard is sent and credentials are off; otherwise
// a matching origin is echoed back with credentials. Requests from other
// origins pass through without CORS headers and preflights for them get 403.
func CORS(config CORSConfig) gin.HandlerFunc {
	origins, anyOrigin := newOriginSet(config.AllowedOrigins)
	maxAge := ""
	if config.MaxAge > 0 {
		maxAge = strconv.Itoa(int(config.MaxAge / time.Second))
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		switch {
		case config.AllowAllOrigins:
			h.Set("Access-Control-Allow-Origin", "*")
		case anyOrigin || origins.has(origin):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		default:
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if c.Request.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			if maxAge != "" {
				h.Set("Access-Control-Max-Age", maxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
