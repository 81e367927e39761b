package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/t77yq/alertd/internal/metrics"
)

// authorize requires "Authorization: Bearer <secret>". An empty configured
// secret rejects every request.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || s.secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			s.logger.Warn("Unauthorized request",
				zap.String("path", c.Request.URL.Path),
				zap.String("remote_addr", c.ClientIP()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		duration := time.Since(start)
		status := c.Writer.Status()

		metrics.HTTPRequestsTotal.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration.Seconds())

		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", duration))
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				metrics.PanicsRecovered.WithLabelValues("api").Inc()
				s.logger.Error("Handler panicked",
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", r))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
		}()
		c.Next()
	}
}
