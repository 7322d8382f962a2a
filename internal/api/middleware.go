package api

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"

	// requests slower than this are logged at WARN
	slowRequestThreshold = 2 * time.Second
)

// requestID reuses the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("request_id", c.GetString(requestIDKey)),
		}
		switch {
		case c.Writer.Status() >= 500:
			logger.Error("request failed", fields...)
		case duration > slowRequestThreshold:
			logger.Warn("slow request", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}

// corsPolicy allows every origin with credentials. The origin is echoed back
// because a literal "*" is rejected by browsers when credentials are allowed.
// Preflights get the requested method and headers added to the allowed lists
// for the same reason.
func corsPolicy() gin.HandlerFunc {
	base := cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	standard := cors.New(base)

	return func(c *gin.Context) {
		if c.Request.Method != http.MethodOptions || c.GetHeader("Origin") == "" {
			standard(c)
			return
		}
		cfg := base
		cfg.AllowHeaders = append(slices.Clone(base.AllowHeaders), requestedHeaders(c)...)
		if m := strings.TrimSpace(c.GetHeader("Access-Control-Request-Method")); m != "" {
			cfg.AllowMethods = append(slices.Clone(base.AllowMethods), strings.ToUpper(m))
		}
		cors.New(cfg)(c)
	}
}

func requestedHeaders(c *gin.Context) []string {
	var headers []string
	for _, h := range strings.Split(c.GetHeader("Access-Control-Request-Headers"), ",") {
		if h = strings.TrimSpace(h); h != "" {
			headers = append(headers, h)
		}
	}
	return headers
}
