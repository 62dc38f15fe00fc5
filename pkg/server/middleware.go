package server

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestLogger logs every finished request. Streams are logged when the client
// goes away.
func RequestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()

	level := slog.LevelDebug
	if c.Writer.Status() >= 500 {
		level = slog.LevelWarn
	}
	slog.Log(c.Request.Context(), level, "HTTP request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"client", c.ClientIP(),
		"duration", time.Since(start),
	)
}
