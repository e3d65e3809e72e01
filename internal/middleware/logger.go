package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}
		c.Set("trace_id", traceID)
		c.Header("X-Trace-ID", traceID)

		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Printf("trace=%s method=%s path=%s status=%d latency=%s user=%q errors=%q",
			traceID, method, path, c.Writer.Status(), time.Since(start), c.GetString("user_name"), c.Errors.ByType(gin.ErrorTypeAny).String())
	}
}
