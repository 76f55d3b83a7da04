package middleware

import (
	"strconv"
	"time"

	"marketplace_backend/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware 请求指标中间件
func MetricsMiddleware() gin.HandlerFunc {
	collector := metrics.GetGlobalCollector()

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			// 未匹配路由不计入 endpoint 维度，避免基数爆炸
			endpoint = "unmatched"
		}

		collector.RecordHTTPRequest(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}
