package server

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// loggerMiddleware 请求日志中间件
// 说明：4XX按警告、5XX按错误记录，健康检查等正常请求仅在调试级别可见
func loggerMiddleware(c *gin.Context) {
	method := c.Request.Method
	path := c.Request.URL.Path

	start := time.Now()
	c.Next()
	stop := time.Since(start)

	statusCode := c.Writer.Status()
	entry := log.WithFields(logrus.Fields{
		"statusCode": statusCode,
		"latency":    int(math.Ceil(float64(stop.Nanoseconds()) / 1000000.0)),
		"clientIP":   c.ClientIP(),
	})

	if statusCode >= http.StatusInternalServerError {
		entry.Errorf("[%s] [%s] - 5XX internal error", method, path)
	} else if statusCode >= http.StatusBadRequest {
		entry.Warnf("[%s] [%s] - 4XX request error", method, path)
	} else {
		entry.Debugf("[%s] [%s]", method, path)
	}
}
