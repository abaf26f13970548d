package middleware

import (
	"net/http"
	"runtime/debug"

	"framefeed.com/pkg/common"
	"framefeed.com/pkg/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func Recover() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error(c, "http panic",
					zap.String("request_id", common.RequestIDFromGin(c)),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", err),
					zap.ByteString("stack", debug.Stack()),
				)
				common.Fail(c, http.StatusInternalServerError, common.BizInternalError, "internal error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
