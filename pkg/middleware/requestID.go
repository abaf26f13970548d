package middleware

import (
	"context"

	"framefeed.com/pkg/common"
	"framefeed.com/pkg/logger"
	"github.com/gin-gonic/gin"
)

func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(common.HeaderRequestID)
		if rid == "" {
			rid = common.New()
		}
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)
		// request id 写入 request context，logger 从 ctx 里取
		ctx := context.WithValue(c.Request.Context(), logger.RequestIdKey, rid)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
