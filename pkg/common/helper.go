package common

import (
	"errors"
	"net/http"

	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 业务码：前三位模块，后四位序号
const (
	BizParamsError     = 1001001
	BizNotFound        = 1001004
	BizTooManyRequests = 1003001
	BizUnavailable     = 1004001
	BizUpstreamError   = 1004002
	BizInternalError   = 5000000
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

func FailLogged(c *gin.Context, httpStatus int, code int, msg string, err error) {
	logger.Warn(c, "http error",
		zap.String("request_id", RequestIDFromGin(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	)
	Fail(c, httpStatus, code, msg)
}

// FailErr 对外只回 biz_code + message（data=null），不透出内部错误信息
func FailErr(c *gin.Context, err error) {
	biz, msg, httpStatus := mapErrToHTTPBiz(err)
	FailLogged(c, httpStatus, biz, msg, err)
}

func mapErrToHTTPBiz(err error) (biz int, msg string, httpStatus int) {
	var ce *xerr.CodeError
	if !errors.As(err, &ce) {
		return BizInternalError, "internal error", http.StatusInternalServerError
	}
	switch ce.Code {
	case xerr.RequestParamsError:
		return BizParamsError, ce.Msg, http.StatusBadRequest
	case xerr.RecordNotFound:
		return BizNotFound, ce.Msg, http.StatusNotFound
	case xerr.TooManyRequests:
		return BizTooManyRequests, xerr.MapErrMsg(ce.Code), http.StatusTooManyRequests
	case xerr.ServiceUnavailable:
		return BizUnavailable, ce.Msg, http.StatusServiceUnavailable
	case xerr.UpstreamError, xerr.UpstreamTimeout:
		return BizUpstreamError, xerr.MapErrMsg(ce.Code), http.StatusBadGateway
	default:
		return BizInternalError, "internal error", http.StatusInternalServerError
	}
}
