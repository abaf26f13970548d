package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义（HTTP 语义 + 业务码）
const (
	OK                 = 200
	RequestParamsError = 400
	RecordNotFound     = 404
	TooManyRequests    = 429
	ServerCommonError  = 500
	UpstreamError      = 502
	ServiceUnavailable = 503
	UpstreamTimeout    = 504
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	// cause 不对外序列化，只用于 errors.Is/As 链路
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给 err 打上错误码，原始 err 仍可通过 errors.Is/As 取到
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// CodeOf 取错误链上第一个 CodeError 的 code；没有则返回 ServerCommonError
func CodeOf(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ServerCommonError
}

// IsClientError 4xx（429 除外）表示请求本身的问题，不代表依赖不健康
func IsClientError(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code >= 400 && ce.Code < 500 && ce.Code != TooManyRequests
}

func MapErrMsg(code int) string {
	switch code {
	case RequestParamsError:
		return "参数错误"
	case RecordNotFound:
		return "记录不存在"
	case TooManyRequests:
		return "请求过于频繁"
	case ServerCommonError:
		return "服务器开小差了"
	case UpstreamError:
		return "上游数据源异常"
	case ServiceUnavailable:
		return "服务暂不可用"
	case UpstreamTimeout:
		return "上游数据源超时"
	default:
		return "未知错误"
	}
}
