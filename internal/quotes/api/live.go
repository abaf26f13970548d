package api

import (
	"net/http"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/common"
	"github.com/gin-gonic/gin"
)

type LiveHandler struct {
	src LiveSource
}

func (h *LiveHandler) ready(c *gin.Context) bool {
	if h.src == nil {
		common.Fail(c, http.StatusServiceUnavailable, common.BizUnavailable, "live file not configured")
		return false
	}
	return true
}

func (h *LiveHandler) Status(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	common.Success(c, h.src.Status())
}

// Symbols GET /api/live/symbols?interval=1m
func (h *LiveHandler) Symbols(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	interval := c.DefaultQuery("interval", frame.DefaultInterval)
	syms := h.src.Symbols(interval)
	if syms == nil {
		syms = []string{}
	}
	common.Success(c, syms)
}

// Refresh POST /api/live/refresh 强制重读；失败时旧数据仍然可用
func (h *LiveHandler) Refresh(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	if err := h.src.Refresh(true); err != nil {
		common.FailLogged(c, http.StatusServiceUnavailable, common.BizUnavailable, err.Error(), err)
		return
	}
	common.Success(c, h.src.Status())
}
