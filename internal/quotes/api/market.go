package api

import (
	"errors"
	"net/http"

	"framefeed.com/internal/quotes/marketdata"
	"framefeed.com/pkg/common"
	"framefeed.com/pkg/xerr"
	"github.com/gin-gonic/gin"
)

// BizLiveFramesUnavailable strict-live 无真实数据
const BizLiveFramesUnavailable = 1004003

type MarketHandler struct {
	svc MarketData
}

func (h *MarketHandler) query(c *gin.Context) (marketdata.Query, bool) {
	var q marketdata.Query
	if err := c.ShouldBindQuery(&q); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "参数错误"))
		return q, false
	}
	if q.Symbol == "" {
		common.FailErr(c, xerr.New(xerr.RequestParamsError, "symbol is required"))
		return q, false
	}
	return q, true
}

func (h *MarketHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, marketdata.ErrLiveFramesUnavailable) {
		common.FailLogged(c, http.StatusServiceUnavailable, BizLiveFramesUnavailable, err.Error(), err)
		return
	}
	common.FailErr(c, err)
}

// Frames GET /api/market/frames?symbol=&interval=&limit=&source=&strict_live=
func (h *MarketHandler) Frames(c *gin.Context) {
	q, ok := h.query(c)
	if !ok {
		return
	}
	b, err := h.svc.GetFrames(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.Success(c, b)
}

// Klines GET /api/market/klines 老格式
func (h *MarketHandler) Klines(c *gin.Context) {
	q, ok := h.query(c)
	if !ok {
		return
	}
	rows, err := h.svc.GetKlines(c.Request.Context(), q)
	if err != nil {
		h.fail(c, err)
		return
	}
	common.Success(c, rows)
}
