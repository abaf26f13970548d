package api

import (
	"context"
	"errors"
	"net/http"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/replay"
	"framefeed.com/pkg/common"
	"framefeed.com/pkg/xerr"
	"github.com/gin-gonic/gin"
)

type ReplayHandler struct {
	ctl ReplayControl
}

type stepReq struct {
	N int `json:"n" form:"n"`
}

type speedReq struct {
	Speed float64 `json:"speed" form:"speed" binding:"required"`
}

type stepResp struct {
	Frames []frame.Frame `json:"frames"`
	Status replay.Status `json:"status"`
}

func (h *ReplayHandler) ready(c *gin.Context) bool {
	if h.ctl == nil {
		common.Fail(c, http.StatusServiceUnavailable, common.BizUnavailable, "replay not configured")
		return false
	}
	return true
}

func (h *ReplayHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, replay.ErrInvalidSpeed):
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, err.Error()))
	case errors.Is(err, replay.ErrDriverStopped):
		common.FailErr(c, xerr.Wrap(err, xerr.ServiceUnavailable, err.Error()))
	default:
		common.FailErr(c, err)
	}
}

func (h *ReplayHandler) Status(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	common.Success(c, h.ctl.Engine().Status())
}

// Frames GET /api/replay/frames?symbol=&limit= 只返回已揭示的部分
func (h *ReplayHandler) Frames(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var q struct {
		Symbol string `form:"symbol"`
		Limit  int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "参数错误"))
		return
	}
	eng := h.ctl.Engine()
	frames := eng.GetVisibleFrames(q.Symbol, frame.ClampLimit(q.Limit))
	common.Success(c, frame.NewBatch(frame.DefaultMarket, frame.ModeOf(frames), frame.ProviderOf(frames, "replay"), frames))
}

func (h *ReplayHandler) Pause(c *gin.Context) {
	h.control(c, func(ctx context.Context) error { return h.ctl.Pause(ctx) })
}

func (h *ReplayHandler) Resume(c *gin.Context) {
	h.control(c, func(ctx context.Context) error { return h.ctl.Resume(ctx) })
}

func (h *ReplayHandler) Reset(c *gin.Context) {
	h.control(c, func(ctx context.Context) error { return h.ctl.Reset(ctx) })
}

func (h *ReplayHandler) control(c *gin.Context, fn func(ctx context.Context) error) {
	if !h.ready(c) {
		return
	}
	if err := fn(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	common.Success(c, h.ctl.Engine().Status())
}

// Step POST /api/replay/step {"n":1}，n<=0 按 1 处理
func (h *ReplayHandler) Step(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req stepReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "参数错误"))
			return
		}
	}
	if req.N <= 0 {
		req.N = 1
	}
	frames, err := h.ctl.Step(c.Request.Context(), req.N)
	if err != nil {
		h.fail(c, err)
		return
	}
	if frames == nil {
		frames = []frame.Frame{}
	}
	common.Success(c, stepResp{Frames: frames, Status: h.ctl.Engine().Status()})
}

// Speed POST /api/replay/speed {"speed":2}
func (h *ReplayHandler) Speed(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	var req speedReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailErr(c, xerr.Wrap(err, xerr.RequestParamsError, "参数错误"))
		return
	}
	if err := h.ctl.SetSpeed(c.Request.Context(), req.Speed); err != nil {
		h.fail(c, err)
		return
	}
	common.Success(c, h.ctl.Engine().Status())
}
