package api

import (
	"context"
	"net/http"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/livefile"
	"framefeed.com/internal/quotes/marketdata"
	"framefeed.com/internal/quotes/replay"
	"framefeed.com/pkg/middleware"
	"framefeed.com/pkg/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// MarketData 取数入口
type MarketData interface {
	GetFrames(ctx context.Context, q marketdata.Query) (frame.Batch, error)
	GetKlines(ctx context.Context, q marketdata.Query) ([]frame.LegacyRow, error)
}

// ReplayControl 回放控制，写操作都经过 Driver 串行化
type ReplayControl interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Reset(ctx context.Context) error
	SetSpeed(ctx context.Context, x float64) error
	Step(ctx context.Context, n int) ([]frame.Frame, error)
	Engine() *replay.Engine
}

// LiveSource 文件实时源
type LiveSource interface {
	Status() livefile.Status
	Refresh(force bool) error
	Symbols(interval string) []string
}

// Deps 除 Market 外都可以为 nil，对应路由返回 503
type Deps struct {
	Name      string
	Market    MarketData
	Replay    ReplayControl
	Live      LiveSource
	WS        http.HandlerFunc
	RateLimit middleware.RateLimitConfig
	// Metrics 是否挂 /metrics（go-gin-prometheus）
	Metrics bool
}

// NewEngine 组装 gin 路由；ctx 控制限流 janitor 生命周期
func NewEngine(ctx context.Context, d Deps) *gin.Engine {
	if d.Name == "" {
		d.Name = "framefeed"
	}
	r := gin.New()
	if d.Metrics {
		p := ginprom.NewPrometheus(d.Name)
		p.Use(r)
	}
	mws := []gin.HandlerFunc{
		otelgin.Middleware(d.Name),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
	}
	if d.RateLimit.QPS > 0 {
		store := ratelimit.NewStore(rate.Limit(d.RateLimit.QPS), d.RateLimit.Burst, d.RateLimit.TTL)
		store.StartJanitor(ctx, time.Minute)
		mws = append(mws, middleware.RateLimit(d.Name, store))
	}
	r.Use(mws...)

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if d.WS != nil {
		r.GET("/ws", gin.WrapF(d.WS))
	}

	api := r.Group("/api")
	Market(api, &MarketHandler{svc: d.Market})
	Replay(api, &ReplayHandler{ctl: d.Replay})
	Live(api, &LiveHandler{src: d.Live})
	return r
}

func NewServer(ctx context.Context, addr string, d Deps) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewEngine(ctx, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// ws 长连接不受 WriteTimeout 限制（hijack 之后由 conn 自己管 deadline）
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

func Market(api *gin.RouterGroup, h *MarketHandler) {
	market := api.Group("/market")
	{
		market.GET("/frames", h.Frames)
		market.GET("/klines", h.Klines)
	}
}

func Replay(api *gin.RouterGroup, h *ReplayHandler) {
	rp := api.Group("/replay")
	{
		rp.GET("/status", h.Status)
		rp.GET("/frames", h.Frames)
		rp.POST("/pause", h.Pause)
		rp.POST("/resume", h.Resume)
		rp.POST("/reset", h.Reset)
		rp.POST("/step", h.Step)
		rp.POST("/speed", h.Speed)
	}
}

func Live(api *gin.RouterGroup, h *LiveHandler) {
	live := api.Group("/live")
	{
		live.GET("/status", h.Status)
		live.GET("/symbols", h.Symbols)
		live.POST("/refresh", h.Refresh)
	}
}
