package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"framefeed.com/internal/quotes/frame"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"framefeed.com/pkg/ratelimit"
	"framefeed.com/pkg/xerr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	Provider = "upstream-proxy"

	breakerTarget = "upstream-frames"
	// 响应体上限，防止异常上游把内存打满
	maxBodyBytes = 16 << 20
)

type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
	// QPS <=0 不限流
	QPS   float64 `mapstructure:"qps"`
	Burst int     `mapstructure:"burst"`
	// Breaker 熔断规则，零值用 ratelimit 默认
	Breaker ratelimit.Rule `mapstructure:"breaker"`
}

// Client 上游代理：GET <base>?symbol=&interval=&limit=，可选 bearer token
type Client struct {
	cfg     Config
	hc      *http.Client
	breaker *ratelimit.Manager
	limiter *ratelimit.Store
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	c := &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: cfg.Timeout},
		breaker: ratelimit.NewManager("upstream", cfg.Breaker, nil),
	}
	if cfg.QPS > 0 {
		c.limiter = ratelimit.NewStore(rate.Limit(cfg.QPS), cfg.Burst, 0)
	}
	return c
}

func (c *Client) Configured() bool { return c != nil && c.cfg.BaseURL != "" }

// FetchFrames 拉取并归一化；frames 统一打上 mode=real / provider=upstream-proxy
func (c *Client) FetchFrames(ctx context.Context, symbol, interval string, limit int) ([]frame.Frame, error) {
	if !c.Configured() {
		return nil, xerr.New(xerr.ServiceUnavailable, "upstream not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, breakerTarget); err != nil {
			metrics.UpstreamFetchTotal.WithLabelValues("rejected").Inc()
			return nil, xerr.Wrap(err, xerr.TooManyRequests, "upstream rate limited")
		}
	}

	start := time.Now()
	body, err := c.breaker.Execute(breakerTarget, func() ([]byte, error) {
		return c.get(ctx, symbol, interval, limit)
	})
	metrics.UpstreamFetchSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamFetchTotal.WithLabelValues("error").Inc()
		logger.Warn(ctx, "upstream fetch failed",
			zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
		return nil, err
	}

	frames := frame.NormalizePayload(body, frame.Context{
		Symbol:   symbol,
		Interval: interval,
		Provider: Provider,
		Mode:     frame.ModeReal,
	})
	if len(frames) == 0 {
		metrics.UpstreamFetchTotal.WithLabelValues("empty").Inc()
	} else {
		metrics.UpstreamFetchTotal.WithLabelValues("ok").Inc()
	}
	return frames, nil
}

func (c *Client) get(ctx context.Context, symbol, interval string, limit int) ([]byte, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, xerr.Wrap(err, xerr.ServiceUnavailable, "bad upstream url")
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, xerr.Wrap(err, xerr.UpstreamTimeout, "upstream timeout")
		}
		return nil, xerr.Wrap(err, xerr.UpstreamError, "upstream request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, xerr.Wrap(err, xerr.UpstreamError, "read upstream body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := xerr.UpstreamError
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			code = resp.StatusCode
		}
		return nil, xerr.New(code, fmt.Sprintf("upstream status %d", resp.StatusCode))
	}
	return body, nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
