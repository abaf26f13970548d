package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"framefeed.com/pkg/metrics"
	"framefeed.com/pkg/xerr"
	"github.com/sony/gobreaker/v2"
)

type Rule struct {
	// Half-Open 状态允许通过的探测请求数
	MaxRequests uint32 `mapstructure:"max_requests"`

	// Closed 状态计数窗口
	Interval time.Duration `mapstructure:"interval"`

	// Rolling window 每个 bucket 周期（>0 启用 rolling window；<=0 用 fixed window）
	BucketPeriod time.Duration `mapstructure:"bucket_period"`

	// Open 状态持续时间，到期进入 Half-Open
	Timeout time.Duration `mapstructure:"timeout"`

	// 触发熔断条件（两种之一即可）
	TripConsecutiveFailures uint32  `mapstructure:"trip_consecutive_failures"` // 连续失败阈值
	TripFailureRate         float64 `mapstructure:"trip_failure_rate"`         // 失败率阈值（0~1）
	TripMinRequests         uint32  `mapstructure:"trip_min_requests"`         // 失败率计算的最小样本数
}

// Manager 按 target（上游名 / 路由）维护一组熔断器
type Manager struct {
	service string

	mu sync.RWMutex
	m  map[string]*gobreaker.CircuitBreaker[[]byte]

	defaultRule Rule
	rules       map[string]Rule
}

func NewManager(service string, defaultRule Rule, perTarget map[string]Rule) *Manager {
	if defaultRule.MaxRequests == 0 {
		defaultRule.MaxRequests = 5
	}
	if defaultRule.Timeout <= 0 {
		defaultRule.Timeout = 3 * time.Second
	}
	if defaultRule.Interval <= 0 {
		defaultRule.Interval = 10 * time.Second
	}
	if defaultRule.TripConsecutiveFailures == 0 && defaultRule.TripFailureRate == 0 {
		defaultRule.TripConsecutiveFailures = 10
	}
	if defaultRule.TripMinRequests == 0 {
		defaultRule.TripMinRequests = 20
	}

	return &Manager{
		service:     service,
		m:           make(map[string]*gobreaker.CircuitBreaker[[]byte], 8),
		defaultRule: defaultRule,
		rules:       perTarget,
	}
}

func (m *Manager) Get(target string) *gobreaker.CircuitBreaker[[]byte] {
	// 快路径：读锁
	m.mu.RLock()
	cb := m.m[target]
	m.mu.RUnlock()
	if cb != nil {
		return cb
	}

	// 慢路径：创建
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb = m.m[target]; cb != nil {
		return cb
	}

	rule, ok := m.rules[target]
	if !ok {
		rule = m.defaultRule
	}
	st := gobreaker.Settings{
		Name:         target,
		MaxRequests:  rule.MaxRequests,
		Interval:     rule.Interval,
		BucketPeriod: rule.BucketPeriod,
		Timeout:      rule.Timeout,

		ReadyToTrip: func(c gobreaker.Counts) bool {
			if rule.TripConsecutiveFailures > 0 && c.ConsecutiveFailures >= rule.TripConsecutiveFailures {
				return true
			}
			if rule.TripFailureRate > 0 && c.Requests >= rule.TripMinRequests {
				failRate := float64(c.TotalFailures) / float64(c.Requests)
				return failRate >= rule.TripFailureRate
			}
			return false
		},
		IsSuccessful: isSuccessfulForBreaker,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CBState.WithLabelValues(m.service, name, from.String()).Set(0)
			metrics.CBState.WithLabelValues(m.service, name, to.String()).Set(1)
		},
	}

	cb = gobreaker.NewCircuitBreaker[[]byte](st)
	m.m[target] = cb
	return cb
}

// Execute 在 target 的熔断器里跑 fn；熔断拒绝会计数
func (m *Manager) Execute(target string, fn func() ([]byte, error)) ([]byte, error) {
	out, err := m.Get(target).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CBRejectTotal.WithLabelValues(m.service, target, err.Error()).Inc()
	}
	return out, err
}

// isSuccessfulForBreaker 哪些错误不代表依赖不健康
func isSuccessfulForBreaker(err error) bool {
	if err == nil {
		return true
	}
	// 调用方主动取消不算上游故障；超时要算
	if errors.Is(err, context.Canceled) {
		return true
	}
	// 4xx（429 除外）是请求本身的问题
	return xerr.IsClientError(err)
}
