package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"framefeed.com/internal/quotes/api"
	"framefeed.com/internal/quotes/frame"
	"framefeed.com/internal/quotes/gateway"
	"framefeed.com/internal/quotes/history"
	"framefeed.com/internal/quotes/livefile"
	"framefeed.com/internal/quotes/marketdata"
	"framefeed.com/internal/quotes/mock"
	"framefeed.com/internal/quotes/replay"
	"framefeed.com/internal/quotes/storage/influxsink"
	"framefeed.com/internal/quotes/upstream"
	"framefeed.com/internal/quotes/ws"
	"framefeed.com/pkg/bootstrap"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/orm"
	"framefeed.com/pkg/safe"
	"framefeed.com/pkg/trace"
	"framefeed.com/pkg/xredis"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Run 启动 framefeed：外层只需传入 ctx 和可选的配置文件路径
func Run(ctx context.Context, configFile string) error {
	cfg := &Cfg{}
	return bootstrap.Run(ctx, bootstrap.Options{
		ConfigName: ServiceName,
		ConfigPtr:  cfg,
		ConfigFile: configFile,
		LogConfig: func(_ interface{}) logger.Config {
			cfg.withDefaults()
			return cfg.Log
		},
		InitTracer: func(_ interface{}) (func(context.Context) error, error) {
			if cfg.Trace.Endpoint == "" {
				return nil, nil
			}
			return trace.InitTrace(cfg.Name, cfg.Trace.Endpoint)
		},
		BuildServer: func(c context.Context, _ interface{}) (*http.Server, func(), error) {
			a, err := Build(c, cfg)
			if err != nil {
				return nil, nil, err
			}
			return a.Server(c), a.Close, nil
		},
		MetricsAddr: func(_ interface{}) string { return cfg.MetricsAddr },
		PprofAddr:   func(_ interface{}) string { return cfg.PprofAddr },
	})
}

// App 组装好的组件；可选组件没配置时为 nil
type App struct {
	cfg *Cfg

	Market  *marketdata.Service
	Driver  *replay.Driver
	Live    *livefile.Provider
	Hub     *ws.Hub
	Gateway *gateway.Gateway

	wsServer *ws.Server
	group    *safe.Group
	closers  []func()
}

// Build 按配置装配全部组件并启动后台任务；ctx 结束或 Close 时全部停止
func Build(ctx context.Context, cfg *Cfg) (*App, error) {
	cfg.withDefaults()
	a := &App{cfg: cfg, group: safe.NewGroup(ctx)}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	opts := marketdata.Options{
		Market:       cfg.Market.Market,
		ProviderMode: cfg.Market.ProviderMode,
		StrictLive:   cfg.Market.StrictLive,
		CacheTTL:     cfg.Market.CacheTTL,
		Mock:         mock.New(),
	}

	if cfg.Upstream.BaseURL != "" {
		opts.Upstream = upstream.New(cfg.Upstream)
	}

	var (
		rdb *redis.Client
		err error
	)
	if cfg.Redis.Enabled() {
		if rdb, err = xredis.NewRedis(&cfg.Redis); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		opts.Cache = marketdata.NewRedisCache(rdb, cfg.Name)
		a.every("redis-pool-stats", 5*time.Second, func() { xredis.ReportPoolStats(rdb) })
	}

	var repo *history.Repo
	if cfg.History.MySQL.Enabled() {
		if repo, err = a.openRepo(&cfg.History.MySQL); err != nil {
			return nil, err
		}
	}

	if opts.DailyHistory, err = loadDaily(ctx, cfg, repo); err != nil {
		return nil, err
	}
	replayBatch, err := loadReplay(ctx, cfg, repo)
	if err != nil {
		return nil, err
	}

	// 推送：ws hub，可选 NATS broker
	a.Hub = ws.NewHub()
	a.wsServer = ws.NewServer(ctx, a.Hub)
	var broker gateway.Broker
	if cfg.NATS.URL != "" {
		nb, err := gateway.NewNatsBroker(cfg.NATS.URL, nats.Name(cfg.Name), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		broker = nb
		a.closers = append(a.closers, func() { _ = nb.Close() })
	}
	a.Gateway = gateway.NewGateway(a.Hub, broker)
	a.group.Go("gateway", func(ctx context.Context) {
		if err := a.Gateway.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error(ctx, "gateway stopped", zap.Error(err))
		}
	})

	sinks := []replay.Sink{a.Gateway.PublishFrames}
	var liveSinks []func(context.Context, []frame.Frame)
	if cfg.Influx.Enabled() {
		sink := influxsink.New(cfg.Influx)
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink.WriteFrames)
		liveSinks = append(liveSinks, sink.WriteFrames)
	}

	if replayBatch != nil {
		if cfg.Replay.Drive {
			replaySinks := sinks
			if rdb != nil && cfg.Replay.LeaderKey != "" {
				lock := xredis.NewLeaderLock(rdb, cfg.Replay.LeaderKey, cfg.Replay.LeaderTTL)
				replaySinks = []replay.Sink{leaderOnly(lock, sinks...)}
				a.closers = append(a.closers, func() { _ = lock.Release(context.Background()) })
			}
			eng := replay.NewEngine(*replayBatch, cfg.Replay.Config)
			a.Driver = replay.NewDriver(eng, replay.DriverConfig{TickInterval: cfg.Replay.TickInterval}, replaySinks...)
			a.group.Go("replay-driver", a.Driver.Run)
		} else {
			opts.ReplayBatch = replayBatch
		}
	}

	if cfg.LiveFile.Path != "" {
		var journal *history.Journal
		if cfg.History.Journal != "" {
			if journal, err = history.OpenJournal(cfg.History.Journal); err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() { _ = journal.Close() })
		}
		if repo != nil && cfg.History.Archive {
			liveSinks = append(liveSinks, func(ctx context.Context, changed []frame.Frame) {
				if err := repo.Upsert(ctx, changed); err != nil {
					logger.Warn(ctx, "archive live frames failed", zap.Error(err))
				}
			})
		}
		if journal != nil {
			liveSinks = append(liveSinks, func(ctx context.Context, changed []frame.Frame) {
				if err := journal.Append(changed); err != nil {
					logger.Warn(ctx, "journal live frames failed", zap.String("path", journal.Path()), zap.Error(err))
				}
			})
		}
		a.Live = livefile.New(cfg.LiveFile)
		a.Live.OnReload(a.Gateway.OnReload(ctx, liveSinks...))
		a.Live.Start(ctx)
		a.closers = append(a.closers, a.Live.Close)
	}

	opts.ReplayFrameProvider = a.replayFrames
	a.Market = marketdata.New(opts)

	logger.Info(ctx, "framefeed assembled",
		zap.Bool("upstream", opts.Upstream != nil),
		zap.Bool("redis", rdb != nil),
		zap.Bool("mysql", repo != nil),
		zap.Bool("daily", opts.DailyHistory != nil),
		zap.Bool("replay_driver", a.Driver != nil),
		zap.Bool("live_file", a.Live != nil),
		zap.Bool("nats", broker != nil),
		zap.Bool("influx", cfg.Influx.Enabled()),
	)
	built = true
	return a, nil
}

// replayFrames 1m 回放回调：live file 优先，其次回放引擎已揭示的部分
func (a *App) replayFrames(ctx context.Context, q marketdata.Query) []frame.Frame {
	if a.Live != nil {
		if frames := a.Live.GetFrames(q.Symbol, q.Interval, q.Limit); len(frames) > 0 {
			return frames
		}
	}
	if a.Driver != nil {
		return a.Driver.Engine().GetVisibleFrames(q.Symbol, q.Limit)
	}
	return nil
}

// Server HTTP 入口；nil 组件不能直接塞进接口，否则 handler 判不出未配置
func (a *App) Server(ctx context.Context) *http.Server {
	d := api.Deps{
		Name:      a.cfg.Name,
		Market:    a.Market,
		WS:        a.wsServer.ServeWS,
		RateLimit: a.cfg.HTTP.RateLimit,
		Metrics:   a.cfg.HTTP.GinMetrics,
	}
	if a.Driver != nil {
		d.Replay = a.Driver
	}
	if a.Live != nil {
		d.Live = a.Live
	}
	return api.NewServer(ctx, a.cfg.HTTP.Addr, d)
}

// Close 先停后台协程，再按创建的逆序释放资源
func (a *App) Close() {
	a.group.Stop()
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) every(name string, d time.Duration, fn func()) {
	a.group.Go(name, func(ctx context.Context) {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				fn()
			}
		}
	})
}

func (a *App) openRepo(c *orm.Config) (*history.Repo, error) {
	db, err := orm.NewMySQL(c)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { closeDB(db) })
	repo := history.NewRepo(db)
	if err := repo.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("migrate market_bars: %w", err)
	}
	a.every("db-pool-stats", 5*time.Second, func() { orm.ReportPoolStats(db) })
	return repo, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func loadDaily(ctx context.Context, cfg *Cfg, repo *history.Repo) (*frame.Batch, error) {
	var (
		b   frame.Batch
		err error
	)
	switch {
	case cfg.History.DailyFile != "":
		b, err = history.LoadFile(cfg.History.DailyFile)
	case repo != nil:
		b, err = repo.LoadBatch(ctx, history.LoadFilter{Interval: "1d", Symbols: cfg.History.DailySymbols})
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load daily history: %w", err)
	}
	logger.Info(ctx, "daily history loaded", zap.Int("frames", len(b.Frames)))
	return &b, nil
}

func loadReplay(ctx context.Context, cfg *Cfg, repo *history.Repo) (*frame.Batch, error) {
	var (
		b   frame.Batch
		err error
	)
	switch {
	case cfg.Replay.File != "":
		b, err = history.LoadFile(cfg.Replay.File)
	case cfg.Replay.FromMySQL && repo != nil:
		b, err = repo.LoadBatch(ctx, history.LoadFilter{Interval: frame.DefaultInterval, Limit: cfg.Replay.MySQLLimit})
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load replay batch: %w", err)
	}
	logger.Info(ctx, "replay batch loaded", zap.Int("frames", len(b.Frames)))
	return &b, nil
}

// leaderOnly 只有持有 leader 锁时才把 frame 交给下游
func leaderOnly(lock *xredis.LeaderLock, sinks ...replay.Sink) replay.Sink {
	return func(ctx context.Context, frames []frame.Frame) {
		ok, err := lock.TryAcquire(ctx)
		if err != nil {
			logger.Warn(ctx, "leader lock error", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		for _, s := range sinks {
			s(ctx, frames)
		}
	}
}
