package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"runtime"
	"time"

	"framefeed.com/pkg/config"
	"framefeed.com/pkg/logger"
	"framefeed.com/pkg/metrics"
	"framefeed.com/pkg/safe"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options controls the bootstrap process; provide hooks for service-specific bits.
type Options struct {
	// Required: config name and target struct
	ConfigName string
	ConfigPtr  interface{}
	// Optional: explicit config file, overrides ./config/{ConfigName}.yaml lookup
	ConfigFile string
	// Optional: watch config file and refill ConfigPtr on change
	Watch bool

	// Required: logger config from the loaded config
	LogConfig func(cfg interface{}) logger.Config

	// Optional: init tracer, return shutdown func
	InitTracer func(cfg interface{}) (func(context.Context) error, error)

	// Required: build the HTTP server plus a cleanup func (closes sources / sinks)
	BuildServer func(ctx context.Context, cfg interface{}) (*http.Server, func(), error)

	// Listen addresses; empty means skip
	MetricsAddr func(cfg interface{}) string
	PprofAddr   func(cfg interface{}) string

	// ShutdownTimeout defaults to 5s
	ShutdownTimeout time.Duration
}

// Run boots an HTTP service with common wiring and blocks until ctx is done or the server fails.
func Run(ctx context.Context, opt Options) error {
	if opt.ConfigName == "" || opt.ConfigPtr == nil || opt.LogConfig == nil || opt.BuildServer == nil {
		return fmt.Errorf("bootstrap: missing required options")
	}
	if opt.ShutdownTimeout <= 0 {
		opt.ShutdownTimeout = 5 * time.Second
	}

	if _, err := config.Load(opt.ConfigName, opt.ConfigPtr, config.Options{File: opt.ConfigFile, Watch: opt.Watch}); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.InitWithConfig(opt.LogConfig(opt.ConfigPtr))
	defer logger.Sync()
	metrics.MustRegister()

	var shutdownTracer func(context.Context) error
	if opt.InitTracer != nil {
		var err error
		shutdownTracer, err = opt.InitTracer(opt.ConfigPtr)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
	}

	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv, cleanup, err := opt.BuildServer(srvCtx, opt.ConfigPtr)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if opt.PprofAddr != nil {
		if addr := opt.PprofAddr(opt.ConfigPtr); addr != "" {
			startPprof(addr)
		}
	}
	if opt.MetricsAddr != nil {
		if addr := opt.MetricsAddr(opt.ConfigPtr); addr != "" {
			startMetrics(addr)
		}
	}

	errCh := make(chan error, 1)
	safe.Go("http-server", func() {
		logger.Info(ctx, "http listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	})

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
			logger.Error(context.Background(), "http server error", zap.Error(err))
		}
	}

	// 先停后台任务，再关 http
	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), opt.ShutdownTimeout)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	if shutdownTracer != nil {
		_ = shutdownTracer(shutdownCtx)
	}
	logger.Info(context.Background(), "service stopped")
	return serveErr
}

func startPprof(addr string) {
	runtime.SetMutexProfileFraction(10)
	runtime.SetBlockProfileRate(10000)

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	safe.Go("pprof-server", func() {
		logger.Info(context.Background(), "pprof listening", zap.String("addr", addr))
		if e := srv.ListenAndServe(); e != nil && e != http.ErrServerClosed {
			logger.Warn(context.Background(), "pprof listen error", zap.Error(e))
		}
	})
}

func startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	safe.Go("metrics-server", func() {
		logger.Info(context.Background(), "metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn(context.Background(), "metrics server error", zap.Error(err))
		}
	})
}
