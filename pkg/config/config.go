package config

import (
	"context"
	"strings"
	"sync"

	"framefeed.com/pkg/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Options struct {
	// File 显式指定配置文件路径；为空时按约定 ./config/{service}.yaml 或 ./{service}.yaml
	File string
	// Watch 是否监听文件变更热更新到 out
	Watch bool
	// OnChange 热更新成功后回调（out 已被重新填充）
	OnChange func()
}

// mu 保护热更新时对 out 的并发写
var mu sync.Mutex

func LoadAndWatch(service string, out interface{}) (*viper.Viper, error) {
	return Load(service, out, Options{Watch: true})
}

func Load(service string, out interface{}, opt Options) (*viper.Viper, error) {
	v := viper.New()
	if opt.File != "" {
		v.SetConfigFile(opt.File)
	} else {
		v.SetConfigName(service)
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// 环境变量覆盖，例如：
	//   FRAMEFEED_HTTP_ADDR 覆盖 http.addr
	//   FRAMEFEED_UPSTREAM_TOKEN 覆盖 upstream.token
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	mu.Lock()
	err := v.Unmarshal(out)
	mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "config loaded",
		zap.String("service", service), zap.String("file", v.ConfigFileUsed()))

	if !opt.Watch {
		return v, nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(context.Background(), "config file changed", zap.String("file", e.Name))

		mu.Lock()
		err := v.Unmarshal(out)
		mu.Unlock()
		if err != nil {
			logger.Warn(context.Background(), "reload config error", zap.Error(err))
			return
		}
		if opt.OnChange != nil {
			opt.OnChange()
		}
	})
	v.WatchConfig()

	return v, nil
}
