package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"OpenMCP-Wallet/internal/adapter"
	"OpenMCP-Wallet/internal/api"
	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/internal/observability/alerting"
	"OpenMCP-Wallet/internal/observability/metrics"
	"OpenMCP-Wallet/internal/relay"
	"OpenMCP-Wallet/internal/storage/journal"
	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/wallet/injected"
	"OpenMCP-Wallet/internal/wallet/probe"
	"OpenMCP-Wallet/internal/wallet/rpcagent"
	"OpenMCP-Wallet/internal/web3/ethereum"
	"OpenMCP-Wallet/internal/web3/provider"
	"OpenMCP-Wallet/pkg/logger"
)

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("walletd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
	}

	factory, closeChains, err := buildSessionFactory(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer closeChains()

	lookup, closeAgent, err := buildAgentLookup(cfg.Wallet)
	if err != nil {
		return err
	}
	defer closeAgent()

	p := probe.New(lookup,
		probe.WithInterval(cfg.Wallet.ProbeInterval()),
		probe.WithAttempts(cfg.Wallet.ProbeAttempts),
	)
	adapterOpts := []adapter.Option{
		adapter.WithName(cfg.Wallet.Adapter),
		adapter.WithSessionFactory(factory),
		adapter.WithHandshakeTimeout(cfg.Wallet.HandshakeTimeout()),
	}
	if collector != nil {
		adapterOpts = append(adapterOpts, adapter.WithObserver(collector))
	}
	orchestrator := adapter.New(p, adapterOpts...)

	history := relay.NewMemorySink(cfg.Relay.History)
	sinks, err := buildSinks(ctx, cfg, history)
	if err != nil {
		return err
	}
	relayOpts := []relay.Option{relay.WithBufferSize(cfg.Relay.BufferSize)}
	if collector != nil {
		relayOpts = append(relayOpts, relay.WithObserver(collector))
	}
	lifecycle := relay.New(orchestrator.Name(), orchestrator.Events(), sinks, relayOpts...)
	defer func() {
		if err := lifecycle.Close(); err != nil {
			log.Warn("关闭事件转发失败", slog.String("error", err.Error()))
		}
	}()
	go func() {
		if err := lifecycle.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("事件转发异常退出", slog.String("error", err.Error()))
		}
	}()

	if collector != nil && cfg.Metrics.Address != "" {
		go func() {
			if err := collector.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.String("error", err.Error()))
			}
		}()
	}

	go func() {
		if err := orchestrator.Init(ctx, adapter.InitOptions{AutoConnect: cfg.Wallet.AutoConnect}); err != nil {
			log.Warn("钱包初始化失败", slog.String("error", err.Error()))
		}
	}()

	apiOpts := []api.Option{api.WithHistory(history)}
	if collector != nil {
		apiOpts = append(apiOpts, api.WithMetrics(collector))
	}
	server := api.NewServer(cfg.Server.Address, orchestrator, apiOpts...)
	log.Info("walletd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("adapter", orchestrator.Name()),
		slog.String("agent", cfg.Wallet.Agent),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildSessionFactory 在配置了链端点时绑定默认链，否则只携带身份。
func buildSessionFactory(ctx context.Context, cfg config.Web3Config) (wallet.SessionFactory, func(), error) {
	if !cfg.Enabled() {
		return wallet.IdentityFactory{}, func() {}, nil
	}
	registry, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	chain, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, nil, err
	}
	return ethereum.SessionFactory{Chain: chain}, registry.Close, nil
}

// buildAgentLookup 返回探测器读取的环境槽位。
func buildAgentLookup(cfg config.WalletConfig) (probe.LookupFunc, func(), error) {
	switch cfg.Agent {
	case "rpc":
		remote := &remoteLookup{url: cfg.RPCURL, timeout: cfg.ProbeInterval()}
		return remote.Lookup, remote.Close, nil
	default:
		dev, err := newDevWallet(cfg.Dev)
		if err != nil {
			return nil, nil, err
		}
		env := injected.NewEnvironment()
		var timer *time.Timer
		if delay := cfg.Dev.InjectDelay(); delay > 0 {
			timer = time.AfterFunc(delay, func() { env.Inject(cfg.Slot, dev) })
		} else {
			env.Inject(cfg.Slot, dev)
		}
		stop := func() {
			if timer != nil {
				timer.Stop()
			}
		}
		return env.Lookup(cfg.Slot), stop, nil
	}
}

// remoteLookup 每次探测尝试拨号一次，成功后复用同一个远程钱包。
type remoteLookup struct {
	url     string
	timeout time.Duration

	mu    sync.Mutex
	agent *rpcagent.Agent
}

func (r *remoteLookup) Lookup(ctx context.Context) (wallet.Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agent != nil {
		return r.agent, true
	}
	dialCtx, cancel := context.WithTimeout(ctx, max(r.timeout, time.Second))
	defer cancel()
	agent, err := rpcagent.Dial(dialCtx, r.url)
	if err != nil {
		logger.Named("walletd").Debug("远程钱包尚不可用", slog.String("error", err.Error()))
		return nil, false
	}
	r.agent = agent
	return agent, true
}

func (r *remoteLookup) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agent != nil {
		r.agent.Close()
		r.agent = nil
	}
}

// buildSinks 按配置创建事件转发目标。内存历史始终启用；未配置 MySQL 时
// 事件日志写入数据目录下的 SQLite 文件。
func buildSinks(ctx context.Context, cfg *config.Config, history *relay.MemorySink) ([]relay.Sink, error) {
	sinks := []relay.Sink{history}
	fail := func(err error) ([]relay.Sink, error) {
		for _, sink := range sinks {
			_ = sink.Close()
		}
		return nil, err
	}

	if cfg.Relay.Redis.Enabled {
		sink, err := relay.NewRedisSink(ctx, relay.RedisConfig{
			Address:   cfg.Relay.Redis.Address,
			Password:  cfg.Relay.Redis.Password,
			DB:        cfg.Relay.Redis.DB,
			Channel:   cfg.Relay.Redis.Channel,
			ListKey:   cfg.Relay.Redis.ListKey,
			ListLimit: cfg.Relay.Redis.ListLimit,
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Relay.RabbitMQ.Enabled {
		sink, err := relay.NewRabbitMQSink(relay.RabbitMQConfig{
			URL:      cfg.Relay.RabbitMQ.URL,
			Exchange: cfg.Relay.RabbitMQ.Exchange,
			Durable:  cfg.Relay.RabbitMQ.Durable,
		})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, sink)
	}

	if cfg.Alerting.Enabled {
		notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
		if cfg.Alerting.Webhook != "" {
			notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.Webhook})
		}
		sinks = append(sinks, alerting.NewSink(alerting.NewFanout(notifiers...)))
	}

	journalCfg := journal.Config{
		Driver: journal.DriverSQLite,
		DSN:    filepath.Join(cfg.Runtime.DataDir, "wallet_events.db"),
	}
	if cfg.Relay.MySQL.Enabled {
		journalCfg = journal.Config{
			Driver:          journal.DriverMySQL,
			DSN:             cfg.Relay.MySQL.DSN,
			MaxOpenConns:    cfg.Relay.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Relay.MySQL.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Relay.MySQL.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Relay.MySQL.ConnMaxIdleTimeSeconds) * time.Second,
		}
	}
	j, err := journal.Open(ctx, journalCfg)
	if err != nil {
		return fail(err)
	}
	return append(sinks, j), nil
}
