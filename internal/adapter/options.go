package adapter

import (
	"log/slog"
	"time"

	"OpenMCP-Wallet/internal/wallet"
)

// DefaultName 是未配置名称时事件载荷中使用的适配器名。
const DefaultName = "phantom"

// Observer 接收状态迁移与握手耗时。
type Observer interface {
	ObserveTransition(adapter, from, to string)
	ObserveHandshake(adapter, outcome string, duration time.Duration)
}

// InitOptions 控制 Init 的行为。
type InitOptions struct {
	// AutoConnect 在发现钱包后立即连接，复用已有授权；失败只以 errored 事件上报。
	AutoConnect bool
}

// Option 定义可选的 Adapter 配置。
type Option func(*Adapter)

// WithName 设置事件载荷与日志中的适配器名。
func WithName(name string) Option {
	return func(a *Adapter) {
		if name != "" {
			a.name = name
		}
	}
}

// WithSessionFactory 设置会话提供者的构造方式。
func WithSessionFactory(factory wallet.SessionFactory) Option {
	return func(a *Adapter) {
		if factory != nil {
			a.factory = factory
		}
	}
}

// WithLogger 覆盖组件日志。
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAuditLogger 覆盖审计日志，每次状态迁移记录一条。
func WithAuditLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.audit = l
		}
	}
}

// WithObserver 挂载指标观察者。
func WithObserver(o Observer) Option {
	return func(a *Adapter) {
		a.observer = o
	}
}

// WithHandshakeTimeout 限制握手等待钱包的最长时间，为零时只受调用方上下文约束。
func WithHandshakeTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.handshakeTimeout = d
		}
	}
}
