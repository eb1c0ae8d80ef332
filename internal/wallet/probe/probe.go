package probe

import (
	"context"
	"log/slog"
	"time"

	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/pkg/logger"
)

const (
	// DefaultInterval 是注入式钱包的轮询间隔。
	DefaultInterval = 500 * time.Millisecond
	// DefaultAttempts 是放弃前的检查次数。
	DefaultAttempts = 3
)

// LookupFunc 读取钱包可能出现的环境槽位，除读取外不能有副作用。
type LookupFunc func(ctx context.Context) (wallet.Agent, bool)

// Probe 轮询 LookupFunc，直到发现钱包或用完尝试次数。
type Probe struct {
	lookup   LookupFunc
	interval time.Duration
	attempts int
	logger   *slog.Logger
}

// Option 定义可选的 Probe 配置。
type Option func(*Probe)

// WithInterval 设置两次检查的间隔。
func WithInterval(interval time.Duration) Option {
	return func(p *Probe) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithAttempts 设置最多检查次数。
func WithAttempts(attempts int) Option {
	return func(p *Probe) {
		if attempts > 0 {
			p.attempts = attempts
		}
	}
}

// WithLogger 覆盖探测日志。
func WithLogger(l *slog.Logger) Option {
	return func(p *Probe) {
		if l != nil {
			p.logger = l
		}
	}
}

// New 基于 lookup 构造探测器。
func New(lookup LookupFunc, opts ...Option) *Probe {
	p := &Probe{
		lookup:   lookup,
		interval: DefaultInterval,
		attempts: DefaultAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("probe")
	}
	return p
}

// Find 立即检查一次，之后每隔 interval 检查，最多检查配置的次数。未发现钱包时
// 返回 wallet.ErrNotInstalled，等待中被取消时返回 ctx.Err()。
func (p *Probe) Find(ctx context.Context) (wallet.Agent, error) {
	if p == nil || p.lookup == nil {
		return nil, wallet.ErrNotInstalled
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; attempt <= p.attempts; attempt++ {
		if attempt > 1 {
			if timer == nil {
				timer = time.NewTimer(p.interval)
			} else {
				timer.Reset(p.interval)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		if agent, ok := p.lookup(ctx); ok && agent != nil {
			p.logger.Debug("已发现钱包", slog.Int("attempt", attempt))
			return agent, nil
		}
		p.logger.Debug("尚未发现钱包", slog.Int("attempt", attempt), slog.Int("max_attempts", p.attempts))
	}
	return nil, wallet.ErrNotInstalled
}
