package proxy

import (
	"bytes"
	"context"

	"OpenMCP-Wallet/internal/events"
	"OpenMCP-Wallet/internal/wallet"
)

// Proxy 是编排器面对的稳定接口，与具体钱包实现无关。它不重试，也不保存状态。
type Proxy struct {
	agent wallet.Agent
}

// New 包装已发现的钱包。
func New(agent wallet.Agent) *Proxy {
	return &Proxy{agent: agent}
}

// IsConnected 返回钱包自身的连接标记。
func (p *Proxy) IsConnected() bool {
	return p.agent.IsConnected()
}

// RequestConnect 请求钱包开始授权。成功以 SignalConnect 为准，而不是返回 nil。
func (p *Proxy) RequestConnect(ctx context.Context) error {
	return p.agent.Connect(ctx)
}

// RequestDisconnect 请求钱包结束会话。
func (p *Proxy) RequestDisconnect(ctx context.Context) error {
	return p.agent.Disconnect(ctx)
}

// Subscribe 为 signal 的每次出现注册处理函数。
func (p *Proxy) Subscribe(signal wallet.Signal, handler events.Handler) events.Subscription {
	return p.agent.On(signal, handler)
}

// SubscribeOnce 为 signal 的下一次出现注册处理函数。
func (p *Proxy) SubscribeOnce(signal wallet.Signal, handler events.Handler) events.Subscription {
	return p.agent.Once(signal, handler)
}

// Unsubscribe 取消 Subscribe 或 SubscribeOnce 创建的订阅。
func (p *Proxy) Unsubscribe(sub events.Subscription) bool {
	return p.agent.Off(sub)
}

// PublicIdentity 返回钱包公钥副本，没有公钥时为 nil。
func (p *Proxy) PublicIdentity() []byte {
	key := p.agent.PublicKey()
	if len(key) == 0 {
		return nil
	}
	return bytes.Clone(key)
}

// InterceptDisconnect 在握手期间替换钱包的断开回调，返回的守卫必须在每条退出路径上释放。
func (p *Proxy) InterceptDisconnect(wrap func(original wallet.DisconnectHook) wallet.DisconnectHook) *wallet.HookGuard {
	return wallet.Intercept(p.agent, wrap)
}
