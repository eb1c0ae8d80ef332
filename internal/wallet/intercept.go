package wallet

import "sync"

// HookGuard 保存拦截前的断开回调，保证只恢复一次。
type HookGuard struct {
	agent    Agent
	original DisconnectHook
	once     sync.Once
}

// Intercept 保存钱包当前的断开回调并替换为 wrap(original)，调用方必须 defer Release。
func Intercept(agent Agent, wrap func(original DisconnectHook) DisconnectHook) *HookGuard {
	original := agent.DisconnectHook()
	guard := &HookGuard{agent: agent, original: original}
	agent.SetDisconnectHook(wrap(original))
	return guard
}

// Original 返回拦截前的断开回调。
func (g *HookGuard) Original() DisconnectHook {
	return g.original
}

// Release 恢复原始回调，只有第一次调用生效。
func (g *HookGuard) Release() {
	if g == nil {
		return
	}
	g.once.Do(func() {
		g.agent.SetDisconnectHook(g.original)
	})
}
