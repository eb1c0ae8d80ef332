package wallet

import (
	"bytes"
	"sync"

	"OpenMCP-Wallet/internal/events"
)

// Base 保存所有具体钱包共享的状态：连接标记、公钥、钱包自身的事件通道以及
// 断开回调槽位。具体钱包嵌入 Base 并实现 Connect 与 Disconnect。
type Base struct {
	mu        sync.RWMutex
	connected bool
	publicKey []byte
	hook      DisconnectHook
	bus       *events.Bus
}

// NewBase 返回未连接、已安装默认断开回调的 Base。
func NewBase() *Base {
	b := &Base{bus: events.New()}
	b.hook = b.handleDisconnect
	return b
}

// IsConnected 判断钱包当前是否持有会话。
func (b *Base) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// PublicKey 返回公钥副本，未连接时为 nil。
func (b *Base) PublicKey() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.publicKey) == 0 {
		return nil
	}
	return bytes.Clone(b.publicKey)
}

// On 订阅钱包信号。
func (b *Base) On(signal Signal, handler events.Handler) events.Subscription {
	return b.bus.On(string(signal), handler)
}

// Once 订阅钱包信号的下一次出现。
func (b *Base) Once(signal Signal, handler events.Handler) events.Subscription {
	return b.bus.Once(string(signal), handler)
}

// Off 取消信号订阅。
func (b *Base) Off(sub events.Subscription) bool {
	return b.bus.Off(sub)
}

// DisconnectHook 返回槽位中当前的断开回调。
func (b *Base) DisconnectHook() DisconnectHook {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hook
}

// SetDisconnectHook 替换断开回调，传入 nil 时恢复默认回调。
func (b *Base) SetDisconnectHook(hook DisconnectHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hook == nil {
		hook = b.handleDisconnect
	}
	b.hook = hook
}

// MarkConnected 记录会话并以公钥为载荷发出 SignalConnect。
func (b *Base) MarkConnected(publicKey []byte) {
	b.mu.Lock()
	b.connected = true
	b.publicKey = bytes.Clone(publicKey)
	b.mu.Unlock()
	b.bus.Emit(string(SignalConnect), bytes.Clone(publicKey))
}

// Forget 清除会话，但不执行回调也不发出信号。用于与已经上报变化的远端重新同步。
func (b *Base) Forget() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.publicKey = nil
}

// HandleDisconnect 执行槽位中的断开回调。会话结束或授权窗口关闭时由具体钱包调用。
func (b *Base) HandleDisconnect(reason error) {
	hook := b.DisconnectHook()
	if hook != nil {
		hook(reason)
	}
}

// handleDisconnect 是默认回调：清除会话后以 reason 为载荷发出 SignalDisconnect。
func (b *Base) handleDisconnect(reason error) {
	b.mu.Lock()
	b.connected = false
	b.publicKey = nil
	b.mu.Unlock()
	b.bus.Emit(string(SignalDisconnect), reason)
}
