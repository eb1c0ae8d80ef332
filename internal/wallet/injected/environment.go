package injected

import (
	"context"
	"sync"

	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/wallet/probe"
)

// DefaultSlot 是钱包默认注入的槽位名。
const DefaultSlot = "solana"

// Environment 是一组具名槽位，钱包可以在任意时刻注入，包括探测开始之后。
type Environment struct {
	mu    sync.RWMutex
	slots map[string]wallet.Agent
}

// NewEnvironment 返回空环境。
func NewEnvironment() *Environment {
	return &Environment{slots: make(map[string]wallet.Agent)}
}

// Inject 把 agent 放入 slot，覆盖原有内容。
func (e *Environment) Inject(slot string, agent wallet.Agent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slots[slot] = agent
}

// Remove 清空 slot。
func (e *Environment) Remove(slot string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.slots, slot)
}

// Get 读取 slot。
func (e *Environment) Get(slot string) (wallet.Agent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	agent, ok := e.slots[slot]
	return agent, ok && agent != nil
}

// Lookup 把 slot 适配为 probe.LookupFunc。
func (e *Environment) Lookup(slot string) probe.LookupFunc {
	return func(context.Context) (wallet.Agent, bool) {
		return e.Get(slot)
	}
}
