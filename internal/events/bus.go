package events

import (
	"sync"
)

// Handler 接收 Emit 传入的载荷。
type Handler func(payload any)

// Subscription 标识一个已注册的处理函数，用于之后取消订阅。零值不对应任何注册。
type Subscription struct {
	event string
	id    uint64
}

// Event 返回订阅的事件名。
func (s Subscription) Event() string { return s.event }

// Valid 判断订阅是否来自 On 或 Once。
func (s Subscription) Valid() bool { return s.id != 0 }

type listener struct {
	id      uint64
	handler Handler
	once    bool
}

// Bus 是同步的事件通道。同一事件的处理函数按注册顺序在调用 Emit 的 goroutine
// 上执行，执行时不持有锁，因此处理函数内部可以再调用 On、Off 或 Emit。
type Bus struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]listener
}

// New 创建一个空的 Bus。
func New() *Bus {
	return &Bus{listeners: make(map[string][]listener)}
}

// On 为 event 的每次发出注册处理函数。
func (b *Bus) On(event string, handler Handler) Subscription {
	return b.add(event, handler, false)
}

// Once 只为 event 的下一次发出注册处理函数。
func (b *Bus) Once(event string, handler Handler) Subscription {
	return b.add(event, handler, true)
}

func (b *Bus) add(event string, handler Handler, once bool) Subscription {
	if handler == nil {
		return Subscription{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[event] = append(b.listeners[event], listener{id: id, handler: handler, once: once})
	return Subscription{event: event, id: id}
}

// Off 移除 sub 对应的处理函数并返回是否确实移除，重复移除不做任何事。
func (b *Bus) Off(sub Subscription) bool {
	if !sub.Valid() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(sub.event, sub.id)
}

func (b *Bus) removeLocked(event string, id uint64) bool {
	current := b.listeners[event]
	for idx, l := range current {
		if l.id != id {
			continue
		}
		next := make([]listener, 0, len(current)-1)
		next = append(next, current[:idx]...)
		next = append(next, current[idx+1:]...)
		if len(next) == 0 {
			delete(b.listeners, event)
		} else {
			b.listeners[event] = next
		}
		return true
	}
	return false
}

// Emit 把 payload 派发给 event 的全部处理函数，全部执行完毕后返回调用数量。
// Once 处理函数在派发前移除，并发的 Emit 不会重复执行它们。
func (b *Bus) Emit(event string, payload any) int {
	b.mu.Lock()
	current := b.listeners[event]
	if len(current) == 0 {
		b.mu.Unlock()
		return 0
	}
	snapshot := make([]listener, len(current))
	copy(snapshot, current)
	for _, l := range snapshot {
		if l.once {
			b.removeLocked(event, l.id)
		}
	}
	b.mu.Unlock()

	for _, l := range snapshot {
		l.handler(payload)
	}
	return len(snapshot)
}

// ListenerCount 返回 event 当前的处理函数数量。
func (b *Bus) ListenerCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[event])
}

// RemoveAll 移除 event 的全部处理函数；event 为空时清空所有事件。
func (b *Bus) RemoveAll(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if event == "" {
		b.listeners = make(map[string][]listener)
		return
	}
	delete(b.listeners, event)
}
