package injected

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"OpenMCP-Wallet/internal/wallet"
)

// Decision 是用户对授权请求的回应。
type Decision int

const (
	// Approve 授权并暴露公钥。
	Approve Decision = iota
	// Reject 让连接调用失败，不影响会话。
	Reject
	// Dismiss 关闭授权窗口：执行断开回调，连接调用正常返回但不发出 connect 信号。
	Dismiss
	// ApproveWithoutKey 发出 connect 信号但不暴露公钥。
	ApproveWithoutKey
)

// ParseDecision 把配置中的名称解析为 Decision。
func ParseDecision(name string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "approve":
		return Approve, nil
	case "reject":
		return Reject, nil
	case "dismiss":
		return Dismiss, nil
	case "approve_without_key":
		return ApproveWithoutKey, nil
	default:
		return Approve, fmt.Errorf("unknown wallet decision %q", name)
	}
}

// ErrUserRejected 表示用户拒绝了连接请求。
var ErrUserRejected = errors.New("user rejected the request")

// Decider 回应授权请求，可以阻塞直到用户操作；调用方放弃时 ctx 被取消。
type Decider func(ctx context.Context) Decision

// Always 返回总是给出相同回应的 Decider。
func Always(d Decision) Decider {
	return func(context.Context) Decision { return d }
}

// Wallet 是由用户控制的进程内签名钱包。
type Wallet struct {
	*wallet.Base

	mu            sync.Mutex
	publicKey     []byte
	decide        Decider
	disconnectErr error
	connectCalls  int
}

// New 创建持有 publicKey 的未连接钱包。
func New(publicKey []byte, decide Decider) *Wallet {
	if decide == nil {
		decide = Always(Approve)
	}
	return &Wallet{
		Base:      wallet.NewBase(),
		publicKey: bytes.Clone(publicKey),
		decide:    decide,
	}
}

// SetDecider 修改之后授权请求的回应方式。
func (w *Wallet) SetDecider(decide Decider) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if decide == nil {
		decide = Always(Approve)
	}
	w.decide = decide
}

// FailDisconnect 让之后的 Disconnect 返回 err，传入 nil 时取消。
func (w *Wallet) FailDisconnect(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.disconnectErr = err
}

// ConnectCalls 返回 Connect 被调用的次数。
func (w *Wallet) ConnectCalls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connectCalls
}

// Connect 请求用户授权并按回应处理。
func (w *Wallet) Connect(ctx context.Context) error {
	w.mu.Lock()
	w.connectCalls++
	decide := w.decide
	key := bytes.Clone(w.publicKey)
	w.mu.Unlock()

	if w.IsConnected() {
		w.MarkConnected(key)
		return nil
	}

	switch decide(ctx) {
	case Approve:
		w.MarkConnected(key)
		return nil
	case ApproveWithoutKey:
		w.MarkConnected(nil)
		return nil
	case Dismiss:
		w.HandleDisconnect(nil)
		return nil
	default:
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrUserRejected
	}
}

// Disconnect 通过断开回调结束会话。
func (w *Wallet) Disconnect(context.Context) error {
	w.mu.Lock()
	err := w.disconnectErr
	w.mu.Unlock()
	if err != nil {
		return err
	}
	w.HandleDisconnect(nil)
	return nil
}

// Revoke 模拟用户在钱包一侧结束会话。
func (w *Wallet) Revoke(reason error) {
	w.HandleDisconnect(reason)
}
