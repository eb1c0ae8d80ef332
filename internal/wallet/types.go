package wallet

import (
	"context"

	"OpenMCP-Wallet/internal/events"
)

// Signal 是钱包在自身事件通道上发出的信号名。
type Signal string

const (
	// SignalConnect 在钱包完成授权后发出。
	SignalConnect Signal = "connect"
	// SignalDisconnect 在钱包的断开回调执行时发出。
	SignalDisconnect Signal = "disconnect"
)

// DisconnectHook 是钱包内部的断开处理函数。会话结束时钱包调用当前安装的回调，
// 用户在授权前关闭窗口时也会调用。
type DisconnectHook func(reason error)

// Agent 是外部签名钱包的最小能力接口。
type Agent interface {
	IsConnected() bool
	PublicKey() []byte
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	On(signal Signal, handler events.Handler) events.Subscription
	Once(signal Signal, handler events.Handler) events.Subscription
	Off(sub events.Subscription) bool

	DisconnectHook() DisconnectHook
	SetDisconnectHook(hook DisconnectHook)
}

// SessionProvider 在握手成功后交给应用，会话结束时通过 Close 失效。
type SessionProvider interface {
	ID() string
	Identity() []byte
	Close() error
}

// SessionFactory 在每次连接成功后根据钱包公钥构造新的 SessionProvider。
type SessionFactory interface {
	NewSession(ctx context.Context, identity []byte) (SessionProvider, error)
}

// UserInfo 对应社交登录适配器返回的用户资料。外部钱包只暴露公钥，所有字段都为空。
type UserInfo struct {
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	ProfileImage string `json:"profile_image,omitempty"`
	Verifier     string `json:"verifier,omitempty"`
	VerifierID   string `json:"verifier_id,omitempty"`
}
