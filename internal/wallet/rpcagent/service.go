package rpcagent

import (
	"context"

	"OpenMCP-Wallet/internal/wallet"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// Namespace 是服务注册使用的 JSON-RPC 命名空间。
const Namespace = "wallet"

// Notification 推送给 wallet_subscribe("events") 的订阅者。
type Notification struct {
	Signal    wallet.Signal `json:"signal"`
	PublicKey hexutil.Bytes `json:"publicKey,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Service 通过 JSON-RPC 暴露本地钱包。
type Service struct {
	agent wallet.Agent
}

// NewService 包装 agent。
func NewService(agent wallet.Agent) *Service {
	return &Service{agent: agent}
}

// NewServer 返回已在 Namespace 下注册 agent 的 RPC 服务。
func NewServer(agent wallet.Agent) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(Namespace, NewService(agent)); err != nil {
		srv.Stop()
		return nil, err
	}
	return srv, nil
}

// Connect 请求钱包授权（wallet_connect）。
func (s *Service) Connect(ctx context.Context) error {
	return s.agent.Connect(ctx)
}

// Disconnect 结束钱包会话（wallet_disconnect）。
func (s *Service) Disconnect(ctx context.Context) error {
	return s.agent.Disconnect(ctx)
}

// IsConnected 返回钱包连接标记（wallet_isConnected）。
func (s *Service) IsConnected() bool {
	return s.agent.IsConnected()
}

// PublicKey 返回钱包公钥（wallet_publicKey）。
func (s *Service) PublicKey() hexutil.Bytes {
	return s.agent.PublicKey()
}

// Events 推送钱包的 connect 与 disconnect 信号。通知在信号处理函数中写出，
// 因此先于触发它的调用响应到达对端。
func (s *Service) Events(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return &rpc.Subscription{}, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()

	onConnect := s.agent.On(wallet.SignalConnect, func(payload any) {
		key, _ := payload.([]byte)
		_ = notifier.Notify(sub.ID, Notification{Signal: wallet.SignalConnect, PublicKey: key})
	})
	onDisconnect := s.agent.On(wallet.SignalDisconnect, func(payload any) {
		n := Notification{Signal: wallet.SignalDisconnect}
		if reason, ok := payload.(error); ok && reason != nil {
			n.Reason = reason.Error()
		}
		_ = notifier.Notify(sub.ID, n)
	})

	go func() {
		<-sub.Err()
		s.agent.Off(onConnect)
		s.agent.Off(onDisconnect)
	}()
	return sub, nil
}
