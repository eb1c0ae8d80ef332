package rpcagent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/pkg/logger"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrClosed 表示在 Close 之后发起了调用。
var ErrClosed = errors.New("remote wallet agent closed")

// DefaultSettleTimeout 是 Disconnect 等待远端断开信号的上限，超时后重新同步状态。
const DefaultSettleTimeout = 5 * time.Second

// Agent 是由远端 Service 支撑的 wallet.Agent。本地状态跟随远端信号，断开回调在本地执行。
type Agent struct {
	*wallet.Base

	client        *rpc.Client
	sub           *rpc.ClientSubscription
	notifications chan Notification
	logger        *slog.Logger
	settleTimeout time.Duration

	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLogger 覆盖日志。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithSettleTimeout 覆盖 DefaultSettleTimeout。
func WithSettleTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.settleTimeout = d
		}
	}
}

// Dial 连接位于 rawurl 的远端钱包，支持 http、ws 与 ipc。
func Dial(ctx context.Context, rawurl string, opts ...Option) (*Agent, error) {
	client, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "dial remote wallet")
	}
	agent, err := NewAgent(ctx, client, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}
	return agent, nil
}

// NewAgent 通过 client 订阅远端信号并加载远端当前状态，此后 client 归 Agent 所有。
func NewAgent(ctx context.Context, client *rpc.Client, opts ...Option) (*Agent, error) {
	a := &Agent{
		Base:          wallet.NewBase(),
		client:        client,
		notifications: make(chan Notification, 16),
		settleTimeout: DefaultSettleTimeout,
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.logger == nil {
		a.logger = logger.Named("rpcagent")
	}

	sub, err := client.Subscribe(ctx, Namespace, a.notifications, "events")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransportFailure, err, "subscribe to wallet events")
	}
	a.sub = sub

	if err := a.sync(ctx); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	go a.loop()
	return a, nil
}

// sync 以一次批量调用读取远端状态。
func (a *Agent) sync(ctx context.Context) error {
	var (
		connected bool
		key       hexutil.Bytes
	)
	batch := []rpc.BatchElem{
		{Method: Namespace + "_isConnected", Result: &connected},
		{Method: Namespace + "_publicKey", Result: &key},
	}
	if err := a.client.BatchCallContext(ctx, batch); err != nil {
		return xerrors.Wrap(xerrors.CodeTransportFailure, err, "read remote wallet state")
	}
	for _, elem := range batch {
		if elem.Error != nil {
			return xerrors.Wrap(xerrors.CodeTransportFailure, elem.Error, "read remote wallet state")
		}
	}
	if connected {
		a.MarkConnected(key)
	} else {
		a.Forget()
	}
	return nil
}

func (a *Agent) loop() {
	defer close(a.loopDone)
	for {
		select {
		case n := <-a.notifications:
			a.apply(n)
		case err := <-a.sub.Err():
			if err != nil {
				a.logger.Warn("远端钱包订阅已结束", slog.String("error", err.Error()))
				if a.IsConnected() {
					a.HandleDisconnect(xerrors.Wrap(xerrors.CodeTransportFailure, err, "remote wallet transport lost"))
				}
			}
			return
		case <-a.done:
			return
		}
	}
}

func (a *Agent) apply(n Notification) {
	switch n.Signal {
	case wallet.SignalConnect:
		a.MarkConnected(n.PublicKey)
	case wallet.SignalDisconnect:
		var reason error
		if n.Reason != "" {
			reason = errors.New(n.Reason)
		}
		a.HandleDisconnect(reason)
	default:
		a.logger.Debug("忽略未知的钱包信号", slog.String("signal", string(n.Signal)))
	}
}

func (a *Agent) closed() bool {
	select {
	case <-a.done:
		return true
	default:
		return false
	}
}

// Connect 请求远端钱包授权，完成与否以 connect 信号为准。
func (a *Agent) Connect(ctx context.Context) error {
	if a.closed() {
		return ErrClosed
	}
	return a.client.CallContext(ctx, nil, Namespace+"_connect")
}

// Disconnect 结束远端会话，并等待本地状态跟上远端的断开信号。
func (a *Agent) Disconnect(ctx context.Context) error {
	if a.closed() {
		return ErrClosed
	}
	signalled := make(chan struct{})
	var once sync.Once
	sub := a.Once(wallet.SignalDisconnect, func(any) { once.Do(func() { close(signalled) }) })
	defer a.Off(sub)

	if err := a.client.CallContext(ctx, nil, Namespace+"_disconnect"); err != nil {
		return err
	}

	timer := time.NewTimer(a.settleTimeout)
	defer timer.Stop()
	select {
	case <-signalled:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}
	syncCtx, cancel := context.WithTimeout(context.Background(), a.settleTimeout)
	defer cancel()
	return a.sync(syncCtx)
}

// Close 停止跟随远端钱包并关闭连接。
func (a *Agent) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.sub.Unsubscribe()
		<-a.loopDone
		a.client.Close()
	})
}
