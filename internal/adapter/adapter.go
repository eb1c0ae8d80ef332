package adapter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/events"
	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/wallet/probe"
	"OpenMCP-Wallet/internal/wallet/proxy"
	"OpenMCP-Wallet/pkg/logger"
)

// Adapter 编排与单个外部钱包的会话：发现钱包、连接握手、断开连接，
// 并向协作方发布生命周期事件。
type Adapter struct {
	name     string
	probe    *probe.Probe
	factory  wallet.SessionFactory
	logger   *slog.Logger
	audit    *slog.Logger
	observer Observer
	bus      *events.Bus

	handshakeTimeout time.Duration

	// lifecycleMu 把状态迁移与对应事件串行化，保证事件顺序与迁移顺序一致。
	// 加锁顺序：先 lifecycleMu 后 mu。
	lifecycleMu sync.Mutex

	mu            sync.Mutex
	status        Status
	proxy         *proxy.Proxy
	provider      wallet.SessionProvider
	rehydrated    bool
	disconnecting bool
	disconnectSub events.Subscription
}

// New 创建处于 StatusNotReady 的适配器，通过 p 发现钱包。
func New(p *probe.Probe, opts ...Option) *Adapter {
	a := &Adapter{
		name:    DefaultName,
		probe:   p,
		factory: wallet.IdentityFactory{},
		bus:     events.New(),
		status:  StatusNotReady,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.logger == nil {
		a.logger = logger.Named("adapter")
	}
	if a.audit == nil {
		a.audit = logger.Audit()
	}
	a.logger = a.logger.With(slog.String("adapter", a.name))
	return a
}

// Name 返回适配器名。
func (a *Adapter) Name() string { return a.name }

// Events 返回生命周期事件通道。处理函数在串行化的派发过程中同步执行，
// 不能直接调用同一适配器的 Connect 或 Disconnect，需要另起 goroutine。
func (a *Adapter) Events() *events.Bus { return a.bus }

// Status 返回当前状态。
func (a *Adapter) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Provider 返回当前会话提供者，未连接时为 nil。
func (a *Adapter) Provider() wallet.SessionProvider {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.provider
}

// Connected 判断是否已与钱包建立会话。
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connectedLocked()
}

func (a *Adapter) connectedLocked() bool {
	return a.status == StatusConnected && !a.disconnecting && a.proxy != nil && a.proxy.IsConnected()
}

// Init 发现钱包并进入 StatusReady。只有发现失败时返回错误；自动连接失败
// 通过 errored 事件体现。成功后重复调用不做任何事。
func (a *Adapter) Init(ctx context.Context, opts InitOptions) error {
	if a.Status() != StatusNotReady {
		return nil
	}

	agent, err := a.probe.Find(ctx)
	if err != nil {
		a.logger.Warn("未发现钱包", slog.String("error", err.Error()))
		return err
	}

	initialised := false
	a.commit(func() (string, any) {
		if a.status != StatusNotReady {
			return "", nil
		}
		a.proxy = proxy.New(agent)
		a.setStatusLocked(StatusReady)
		initialised = true
		return EventReady, a.name
	})
	if !initialised || !opts.AutoConnect {
		return nil
	}

	if _, err := a.connect(ctx, true); err != nil {
		a.logger.Error("使用已有授权自动连接失败", slog.String("error", err.Error()))
		if isGuardError(err) {
			a.commit(func() (string, any) { return EventErrored, err })
		}
	}
	return nil
}

// Connect 执行握手并返回新的会话提供者。Init 之前返回 wallet.ErrNotReady，
// 连接中或已连接时返回 wallet.ErrAlreadyConnected；其他失败都会回到
// StatusReady，调用方可以重试。
func (a *Adapter) Connect(ctx context.Context) (wallet.SessionProvider, error) {
	return a.connect(ctx, false)
}

func (a *Adapter) connect(ctx context.Context, reconnect bool) (wallet.SessionProvider, error) {
	a.mu.Lock()
	err := a.connectGuardLocked()
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var px *proxy.Proxy
	a.commit(func() (string, any) {
		if err = a.connectGuardLocked(); err != nil {
			return "", nil
		}
		px = a.proxy
		a.rehydrated = reconnect
		a.setStatusLocked(StatusConnecting)
		return EventConnecting, ConnectingData{Adapter: a.name}
	})
	if err != nil {
		return nil, err
	}

	started := time.Now()
	session, err := a.establish(ctx, px)
	if err == nil {
		err = a.commitConnected(px, session)
	}
	if err != nil {
		a.observeHandshake(outcomeOf(err), time.Since(started))
		a.commit(func() (string, any) {
			a.rehydrated = false
			a.setStatusLocked(StatusReady)
			return EventErrored, err
		})
		return nil, err
	}
	a.observeHandshake("success", time.Since(started))
	return session, nil
}

func (a *Adapter) connectGuardLocked() error {
	switch {
	case a.status == StatusConnecting || a.status == StatusConnected:
		return wallet.ErrAlreadyConnected
	case !a.status.connectable() || a.proxy == nil:
		return wallet.ErrNotReady
	default:
		return nil
	}
}

// establish 完成握手、校验公钥并构造会话提供者。
func (a *Adapter) establish(ctx context.Context, px *proxy.Proxy) (wallet.SessionProvider, error) {
	if !px.IsConnected() {
		if err := a.handshake(ctx, px); err != nil {
			return nil, err
		}
	}

	identity := px.PublicIdentity()
	if len(identity) == 0 {
		return nil, wallet.ConnectionError(nil)
	}

	session, err := a.factory.NewSession(ctx, identity)
	if err != nil {
		return nil, wallet.ConnectionError(err)
	}
	return session, nil
}

// handshake 让钱包的 connect 信号、被拦截的断开回调与连接调用失败三者竞争，
// 以最先出现的结果为准。
func (a *Adapter) handshake(ctx context.Context, px *proxy.Proxy) error {
	var cancel context.CancelFunc
	if a.handshakeTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, a.handshakeTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	outcome := make(chan error, 1)
	var settled sync.Once
	settle := func(err error) {
		settled.Do(func() { outcome <- err })
	}

	connectSub := px.SubscribeOnce(wallet.SignalConnect, func(any) { settle(nil) })
	defer px.Unsubscribe(connectSub)

	// 用户关闭授权窗口时钱包不会报错，只会调用断开回调。
	guard := px.InterceptDisconnect(func(original wallet.DisconnectHook) wallet.DisconnectHook {
		return func(reason error) {
			settle(wallet.ErrWindowClosed)
			if original != nil {
				original(reason)
			}
		}
	})
	defer guard.Release()

	go func() {
		if err := px.RequestConnect(ctx); err != nil {
			settle(wallet.ConnectionError(err))
		}
	}()

	select {
	case err := <-outcome:
		return err
	case <-ctx.Done():
		return wallet.ConnectionError(ctx.Err())
	}
}

// commitConnected 安装会话期内的断开订阅并进入 StatusConnected；若钱包已在
// 此期间断开则返回错误。
func (a *Adapter) commitConnected(px *proxy.Proxy, session wallet.SessionProvider) error {
	sub := px.Subscribe(wallet.SignalDisconnect, a.onAgentDisconnect)

	var err error
	a.commit(func() (string, any) {
		if !px.IsConnected() {
			err = wallet.ErrDroppedDuringHandshake
			return "", nil
		}
		a.provider = session
		a.disconnectSub = sub
		a.setStatusLocked(StatusConnected)
		return EventConnected, ConnectedData{Adapter: a.name, Reconnected: a.rehydrated, SessionID: session.ID()}
	})
	if err != nil {
		px.Unsubscribe(sub)
		_ = session.Close()
	}
	return err
}

// onAgentDisconnect 处理已连接状态下由钱包发起的断开。处理函数会移除自身订阅，
// 重复的信号不再生效。
func (a *Adapter) onAgentDisconnect(any) {
	a.commit(func() (string, any) {
		if a.status != StatusConnected || a.disconnecting || !a.disconnectSub.Valid() {
			return "", nil
		}
		a.proxy.Unsubscribe(a.disconnectSub)
		a.disconnectSub = events.Subscription{}
		a.clearSessionLocked()
		a.setStatusLocked(StatusDisconnected)
		return EventDisconnected, DisconnectedData{Adapter: a.name, AgentInitiated: true}
	})
}

// Disconnect 结束会话。没有会话时返回 wallet.ErrNotConnected；钱包自身的
// 断开失败只通过 errored 事件上报。
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	if !a.connectedLocked() {
		a.mu.Unlock()
		return wallet.ErrNotConnected
	}
	a.disconnecting = true
	px := a.proxy
	sub := a.disconnectSub
	a.disconnectSub = events.Subscription{}
	a.mu.Unlock()

	px.Unsubscribe(sub)
	err := px.RequestDisconnect(ctx)

	a.commit(func() (string, any) {
		a.disconnecting = false
		a.clearSessionLocked()
		if err != nil {
			a.setStatusLocked(StatusErrored)
			return EventErrored, wallet.DisconnectionError(err)
		}
		a.setStatusLocked(StatusDisconnected)
		return EventDisconnected, DisconnectedData{Adapter: a.name}
	})
	if err != nil {
		a.logger.Warn("钱包断开失败", slog.String("error", err.Error()))
	}
	return nil
}

// GetUserInfo 返回已连接用户的资料。钱包只暴露公钥，因此记录总是为空。
func (a *Adapter) GetUserInfo(context.Context) (wallet.UserInfo, error) {
	if !a.Connected() {
		return wallet.UserInfo{}, xerrors.New(wallet.CodeNotConnected, "not connected with wallet, please login/connect first")
	}
	return wallet.UserInfo{}, nil
}

// commit 在 mu 保护下执行 apply，并在下一次迁移开始前发出其返回的事件。
func (a *Adapter) commit(apply func() (event string, payload any)) {
	a.lifecycleMu.Lock()
	defer a.lifecycleMu.Unlock()

	a.mu.Lock()
	event, payload := apply()
	a.mu.Unlock()

	if event != "" {
		a.bus.Emit(event, payload)
	}
}

func (a *Adapter) setStatusLocked(to Status) {
	from := a.status
	a.status = to
	a.audit.Info("钱包状态迁移",
		slog.String("adapter", a.name),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if a.observer != nil {
		a.observer.ObserveTransition(a.name, string(from), string(to))
	}
}

func (a *Adapter) clearSessionLocked() {
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Warn("关闭会话提供者失败", slog.String("error", err.Error()))
		}
	}
	a.provider = nil
	a.rehydrated = false
}

func (a *Adapter) observeHandshake(outcome string, d time.Duration) {
	if a.observer != nil {
		a.observer.ObserveHandshake(a.name, outcome, d)
	}
}

func outcomeOf(err error) string {
	switch xerrors.CodeOf(err) {
	case wallet.CodeWindowClosed:
		return "window_closed"
	case wallet.CodeConnectionError:
		return "connection_error"
	default:
		return "error"
	}
}

func isGuardError(err error) bool {
	switch xerrors.CodeOf(err) {
	case wallet.CodeNotReady, wallet.CodeAlreadyConnected:
		return true
	default:
		return false
	}
}
