package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"OpenMCP-Wallet/internal/adapter"
	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/events"
	"OpenMCP-Wallet/pkg/logger"
)

// ErrRelayRunning 表示 Run 被重复调用。
var ErrRelayRunning = errors.New("relay 已在运行")

// Sink 接收生命周期事件记录。
type Sink interface {
	Name() string
	Deliver(ctx context.Context, rec Record) error
	Close() error
}

// Observer 记录投递结果。
type Observer interface {
	ObserveRelay(sink string, err error)
	ObserveRelayDropped()
}

// Relay 订阅适配器的事件通道，经有界缓冲区由单个 worker 投递到各个 Sink。
type Relay struct {
	adapter  string
	bus      *events.Bus
	sinks    []Sink
	buffer   chan Record
	logger   *slog.Logger
	observer Observer
	timeout  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	subs    []events.Subscription
	started bool
	closed  bool
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// Option 定义可选配置。
type Option func(*Relay)

// WithBufferSize 设置缓冲区容量。
func WithBufferSize(size int) Option {
	return func(r *Relay) {
		if size > 0 {
			r.buffer = make(chan Record, size)
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver 配置指标采集。
func WithObserver(o Observer) Option {
	return func(r *Relay) {
		r.observer = o
	}
}

// WithDeliveryTimeout 限制单次投递耗时。
func WithDeliveryTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// New 创建 Relay 并立即订阅全部生命周期事件。
func New(adapterName string, bus *events.Bus, sinks []Sink, opts ...Option) *Relay {
	r := &Relay{
		adapter: adapterName,
		bus:     bus,
		sinks:   sinks,
		buffer:  make(chan Record, 256),
		timeout: 5 * time.Second,
		now:     time.Now,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.logger == nil {
		r.logger = logger.Named("relay")
	}
	for _, name := range adapter.LifecycleEvents {
		event := name
		r.subs = append(r.subs, bus.On(event, func(payload any) {
			r.enqueue(NewRecord(r.adapter, event, payload, r.now()))
		}))
	}
	return r
}

// enqueue 运行在事件派发路径上，不能阻塞。
func (r *Relay) enqueue(rec Record) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.buffer <- rec:
	default:
		r.logger.Warn("事件缓冲区已满，丢弃记录", slog.String("event", rec.Event), slog.String("record_id", rec.ID))
		if r.observer != nil {
			r.observer.ObserveRelayDropped()
		}
	}
}

// Run 投递缓冲区中的记录，直到 ctx 结束或 Close 被调用，退出前会尽量清空缓冲区。
func (r *Relay) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if r.started {
		r.mu.Unlock()
		return ErrRelayRunning
	}
	r.started = true
	r.mu.Unlock()
	defer close(r.stopped)

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()
		case <-r.done:
			r.drain()
			return nil
		case rec := <-r.buffer:
			r.dispatch(ctx, rec)
		}
	}
}

func (r *Relay) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for {
		select {
		case rec := <-r.buffer:
			r.dispatch(ctx, rec)
		default:
			return
		}
	}
}

func (r *Relay) dispatch(ctx context.Context, rec Record) {
	for _, sink := range r.sinks {
		deliverCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := sink.Deliver(deliverCtx, rec)
		cancel()
		if r.observer != nil {
			r.observer.ObserveRelay(sink.Name(), err)
		}
		if err != nil {
			r.logger.Error("投递生命周期事件失败",
				slog.String("sink", sink.Name()),
				slog.String("event", rec.Event),
				slog.String("record_id", rec.ID),
				slog.Any("error", err),
			)
		}
	}
}

// Close 取消订阅、等待 worker 退出并关闭全部 Sink。
func (r *Relay) Close() error {
	var err error
	r.once.Do(func() {
		for _, sub := range r.subs {
			r.bus.Off(sub)
		}

		r.mu.Lock()
		r.closed = true
		started := r.started
		r.mu.Unlock()

		close(r.done)
		if started {
			<-r.stopped
		}
		for _, sink := range r.sinks {
			if cerr := sink.Close(); cerr != nil {
				err = errors.Join(err, xerrors.Wrap(xerrors.CodeRelayFailure, cerr, "关闭 "+sink.Name()+" 失败"))
			}
		}
	})
	return err
}
