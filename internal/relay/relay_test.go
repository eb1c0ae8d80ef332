package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"OpenMCP-Wallet/internal/adapter"
	xerrors "OpenMCP-Wallet/internal/errors"
	"OpenMCP-Wallet/internal/events"
	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
)

type countingObserver struct {
	mu      sync.Mutex
	ok      int
	failed  int
	dropped int
}

func (o *countingObserver) ObserveRelay(_ string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.failed++
		return
	}
	o.ok++
}

func (o *countingObserver) ObserveRelayDropped() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped++
}

type failingSink struct{ closed bool }

func (s *failingSink) Name() string                          { return "failing" }
func (s *failingSink) Deliver(context.Context, Record) error { return errors.New("sink offline") }
func (s *failingSink) Close() error                          { s.closed = true; return nil }

func TestNewRecordFlattensPayloads(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))

	rec := NewRecord("phantom", adapter.EventConnected, adapter.ConnectedData{Adapter: "phantom", Reconnected: true, SessionID: "s-1"}, at)
	if rec.ID == "" || rec.SessionID != "s-1" || !rec.Reconnected || !rec.OccurredAt.Equal(at) || rec.OccurredAt.Location() != time.UTC {
		t.Fatalf("unexpected connected record %#v", rec)
	}

	rec = NewRecord("phantom", adapter.EventErrored, wallet.ErrWindowClosed, at)
	if rec.ErrorCode != string(wallet.CodeWindowClosed) || rec.Error == "" {
		t.Fatalf("unexpected errored record %#v", rec)
	}

	rec = NewRecord("phantom", adapter.EventDisconnected, adapter.DisconnectedData{Adapter: "phantom", AgentInitiated: true}, at)
	if !rec.AgentInitiated {
		t.Fatalf("unexpected disconnected record %#v", rec)
	}

	rec = NewRecord("fallback", adapter.EventReady, "phantom", at)
	if rec.Adapter != "phantom" {
		t.Fatalf("unexpected ready record %#v", rec)
	}
}

func TestRelayDeliversInOrder(t *testing.T) {
	bus := events.New()
	memory := NewMemorySink(10)
	failing := &failingSink{}
	obs := &countingObserver{}
	r := New("phantom", bus, []Sink{memory, failing}, WithObserver(obs), WithLogger(logger.Discard()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	bus.Emit(adapter.EventReady, "phantom")
	bus.Emit(adapter.EventConnecting, adapter.ConnectingData{Adapter: "phantom"})
	bus.Emit(adapter.EventConnected, adapter.ConnectedData{Adapter: "phantom", SessionID: "s-1"})

	deadline := time.Now().Add(2 * time.Second)
	for len(memory.Recent(0)) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("records not delivered in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !failing.closed {
		t.Fatal("sinks should be closed")
	}

	got := memory.Recent(0)
	want := []string{adapter.EventReady, adapter.EventConnecting, adapter.EventConnected}
	for i, rec := range got {
		if rec.Event != want[i] {
			t.Fatalf("unexpected order %v", got)
		}
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.ok != 3 || obs.failed != 3 {
		t.Fatalf("unexpected observations ok=%d failed=%d", obs.ok, obs.failed)
	}

	bus.Emit(adapter.EventErrored, errors.New("late"))
	if len(memory.Recent(0)) != 3 {
		t.Fatal("closed relay must not accept records")
	}
}

func TestRelayDropsWhenBufferFull(t *testing.T) {
	bus := events.New()
	obs := &countingObserver{}
	r := New("phantom", bus, nil, WithBufferSize(1), WithObserver(obs), WithLogger(logger.Discard()))
	defer r.Close()

	bus.Emit(adapter.EventReady, "phantom")
	bus.Emit(adapter.EventReady, "phantom")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.dropped != 1 {
		t.Fatalf("expected one dropped record, got %d", obs.dropped)
	}
}

func TestRelayRunTwice(t *testing.T) {
	r := New("phantom", events.New(), nil, WithLogger(logger.Discard()))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		started := r.started
		r.mu.Unlock()
		if started {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("relay did not start")
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.Run(ctx); !errors.Is(err, ErrRelayRunning) {
		t.Fatalf("expected ErrRelayRunning, got %v", err)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemorySinkHistoryAndWatch(t *testing.T) {
	sink := NewMemorySink(2)
	ch, cancel := sink.Watch(4)

	for _, event := range []string{"a", "b", "c"} {
		_ = sink.Deliver(context.Background(), Record{Event: event})
	}
	recent := sink.Recent(0)
	if len(recent) != 2 || recent[0].Event != "b" || recent[1].Event != "c" {
		t.Fatalf("unexpected history %v", recent)
	}
	if last := sink.Recent(1); len(last) != 1 || last[0].Event != "c" {
		t.Fatalf("unexpected latest %v", last)
	}

	for _, want := range []string{"a", "b", "c"} {
		if got := <-ch; got.Event != want {
			t.Fatalf("watch got %s want %s", got.Event, want)
		}
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("watch channel should be closed")
	}
}

type fakeRedis struct {
	published map[string][]string
	lists     map[string][]string
	failWith  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{published: map[string][]string{}, lists: map[string][]string{}}
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.failWith != nil {
		return redis.NewIntResult(0, f.failWith)
	}
	f.published[channel] = append(f.published[channel], string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) LPush(_ context.Context, key string, values ...interface{}) *redis.IntCmd {
	for _, v := range values {
		f.lists[key] = append([]string{string(v.([]byte))}, f.lists[key]...)
	}
	return redis.NewIntResult(int64(len(f.lists[key])), nil)
}

func (f *fakeRedis) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	list := f.lists[key]
	if int(stop+1) < len(list) {
		f.lists[key] = list[start : stop+1]
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) LRange(_ context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	list := f.lists[key]
	end := int(stop + 1)
	if end > len(list) {
		end = len(list)
	}
	return redis.NewStringSliceResult(append([]string(nil), list[start:end]...), nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisSinkPublishesAndTrims(t *testing.T) {
	fake := newFakeRedis()
	sink := newRedisSink(fake, RedisConfig{ListLimit: 2})

	for _, event := range []string{"ready", "connecting", "connected"} {
		if err := sink.Deliver(context.Background(), Record{ID: event, Event: event}); err != nil {
			t.Fatalf("deliver: %v", err)
		}
	}
	if len(fake.published["openmcp:wallet:events"]) != 3 {
		t.Fatalf("expected three publications, got %v", fake.published)
	}

	recent, err := sink.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Event != "connected" || recent[1].Event != "connecting" {
		t.Fatalf("unexpected history %v", recent)
	}

	fake.failWith = errors.New("connection refused")
	err = sink.Deliver(context.Background(), Record{Event: "errored"})
	if xerrors.CodeOf(err) != xerrors.CodeRelayFailure {
		t.Fatalf("expected relay failure, got %v", err)
	}
}

type fakePublisher struct {
	exchange string
	key      string
	msg      amqp.Publishing
	closed   bool
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return nil
}

func (f *fakePublisher) Close() error { f.closed = true; return nil }

func TestRabbitMQSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := &RabbitMQSink{ch: pub, exchange: "wallet"}

	rec := Record{ID: "r-1", Adapter: "phantom", Event: adapter.EventConnected, OccurredAt: time.Now().UTC()}
	if err := sink.Deliver(context.Background(), rec); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if pub.exchange != "wallet" || pub.key != adapter.EventConnected {
		t.Fatalf("unexpected routing %s/%s", pub.exchange, pub.key)
	}
	if pub.msg.ContentType != "application/json" || pub.msg.MessageId != "r-1" || pub.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing %#v", pub.msg)
	}
	var decoded Record
	if err := json.Unmarshal(pub.msg.Body, &decoded); err != nil || decoded.Adapter != "phantom" {
		t.Fatalf("unexpected body %s (%v)", pub.msg.Body, err)
	}

	if err := sink.Close(); err != nil || !pub.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestSinkConstructorsValidate(t *testing.T) {
	if _, err := NewRedisSink(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for empty redis address")
	}
	if _, err := NewRabbitMQSink(RabbitMQConfig{}); err == nil {
		t.Fatal("expected error for empty rabbitmq url")
	}
}
