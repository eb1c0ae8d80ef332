package probe

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"OpenMCP-Wallet/internal/wallet"
)

type fakeAgent struct {
	*wallet.Base
}

func (fakeAgent) Connect(context.Context) error    { return nil }
func (fakeAgent) Disconnect(context.Context) error { return nil }

func lookupAfter(calls *atomic.Int32, appearOn int32) LookupFunc {
	agent := fakeAgent{Base: wallet.NewBase()}
	return func(context.Context) (wallet.Agent, bool) {
		n := calls.Add(1)
		if appearOn > 0 && n >= appearOn {
			return agent, true
		}
		return nil, false
	}
}

func TestFindImmediateHit(t *testing.T) {
	var calls atomic.Int32
	p := New(lookupAfter(&calls, 1), WithInterval(time.Hour))

	start := time.Now()
	agent, err := p.Find(context.Background())
	if err != nil || agent == nil {
		t.Fatalf("expected agent, got %v %v", agent, err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("first attempt must not wait")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 lookup, got %d", calls.Load())
	}
}

func TestFindAppearsOnSecondAttempt(t *testing.T) {
	var calls atomic.Int32
	interval := 200 * time.Millisecond
	p := New(lookupAfter(&calls, 2), WithInterval(interval), WithAttempts(3))

	start := time.Now()
	agent, err := p.Find(context.Background())
	elapsed := time.Since(start)
	if err != nil || agent == nil {
		t.Fatalf("expected agent, got %v %v", agent, err)
	}
	if elapsed < interval {
		t.Fatalf("returned before one interval elapsed: %s", elapsed)
	}
	if elapsed >= 2*interval {
		t.Fatalf("waited for a third attempt: %s", elapsed)
	}

	time.Sleep(interval + 50*time.Millisecond)
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 lookups, got %d", calls.Load())
	}
}

func TestFindExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	p := New(lookupAfter(&calls, 0), WithInterval(10*time.Millisecond), WithAttempts(3))

	_, err := p.Find(context.Background())
	if !errors.Is(err, wallet.ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 lookups, got %d", calls.Load())
	}
}

func TestFindCancelled(t *testing.T) {
	var calls atomic.Int32
	p := New(lookupAfter(&calls, 0), WithInterval(time.Hour), WithAttempts(3))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := p.Find(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 lookup before cancellation, got %d", calls.Load())
	}
}

func TestFindWithoutLookup(t *testing.T) {
	if _, err := New(nil).Find(context.Background()); !errors.Is(err, wallet.ErrNotInstalled) {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
}
