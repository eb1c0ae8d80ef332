package injected

import (
	"context"
	"errors"
	"testing"
	"time"

	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/wallet/probe"
)

func TestEnvironmentLateInjection(t *testing.T) {
	env := NewEnvironment()
	w := New([]byte{1}, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		env.Inject(DefaultSlot, w)
	}()

	p := probe.New(env.Lookup(DefaultSlot), probe.WithInterval(20*time.Millisecond), probe.WithAttempts(50))
	agent, err := p.Find(context.Background())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if agent != wallet.Agent(w) {
		t.Fatal("probe returned a different agent")
	}

	env.Remove(DefaultSlot)
	if _, ok := env.Get(DefaultSlot); ok {
		t.Fatal("slot should be empty after Remove")
	}
}

func TestWalletDecisions(t *testing.T) {
	ctx := context.Background()

	t.Run("approve", func(t *testing.T) {
		w := New([]byte{1, 2}, Always(Approve))
		var connected bool
		w.On(wallet.SignalConnect, func(any) { connected = true })
		if err := w.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if !connected || !w.IsConnected() || len(w.PublicKey()) != 2 {
			t.Fatal("approve should connect and expose the key")
		}
	})

	t.Run("reject", func(t *testing.T) {
		w := New([]byte{1}, Always(Reject))
		if err := w.Connect(ctx); !errors.Is(err, ErrUserRejected) {
			t.Fatalf("expected ErrUserRejected, got %v", err)
		}
		if w.IsConnected() {
			t.Fatal("reject must not connect")
		}
	})

	t.Run("dismiss", func(t *testing.T) {
		w := New([]byte{1}, Always(Dismiss))
		var hooked bool
		w.SetDisconnectHook(func(error) { hooked = true })
		if err := w.Connect(ctx); err != nil {
			t.Fatalf("dismiss resolves the call: %v", err)
		}
		if !hooked {
			t.Fatal("dismiss should run the disconnect hook")
		}
	})

	t.Run("approve without key", func(t *testing.T) {
		w := New([]byte{1}, Always(ApproveWithoutKey))
		if err := w.Connect(ctx); err != nil {
			t.Fatalf("connect: %v", err)
		}
		if w.PublicKey() != nil {
			t.Fatal("expected no key")
		}
	})
}

func TestWalletDisconnectAndRevoke(t *testing.T) {
	w := New([]byte{1}, nil)
	var disconnects int
	w.On(wallet.SignalDisconnect, func(any) { disconnects++ })

	_ = w.Connect(context.Background())
	boom := errors.New("boom")
	w.FailDisconnect(boom)
	if err := w.Disconnect(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !w.IsConnected() {
		t.Fatal("failed disconnect must keep the session")
	}

	w.FailDisconnect(nil)
	w.Revoke(nil)
	if w.IsConnected() || disconnects != 1 {
		t.Fatalf("revoke should disconnect once, got %d", disconnects)
	}
	if w.ConnectCalls() != 1 {
		t.Fatalf("unexpected connect calls %d", w.ConnectCalls())
	}
}

func TestParseDecision(t *testing.T) {
	cases := map[string]Decision{
		"":                    Approve,
		"Approve":             Approve,
		"reject":              Reject,
		" dismiss ":           Dismiss,
		"approve_without_key": ApproveWithoutKey,
	}
	for name, want := range cases {
		got, err := ParseDecision(name)
		if err != nil || got != want {
			t.Fatalf("ParseDecision(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseDecision("maybe"); err == nil {
		t.Fatal("expected error for unknown decision")
	}
}
