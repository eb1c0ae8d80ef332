package main

import (
	"context"
	"testing"
	"time"

	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/internal/relay"
	"OpenMCP-Wallet/internal/storage/journal"
	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/web3/ethereum"
)

func TestNewDevWallet(t *testing.T) {
	w, err := newDevWallet(config.DevWalletConfig{Decision: "approve"})
	if err != nil {
		t.Fatalf("dev wallet: %v", err)
	}
	if err := w.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if len(w.PublicKey()) != 33 {
		t.Fatalf("expected a compressed public key, got %d bytes", len(w.PublicKey()))
	}
	if _, err := ethereum.AddressFromIdentity(w.PublicKey()); err != nil {
		t.Fatalf("generated key must map to an account: %v", err)
	}

	if _, err := newDevWallet(config.DevWalletConfig{Decision: "later"}); err == nil {
		t.Fatal("expected unknown decision to fail")
	}
	if _, err := newDevWallet(config.DevWalletConfig{PublicKey: "0x"}); err == nil {
		t.Fatal("expected empty public key to fail")
	}
}

func TestBuildAgentLookupDelaysInjection(t *testing.T) {
	cfg := config.WalletConfig{
		Agent: "injected",
		Slot:  "solana",
		Dev:   config.DevWalletConfig{InjectMS: 20},
	}
	lookup, stop, err := buildAgentLookup(cfg)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	defer stop()

	if _, ok := lookup(context.Background()); ok {
		t.Fatal("agent must not be present before the delay")
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := lookup(context.Background()); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("agent was never injected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBuildSinksDefaultsToSQLiteJournal(t *testing.T) {
	cfg, err := config.Parse([]byte(`{}`), t.TempDir())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	history := relay.NewMemorySink(cfg.Relay.History)
	sinks, err := buildSinks(context.Background(), cfg, history)
	if err != nil {
		t.Fatalf("build sinks: %v", err)
	}
	defer func() {
		for _, sink := range sinks {
			_ = sink.Close()
		}
	}()

	if len(sinks) != 2 || sinks[0].Name() != "memory" || sinks[1].Name() != journal.DriverSQLite {
		names := make([]string, 0, len(sinks))
		for _, sink := range sinks {
			names = append(names, sink.Name())
		}
		t.Fatalf("unexpected sinks %v", names)
	}
}

func TestBuildSessionFactoryWithoutChains(t *testing.T) {
	factory, closeFn, err := buildSessionFactory(context.Background(), config.Web3Config{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer closeFn()
	if _, ok := factory.(wallet.IdentityFactory); !ok {
		t.Fatalf("expected identity factory, got %T", factory)
	}
}
