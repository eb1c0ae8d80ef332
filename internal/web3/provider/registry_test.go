package provider

import (
	"context"
	"errors"
	"math/big"
	"reflect"
	"testing"

	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

type fakeChain struct {
	name   string
	closed bool
}

func (f *fakeChain) Name() string { return f.name }
func (f *fakeChain) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return web3.ChainSnapshot{ChainID: "0x1"}, nil
}
func (f *fakeChain) BalanceOf(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (f *fakeChain) NonceOf(context.Context, common.Address) (uint64, error) { return 0, nil }
func (f *fakeChain) Close()                                                  { f.closed = true }

func TestStaticRegistryDefaultsToFirstName(t *testing.T) {
	a, b := &fakeChain{name: "alpha"}, &fakeChain{name: "beta"}
	reg, err := NewStaticRegistry("", map[string]web3.Chain{"beta": b, "alpha": a})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	client, err := reg.DefaultClient()
	if err != nil || client.Name() != "alpha" {
		t.Fatalf("unexpected default %v %v", client, err)
	}
	if !reflect.DeepEqual(reg.Chains(), []string{"alpha", "beta"}) {
		t.Fatalf("unexpected chains %v", reg.Chains())
	}

	reg.Close()
	if !a.closed || !b.closed {
		t.Fatal("Close should close every client")
	}
}

func TestStaticRegistryUnknownDefault(t *testing.T) {
	a := &fakeChain{name: "alpha"}
	if _, err := NewStaticRegistry("missing", map[string]web3.Chain{"alpha": a}); err == nil {
		t.Fatal("expected error for unknown default chain")
	}
	if !a.closed {
		t.Fatal("clients should be released on error")
	}
}

func TestNewRegistryWithoutEndpoints(t *testing.T) {
	if _, err := NewRegistry(context.Background(), config.Web3Config{}); !errors.Is(err, ErrNoChains) {
		t.Fatalf("expected ErrNoChains, got %v", err)
	}
}
