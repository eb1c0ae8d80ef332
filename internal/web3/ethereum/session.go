package ethereum

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"OpenMCP-Wallet/internal/wallet"
	"OpenMCP-Wallet/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// ErrSessionClosed is returned by a session used after disconnect.
var ErrSessionClosed = errors.New("wallet session closed")

// AddressFromIdentity derives the EVM account from the public identity a
// wallet exposes: a 20 byte address, or a compressed (33 byte) or
// uncompressed (65 byte) secp256k1 public key.
func AddressFromIdentity(identity []byte) (common.Address, error) {
	switch len(identity) {
	case common.AddressLength:
		return common.BytesToAddress(identity), nil
	case 33:
		pub, err := crypto.DecompressPubkey(identity)
		if err != nil {
			return common.Address{}, fmt.Errorf("解析压缩公钥失败: %w", err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	case 65:
		pub, err := crypto.UnmarshalPubkey(identity)
		if err != nil {
			return common.Address{}, fmt.Errorf("解析公钥失败: %w", err)
		}
		return crypto.PubkeyToAddress(*pub), nil
	default:
		return common.Address{}, fmt.Errorf("不支持的公钥长度: %d", len(identity))
	}
}

// Session is the session provider for EVM chains: the connected account plus
// read access to the chain it lives on.
type Session struct {
	id       string
	identity []byte
	account  common.Address
	chain    web3.Chain
	closed   atomic.Bool
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Identity returns a copy of the wallet's public identity.
func (s *Session) Identity() []byte { return bytes.Clone(s.identity) }

// Account returns the derived account address.
func (s *Session) Account() common.Address { return s.account }

// Close invalidates the session. The chain client is shared and stays open.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether the session was invalidated.
func (s *Session) Closed() bool { return s.closed.Load() }

// State reads balance, nonce and chain metadata for the account.
func (s *Session) State(ctx context.Context) (web3.AccountState, error) {
	if s.closed.Load() {
		return web3.AccountState{}, ErrSessionClosed
	}
	if s.chain == nil {
		return web3.AccountState{}, errors.New("会话未绑定链客户端")
	}
	snapshot, err := s.chain.FetchChainSnapshot(ctx)
	if err != nil {
		return web3.AccountState{}, err
	}
	balance, err := s.chain.BalanceOf(ctx, s.account)
	if err != nil {
		return web3.AccountState{}, err
	}
	nonce, err := s.chain.NonceOf(ctx, s.account)
	if err != nil {
		return web3.AccountState{}, err
	}
	return web3.AccountState{Address: s.account, Balance: balance, Nonce: nonce, Chain: snapshot}, nil
}

// SessionFactory builds Session values bound to Chain. A nil chain yields
// account-only sessions.
type SessionFactory struct {
	Chain web3.Chain
}

// NewSession implements wallet.SessionFactory.
func (f SessionFactory) NewSession(_ context.Context, identity []byte) (wallet.SessionProvider, error) {
	account, err := AddressFromIdentity(identity)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:       uuid.NewString(),
		identity: bytes.Clone(identity),
		account:  account,
		chain:    f.Chain,
	}, nil
}
