package web3

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ChainSnapshot represents summarized network metadata for UI/reporting.
type ChainSnapshot struct {
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// AccountState is the on-chain view of the connected account.
type AccountState struct {
	Address common.Address `json:"address"`
	Balance *big.Int       `json:"balance"`
	Nonce   uint64         `json:"nonce"`
	Chain   ChainSnapshot  `json:"chain"`
}

// Chain defines the read access a wallet session needs from a network, so
// sessions work the same way regardless of the concrete client.
type Chain interface {
	Name() string
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	NonceOf(ctx context.Context, account common.Address) (uint64, error)
	Close()
}
