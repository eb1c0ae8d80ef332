package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"OpenMCP-Wallet/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Backend is the subset of go-ethereum client methods a session needs. Both
// *ethclient.Client and the simulated backend client satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Client implements web3.Chain for EVM compatible networks.
type Client struct {
	name    string
	notes   string
	mu      sync.RWMutex
	backend Backend
	closer  func()
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}
	eth := ethclient.NewClient(rpcClient)

	return &Client{
		name:    cfg.Name,
		notes:   cfg.Notes,
		backend: eth,
		closer:  eth.Close,
	}, nil
}

// NewBackendClient wraps an already constructed backend, e.g. the
// go-ethereum simulated backend in tests.
func NewBackendClient(name string, backend Backend, notes string) *Client {
	return &Client{name: name, notes: notes, backend: backend}
}

// Name returns the chain name from the configuration.
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closer != nil {
		c.closer()
		c.closer = nil
	}
	c.backend = nil
}

func (c *Client) current() (Backend, error) {
	if c == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.backend == nil {
		return nil, errors.New("以太坊客户端已关闭")
	}
	return c.backend, nil
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	backend, err := c.current()
	if err != nil {
		return web3.ChainSnapshot{}, err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := backend.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// BalanceOf returns the latest balance of account in wei.
func (c *Client) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	backend, err := c.current()
	if err != nil {
		return nil, err
	}
	balance, err := backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return balance, nil
}

// NonceOf returns the pending nonce of account.
func (c *Client) NonceOf(ctx context.Context, account common.Address) (uint64, error) {
	backend, err := c.current()
	if err != nil {
		return 0, err
	}
	nonce, err := backend.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("查询交易计数失败: %w", err)
	}
	return nonce, nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}
