package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"OpenMCP-Wallet/internal/config"
	"OpenMCP-Wallet/internal/web3"
	"OpenMCP-Wallet/internal/web3/ethereum"
)

// ErrNoChains is returned when neither a chain file nor an RPC URL is set.
var ErrNoChains = errors.New("未配置任何链的 RPC 端点")

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]web3.Chain
}

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Chain)
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		switch chainType {
		case "evm":
			client, err := ethereum.NewClient(ctx, ethereum.Config{
				Name:   name,
				RPCURL: chain.RPCURL,
				Notes:  chain.Description,
			})
			if err != nil {
				closeAll(clients)
				return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
			}
			clients[name] = client
		default:
			closeAll(clients)
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" {
		defaultChain = defs.Default
	}

	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		defaultChain = "default"
	}

	if len(clients) == 0 {
		return nil, ErrNoChains
	}
	return newRegistry(defaultChain, clients)
}

// NewStaticRegistry builds a registry from existing clients.
func NewStaticRegistry(defaultChain string, clients map[string]web3.Chain) (*Registry, error) {
	if len(clients) == 0 {
		return nil, ErrNoChains
	}
	copied := make(map[string]web3.Chain, len(clients))
	for name, client := range clients {
		copied[name] = client
	}
	return newRegistry(defaultChain, copied)
}

func newRegistry(defaultChain string, clients map[string]web3.Chain) (*Registry, error) {
	if defaultChain == "" {
		names := make([]string, 0, len(clients))
		for name := range clients {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}
	if _, ok := clients[defaultChain]; !ok {
		closeAll(clients)
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

func closeAll(clients map[string]web3.Chain) {
	for _, client := range clients {
		if client != nil {
			client.Close()
		}
	}
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (web3.Chain, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	client, ok := r.clients[r.defaultChain]
	if !ok {
		return nil, fmt.Errorf("默认链 %s 未在注册表中", r.defaultChain)
	}
	return client, nil
}

// Client returns the chain client identified by name.
func (r *Registry) Client(name string) (web3.Chain, bool) {
	if r == nil {
		return nil, false
	}
	client, ok := r.clients[name]
	return client, ok
}

// Close releases all clients managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
