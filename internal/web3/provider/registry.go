package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"ProofChain/internal/config"
	"ProofChain/internal/web3"
	"ProofChain/internal/web3/ethereum"
	"ProofChain/pkg/logger"
)

// Registry manages a set of chain clients keyed by human readable names.
type Registry struct {
	defaultChain string
	clients      map[string]*ethereum.Client
}

// Dialer constructs a chain client; tests replace it to avoid network access.
type Dialer func(ctx context.Context, cfg ethereum.Config) (*ethereum.Client, error)

// NewRegistry loads chain definitions and instantiates concrete clients.
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	return NewRegistryWithDialer(ctx, cfg, ethereum.NewClient)
}

// NewRegistryWithDialer is NewRegistry with a custom dialer.
func NewRegistryWithDialer(ctx context.Context, cfg config.Web3Config, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	defaultChain := cfg.DefaultChain
	if defaultChain == "" && len(defs.Chains) > 0 {
		names := make([]string, 0, len(defs.Chains))
		for name := range defs.Chains {
			names = append(names, name)
		}
		sort.Strings(names)
		defaultChain = names[0]
	}

	r := &Registry{clients: make(map[string]*ethereum.Client)}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType != "" && chainType != "evm" {
			r.Close()
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		contract := chain.ContractAddress
		if contract == "" {
			contract = cfg.ContractAddress
		}
		rpcURL := chain.RPCURL
		if override := strings.TrimSpace(cfg.RPCOverride); override != "" && name == defaultChain {
			logger.Named("web3").Info("rpc endpoint overridden by environment",
				slog.String("chain", name),
				slog.String("rpc_url", override))
			rpcURL = override
		}
		client, err := dial(ctx, ethereum.Config{
			Name:            name,
			RPCURL:          rpcURL,
			WSURL:           chain.WSURL,
			ContractAddress: contract,
			Notes:           chain.Description,
		})
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		r.clients[name] = client
	}

	if len(r.clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := dial(ctx, ethereum.Config{
			Name:            "default",
			RPCURL:          cfg.RPCURL,
			WSURL:           cfg.WSURL,
			ContractAddress: cfg.ContractAddress,
		})
		if err != nil {
			return nil, err
		}
		r.clients["default"] = client
		if defaultChain == "" {
			defaultChain = "default"
		}
	}

	if len(r.clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		defaultChain = r.Chains()[0]
	}
	if _, ok := r.clients[defaultChain]; !ok {
		r.Close()
		return nil, fmt.Errorf("默认链 %s 未在配置中找到", defaultChain)
	}
	r.defaultChain = defaultChain
	return r, nil
}

// DefaultClient returns the client configured as default chain.
func (r *Registry) DefaultClient() (*ethereum.Client, error) {
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
func (r *Registry) Client(name string) (*ethereum.Client, bool) {
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

// Chains returns the sorted list of registered chain names.
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
