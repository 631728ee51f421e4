package ethereum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"ProofChain/internal/web3"
	"ProofChain/pkg/logger"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name            string
	RPCURL          string
	WSURL           string
	ContractAddress string
	Notes           string
	// Logger receives connection warnings; defaults to the "web3" component logger.
	Logger          *slog.Logger
}

// Client talks to a single node. Contract reads, gas estimation and log
// filtering go through ethclient; node-managed accounts and
// eth_sendTransaction go through the raw RPC connection.
type Client struct {
	name        string
	notes       string
	contract    common.Address
	rpcClient   *gethrpc.Client
	eth         *ethclient.Client
	eventClient web3.LogSubscriber
	wsClient    *ethclient.Client
	mu          sync.Mutex
}

// NewClient dials the configured RPC endpoints and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	client := NewClientFromRPC(cfg.Name, rpcClient)
	client.notes = cfg.Notes
	if addr := strings.TrimSpace(cfg.ContractAddress); addr != "" {
		if !common.IsHexAddress(addr) {
			rpcClient.Close()
			return nil, fmt.Errorf("合约地址无效: %s", addr)
		}
		client.contract = common.HexToAddress(addr)
	}

	if wsURL := strings.TrimSpace(cfg.WSURL); wsURL != "" {
		// a websocket endpoint is optional; the gateway falls back to polling
		wsRPC, wsErr := gethrpc.DialContext(ctx, wsURL)
		if wsErr != nil {
			log := cfg.Logger
			if log == nil {
				log = logger.Named("web3")
			}
			log.Warn("websocket endpoint unavailable, contract events will be polled",
				slog.String("chain", cfg.Name),
				slog.String("ws_url", wsURL),
				slog.String("error", wsErr.Error()))
		} else {
			client.wsClient = ethclient.NewClient(wsRPC)
			client.eventClient = client.wsClient
		}
	}
	return client, nil
}

// NewClientFromRPC wraps an established RPC connection, such as an
// in-process server in tests.
func NewClientFromRPC(name string, rpcClient *gethrpc.Client) *Client {
	eth := ethclient.NewClient(rpcClient)
	return &Client{
		name:        name,
		rpcClient:   rpcClient,
		eth:         eth,
		eventClient: eth,
	}
}

// Name returns the chain name the client was registered under.
func (c *Client) Name() string {
	return c.name
}

// Notes returns the free-form chain description.
func (c *Client) Notes() string {
	return c.notes
}

// ContractAddress returns the proof contract address configured for this
// chain, or the zero address when none was given.
func (c *Client) ContractAddress() common.Address {
	return c.contract
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.wsClient != nil {
		c.wsClient.Close()
		c.wsClient = nil
	}
	c.eventClient = nil
	if c.eth != nil {
		// closes rpcClient as well
		c.eth.Close()
		c.eth = nil
	}
	c.rpcClient = nil
}

// CallContract executes a constant call against the latest state.
func (c *Client) CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error) {
	eth, err := c.ethBackend()
	if err != nil {
		return nil, err
	}
	return eth.CallContract(ctx, msg, blockNumber)
}

// EstimateGas dry-runs msg on the node and returns the gas it would consume.
func (c *Client) EstimateGas(ctx context.Context, msg gethcore.CallMsg) (uint64, error) {
	eth, err := c.ethBackend()
	if err != nil {
		return 0, err
	}
	return eth.EstimateGas(ctx, msg)
}

// FilterLogs runs a one-shot log query.
func (c *Client) FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error) {
	eth, err := c.ethBackend()
	if err != nil {
		return nil, err
	}
	return eth.FilterLogs(ctx, q)
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	eth, err := c.ethBackend()
	if err != nil {
		return 0, err
	}
	return eth.BlockNumber(ctx)
}

// SubscribeFilterLogs attaches a push subscription. Over plain HTTP the node
// rejects it and callers are expected to poll FilterLogs instead.
func (c *Client) SubscribeFilterLogs(ctx context.Context, q gethcore.FilterQuery, ch chan<- coretypes.Log) (gethcore.Subscription, error) {
	c.mu.Lock()
	subscriber := c.eventClient
	c.mu.Unlock()
	if subscriber == nil {
		return nil, errors.New("当前客户端不支持事件订阅")
	}
	return subscriber.SubscribeFilterLogs(ctx, q, ch)
}

// UnlockAccount calls personal_unlockAccount. A zero duration leaves the
// node's default unlock window in place.
func (c *Client) UnlockAccount(ctx context.Context, account common.Address, password string, duration uint64) (bool, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return false, err
	}
	var unlocked bool
	var window *uint64
	if duration > 0 {
		window = &duration
	}
	if err := rpcClient.CallContext(ctx, &unlocked, "personal_unlockAccount", account, password, window); err != nil {
		return false, err
	}
	return unlocked, nil
}

// LockAccount calls personal_lockAccount.
func (c *Client) LockAccount(ctx context.Context, account common.Address) (bool, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return false, err
	}
	var locked bool
	if err := rpcClient.CallContext(ctx, &locked, "personal_lockAccount", account); err != nil {
		return false, err
	}
	return locked, nil
}

// SendTransaction submits args through eth_sendTransaction and returns the
// hash the node acknowledged. It does not wait for the transaction to be mined.
func (c *Client) SendTransaction(ctx context.Context, args web3.TxArgs) (common.Hash, error) {
	rpcClient, err := c.rpc()
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := rpcClient.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (c *Client) ethBackend() (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	return c.eth, nil
}

func (c *Client) rpc() (*gethrpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpcClient == nil {
		return nil, errors.New("未初始化的以太坊客户端")
	}
	return c.rpcClient, nil
}

var (
	_ web3.ContractBackend = (*Client)(nil)
	_ web3.LogSubscriber   = (*Client)(nil)
	_ web3.Accounts        = (*Client)(nil)
)
