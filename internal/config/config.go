package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ProofChain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// 环境变量覆盖项，只覆盖 RPC 地址与合约地址。
const (
	EnvRPCEndpoint     = "PROOFCHAIN_RPC_ENDPOINT"
	EnvContractAddress = "PROOFCHAIN_CONTRACT_ADDRESS"
)

// Config 描述了 ProofChain 网关在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Log     logger.Config `json:"log"`
	Metrics MetricsConfig `json:"metrics"`
	Web3    Web3Config    `json:"web3"`
	Gateway GatewayConfig `json:"gateway"`
	Ledger  LedgerConfig  `json:"ledger"`
	Events  EventsConfig  `json:"events"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制独立的指标监听端口，为空时只通过 API 的 /metrics 暴露。
type MetricsConfig struct {
	Address string `json:"address"`
}

// Web3Config 包含访问区块链节点所需的 RPC 地址与合约地址。
type Web3Config struct {
	RPCURL          string `json:"rpc_url"`
	WSURL           string `json:"ws_url"`
	ChainConfig     string `json:"chain_config"`
	DefaultChain    string `json:"default_chain"`
	ContractAddress string `json:"contract_address"`
	// RPCOverride 记录来自环境变量的 RPC 地址，链配置文件存在时作用于默认链。
	RPCOverride     string `json:"-"`
}

// GatewayConfig 控制合约网关的行为。
type GatewayConfig struct {
	UnlockDurationSeconds uint64 `json:"unlock_duration_seconds"`
	PollIntervalSeconds   int    `json:"poll_interval_seconds"`
	DisableListener       bool   `json:"disable_listener"`
}

// PollInterval 返回事件轮询间隔。
func (g GatewayConfig) PollInterval() time.Duration {
	return time.Duration(g.PollIntervalSeconds) * time.Second
}

// LedgerConfig 描述交易台账的存储后端。
type LedgerConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// EventsConfig 描述完成事件的投递渠道。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 事件通道。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	List     string `json:"list"`
	Channel  string `json:"channel"`
	MaxLen   int64  `json:"max_len"`
}

// RabbitMQConfig 描述 RabbitMQ 事件队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件，并应用默认值与环境变量覆盖。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Gateway.PollIntervalSeconds <= 0 {
		c.Gateway.PollIntervalSeconds = 5
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
}

// applyEnv 使用环境变量覆盖 RPC 地址与合约地址。
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRPCEndpoint); ok && strings.TrimSpace(v) != "" {
		c.Web3.RPCURL = strings.TrimSpace(v)
		c.Web3.RPCOverride = c.Web3.RPCURL
	}
	if v, ok := lookup(EnvContractAddress); ok && strings.TrimSpace(v) != "" {
		c.Web3.ContractAddress = strings.TrimSpace(v)
	}
}

// Validate 检查配置中互相关联的字段。
func (c *Config) Validate() error {
	if addr := strings.TrimSpace(c.Web3.ContractAddress); addr != "" && !common.IsHexAddress(addr) {
		return fmt.Errorf("合约地址无效: %s", addr)
	}
	if c.Web3.RPCURL == "" && c.Web3.ChainConfig == "" {
		return errors.New("未配置 RPC 地址或链配置文件")
	}

	switch c.Ledger.Driver {
	case "memory", "file":
	case "mysql":
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return errors.New("mysql 台账需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的台账驱动: %s", c.Ledger.Driver)
	}

	switch c.Events.Driver {
	case "log":
	case "memory":
		return errors.New("memory 事件通道没有消费者，守护进程请使用 log、redis 或 rabbitmq")
	case "redis":
		if c.Events.Redis.Address == "" {
			return errors.New("redis 事件通道需要配置 address")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("rabbitmq 事件通道需要配置 url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}
	return nil
}
