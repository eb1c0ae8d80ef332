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
)

// Config 描述了 walletd 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
	Wallet   WalletConfig   `json:"wallet"`
	Web3     Web3Config     `json:"web3"`
	Relay    RelayConfig    `json:"relay"`
	Alerting AlertingConfig `json:"alerting"`
	Runtime  RuntimeConfig  `json:"runtime"`
}

// ServerConfig 控制控制面 API 的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// MetricsConfig 控制指标暴露方式。Address 为空时指标挂载在 API 服务上。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level   string         `json:"level"`
	Format  string         `json:"format"`
	Outputs []string       `json:"outputs"`
	Audit   AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制状态迁移审计日志的滚动策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// WalletConfig 描述钱包发现、握手以及开发模式下的内置钱包。
type WalletConfig struct {
	Adapter            string          `json:"adapter"`
	Agent              string          `json:"agent"`
	Slot               string          `json:"slot"`
	RPCURL             string          `json:"rpc_url"`
	ProbeIntervalMS    int             `json:"probe_interval_ms"`
	ProbeAttempts      int             `json:"probe_attempts"`
	HandshakeTimeoutMS int             `json:"handshake_timeout_ms"`
	AutoConnect        bool            `json:"auto_connect"`
	Dev                DevWalletConfig `json:"dev"`
}

// DevWalletConfig 描述进程内钱包，仅在 agent 为 injected 时生效。
type DevWalletConfig struct {
	PublicKey  string `json:"public_key"`
	Decision   string `json:"decision"`
	InjectMS   int    `json:"inject_delay_ms"`
	Disconnect string `json:"disconnect_error"`
}

// ProbeInterval 返回探测间隔。
func (w WalletConfig) ProbeInterval() time.Duration {
	return time.Duration(w.ProbeIntervalMS) * time.Millisecond
}

// HandshakeTimeout 返回单次连接握手的超时时间，零表示不限制。
func (w WalletConfig) HandshakeTimeout() time.Duration {
	return time.Duration(w.HandshakeTimeoutMS) * time.Millisecond
}

// InjectDelay 返回开发钱包延迟注入的时间。
func (d DevWalletConfig) InjectDelay() time.Duration {
	return time.Duration(d.InjectMS) * time.Millisecond
}

// Web3Config 包含访问区块链节点所需的 RPC 地址。
type Web3Config struct {
	RPCURL       string `json:"rpc_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
}

// Enabled 判断是否配置了任何链端点。
func (w Web3Config) Enabled() bool {
	return strings.TrimSpace(w.RPCURL) != "" || strings.TrimSpace(w.ChainConfig) != ""
}

// RelayConfig 描述生命周期事件的转发目标。
type RelayConfig struct {
	BufferSize int            `json:"buffer_size"`
	History    int            `json:"history"`
	Redis      RedisConfig    `json:"redis"`
	RabbitMQ   RabbitMQConfig `json:"rabbitmq"`
	MySQL      MySQLConfig    `json:"mysql"`
}

// RedisConfig 对应 Redis 事件通道。
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Channel   string `json:"channel"`
	ListKey   string `json:"list_key"`
	ListLimit int64  `json:"list_limit"`
}

// RabbitMQConfig 对应 RabbitMQ 事件交换机。
type RabbitMQConfig struct {
	Enabled  bool   `json:"enabled"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
	Durable  bool   `json:"durable"`
}

// MySQLConfig 对应生命周期事件日志表。
type MySQLConfig struct {
	Enabled                bool   `json:"enabled"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// AlertingConfig 控制需要告警的错误事件的通知方式。Webhook 为空时只写日志。
type AlertingConfig struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
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

	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析 JSON 内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if len(strings.TrimSpace(string(content))) > 0 {
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, filepath.Join("logs", "audit.log"))
	}

	if c.Wallet.Adapter == "" {
		c.Wallet.Adapter = "phantom"
	}
	if c.Wallet.Agent == "" {
		c.Wallet.Agent = "injected"
	}
	if c.Wallet.Slot == "" {
		c.Wallet.Slot = "solana"
	}
	if c.Wallet.ProbeIntervalMS <= 0 {
		c.Wallet.ProbeIntervalMS = 500
	}
	if c.Wallet.ProbeAttempts <= 0 {
		c.Wallet.ProbeAttempts = 3
	}
	if c.Wallet.Dev.Decision == "" {
		c.Wallet.Dev.Decision = "approve"
	}

	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}

	if c.Relay.BufferSize <= 0 {
		c.Relay.BufferSize = 256
	}
	if c.Relay.History <= 0 {
		c.Relay.History = 100
	}
	if c.Relay.Redis.Channel == "" {
		c.Relay.Redis.Channel = "openmcp:wallet:events"
	}
	if c.Relay.Redis.ListKey == "" {
		c.Relay.Redis.ListKey = "openmcp:wallet:history"
	}
	if c.Relay.Redis.ListLimit <= 0 {
		c.Relay.Redis.ListLimit = int64(c.Relay.History)
	}
	if c.Relay.RabbitMQ.Exchange == "" {
		c.Relay.RabbitMQ.Exchange = "openmcp.wallet.events"
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")
}

func (c *Config) validate() error {
	switch c.Wallet.Agent {
	case "injected":
	case "rpc":
		if strings.TrimSpace(c.Wallet.RPCURL) == "" {
			return errors.New("wallet.agent 为 rpc 时必须配置 wallet.rpc_url")
		}
	default:
		return fmt.Errorf("未知的钱包类型: %s", c.Wallet.Agent)
	}
	if c.Relay.Redis.Enabled && strings.TrimSpace(c.Relay.Redis.Address) == "" {
		return errors.New("启用 Redis 事件通道时必须配置 relay.redis.address")
	}
	if c.Relay.RabbitMQ.Enabled && strings.TrimSpace(c.Relay.RabbitMQ.URL) == "" {
		return errors.New("启用 RabbitMQ 事件通道时必须配置 relay.rabbitmq.url")
	}
	if c.Relay.MySQL.Enabled && strings.TrimSpace(c.Relay.MySQL.DSN) == "" {
		return errors.New("启用 MySQL 事件日志时必须配置 relay.mysql.dsn")
	}
	return nil
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
