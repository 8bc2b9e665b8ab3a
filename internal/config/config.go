package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 是覆盖配置项时使用的环境变量前缀，例如 DRAAS_SCHEDULER_BASE_URL。
const EnvPrefix = "DRAAS"

// Config 描述了控制台在启动阶段需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Web3      Web3Config      `mapstructure:"web3"`
	Poll      PollConfig      `mapstructure:"poll"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Events    EventsConfig    `mapstructure:"events"`
	Log       LogConfig       `mapstructure:"log"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig 控制展示层 HTTP API 的监听地址。
type ServerConfig struct {
	Address        string `mapstructure:"address"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
	// APITokenEnv 指定保存 API 令牌的环境变量；为空时接口不做认证。
	APITokenEnv string `mapstructure:"api_token_env"`
}

// APIToken 返回访问 /api/v1 所需的 Bearer 令牌。
func (c ServerConfig) APIToken() string {
	if strings.TrimSpace(c.APITokenEnv) == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.APITokenEnv))
}

// SchedulerConfig 描述链下调度 API 的访问方式。
type SchedulerConfig struct {
	BaseURL        string            `mapstructure:"base_url"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	Headers        map[string]string `mapstructure:"headers"`
	RateLimit      float64           `mapstructure:"rate_limit"`
	RateBurst      int               `mapstructure:"rate_burst"`
	Retries        int               `mapstructure:"retries"`
}

// Timeout 返回单次请求的超时时间。
func (c SchedulerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Web3Config 包含链上付费所需的节点、合约与钱包信息。
type Web3Config struct {
	RPCURL                string `mapstructure:"rpc_url"`
	ChainConfig           string `mapstructure:"chain_config"`
	DefaultChain          string `mapstructure:"default_chain"`
	ContractAddress       string `mapstructure:"contract_address"`
	FeeWei                string `mapstructure:"fee_wei"`
	GasLimit              uint64 `mapstructure:"gas_limit"`
	PrivateKeyEnv         string `mapstructure:"private_key_env"`
	KeystorePath          string `mapstructure:"keystore_path"`
	KeystorePassEnv       string `mapstructure:"keystore_passphrase_env"`
	PaymentTimeoutSeconds int    `mapstructure:"payment_timeout_seconds"`
	ReceiptPollMillis     int    `mapstructure:"receipt_poll_millis"`
	Confirmations         uint64 `mapstructure:"confirmations"`
}

// PaymentTimeout 返回等待交易确认的上限。
func (c Web3Config) PaymentTimeout() time.Duration {
	return time.Duration(c.PaymentTimeoutSeconds) * time.Second
}

// ReceiptPollInterval 返回轮询交易回执的间隔。
func (c Web3Config) ReceiptPollInterval() time.Duration {
	return time.Duration(c.ReceiptPollMillis) * time.Millisecond
}

// PollConfig 控制代理与部署快照的轮询周期。
type PollConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// Interval 返回轮询间隔。
func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// JournalConfig 选择支付日志的存储后端。
type JournalConfig struct {
	Driver string      `mapstructure:"driver"`
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// EventsConfig 选择会话事件的发布渠道。
type EventsConfig struct {
	Driver   string         `mapstructure:"driver"`
	Redis    RedisConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL     string `mapstructure:"url"`
	Queue   string `mapstructure:"queue"`
	Durable bool   `mapstructure:"durable"`
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
	AuditPath   string   `mapstructure:"audit_path"`

	// 审计日志按 UTC 日期分文件，单个文件超过 AuditMaxSizeMB 时在当天续写下一个分片。
	AuditMaxSizeMB     int `mapstructure:"audit_max_size_mb"`
	AuditRetentionDays int `mapstructure:"audit_retention_days"`
}

// TracingConfig 控制 OpenTelemetry 链路追踪。
type TracingConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

// MetricsConfig 控制 Prometheus 指标端点。
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// Load 解析指定路径的配置文件（JSON 或 YAML），并叠加 DRAAS_* 环境变量。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	baseDir := "."
	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindEnvKeys 让 AutomaticEnv 能够覆盖配置文件中不存在的键。
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"server.address",
		"server.api_token_env",
		"scheduler.base_url",
		"scheduler.timeout_seconds",
		"scheduler.retries",
		"web3.rpc_url",
		"web3.chain_config",
		"web3.default_chain",
		"web3.contract_address",
		"web3.fee_wei",
		"web3.private_key_env",
		"web3.payment_timeout_seconds",
		"poll.interval_seconds",
		"journal.driver",
		"journal.dsn",
		"events.driver",
		"log.level",
		"log.format",
		"metrics.address",
	} {
		_ = v.BindEnv(key)
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = "127.0.0.1:8090"
	}
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = 256 << 20
	}

	if c.Scheduler.BaseURL == "" {
		c.Scheduler.BaseURL = "http://localhost:5000"
	}
	if c.Scheduler.TimeoutSeconds <= 0 {
		c.Scheduler.TimeoutSeconds = 15
	}
	switch {
	case c.Scheduler.Retries == 0:
		c.Scheduler.Retries = 2
	case c.Scheduler.Retries < 0:
		// 负数表示关闭重试
		c.Scheduler.Retries = 0
	}
	if c.Scheduler.RateLimit <= 0 {
		c.Scheduler.RateLimit = 10
	}
	if c.Scheduler.RateBurst <= 0 {
		c.Scheduler.RateBurst = 5
	}

	if c.Web3.PaymentTimeoutSeconds <= 0 {
		c.Web3.PaymentTimeoutSeconds = 300
	}
	if c.Web3.ReceiptPollMillis <= 0 {
		c.Web3.ReceiptPollMillis = 2000
	}
	if c.Web3.ChainConfig != "" && !filepath.IsAbs(c.Web3.ChainConfig) {
		c.Web3.ChainConfig = filepath.Join(baseDir, c.Web3.ChainConfig)
	}
	if c.Web3.KeystorePath != "" && !filepath.IsAbs(c.Web3.KeystorePath) {
		c.Web3.KeystorePath = filepath.Join(baseDir, c.Web3.KeystorePath)
	}

	if c.Poll.IntervalSeconds <= 0 {
		c.Poll.IntervalSeconds = 5
	}

	if c.Journal.Driver == "" {
		c.Journal.Driver = "memory"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "draas-console"
	}
}

// Validate 检查互相依赖的配置项。
func (c *Config) Validate() error {
	switch c.Journal.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return errors.New("journal.driver=mysql 需要配置 journal.dsn")
		}
	case "redis":
		if strings.TrimSpace(c.Journal.Redis.Address) == "" {
			return errors.New("journal.driver=redis 需要配置 journal.redis.address")
		}
	default:
		return fmt.Errorf("未知的支付日志驱动: %s", c.Journal.Driver)
	}

	switch c.Events.Driver {
	case "none", "memory":
	case "redis":
		if strings.TrimSpace(c.Events.Redis.Address) == "" {
			return errors.New("events.driver=redis 需要配置 events.redis.address")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
			return errors.New("events.driver=rabbitmq 需要配置 events.rabbitmq.url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.OTLPEndpoint) == "" {
		return errors.New("tracing.enabled 需要配置 tracing.otlp_endpoint")
	}
	return nil
}
