package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MarketplaceConfig 市场自身的身份与币种
type MarketplaceConfig struct {
	// Address 是市场账户：registry 授权里的 spender，也是默认托管账户
	Address string `yaml:"address" json:"address"`
	Denom   string `yaml:"denom" json:"denom"`
	// EscrowAccount 托管附带资金的账户，默认等于 Address
	EscrowAccount string `yaml:"escrow_account" json:"escrow_account"`
}

// StoreConfig 状态存储（badger）
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
	// EncryptionKey hex 或 base64 编码的 32 字节密钥，为空则不加密
	EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
	InMemory      bool   `yaml:"in_memory" json:"in_memory"`
}

// LedgerConfig 原生货币账本；Path 为空使用内存账本
type LedgerConfig struct {
	Path string `yaml:"path" json:"path"`
}

// RegistryConfig 资产 registry；URL 为空使用内存 registry
type RegistryConfig struct {
	URL        string        `yaml:"url" json:"url"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout"`
	RetryCount int           `yaml:"retry_count" json:"retry_count"`
	APIKey     string        `yaml:"api_key" json:"api_key"`
}

// ChainConfig 区块时钟：按 BlockTime 从 Genesis 推导高度
type ChainConfig struct {
	Genesis   time.Time     `yaml:"genesis" json:"genesis"`
	BlockTime time.Duration `yaml:"block_time" json:"block_time"`
}

type APIConfig struct {
	Listen string `yaml:"listen" json:"listen"`
	// RateLimit 每个 sender 每秒允许的写请求数，0 表示不限
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
	// Dev 打开 /dev 路由（mint / approve / fund），只用于内存 registry 的本地调试
	Dev bool `yaml:"dev" json:"dev"`
	// Auth 写请求的身份校验："signature"（默认）或 "header"（信任 X-Sender，仅 dev）
	Auth string `yaml:"auth" json:"auth"`
	// SignatureSkew 签名时间戳允许的偏差
	SignatureSkew time.Duration `yaml:"signature_skew" json:"signature_skew"`
	// OperatorToken 保护 /v1/admin 和 /dev；建议只放环境变量
	OperatorToken string `yaml:"operator_token" json:"operator_token"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `yaml:"compress" json:"compress"`
	JSON       bool   `yaml:"json" json:"json"`
}

type ExecutionConfig struct {
	QueueSize          int           `yaml:"queue_size" json:"queue_size"`
	IdempotencyTTL     time.Duration `yaml:"idempotency_ttl" json:"idempotency_ttl"`
	BreakerMaxFailures int64         `yaml:"breaker_max_failures" json:"breaker_max_failures"`
	BreakerCooldown    time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown"`
}

// Config 应用配置
type Config struct {
	Marketplace MarketplaceConfig `yaml:"marketplace" json:"marketplace"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	Ledger      LedgerConfig      `yaml:"ledger" json:"ledger"`
	Registry    RegistryConfig    `yaml:"registry" json:"registry"`
	Chain       ChainConfig       `yaml:"chain" json:"chain"`
	API         APIConfig         `yaml:"api" json:"api"`
	Metrics     MetricsConfig     `yaml:"metrics" json:"metrics"`
	Log         LogConfig         `yaml:"log" json:"log"`
	Execution   ExecutionConfig   `yaml:"execution" json:"execution"`
}

// Load 从文件加载配置（可为空路径），叠加环境变量覆盖，补默认值并校验。
func Load(filePath string) (*Config, error) {
	cfg := &Config{}
	if strings.TrimSpace(filePath) != "" {
		if err := loadConfigFile(filePath, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", filePath, err)
		}
	}
	applyEnv(cfg)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .json)", ext)
	}
	return nil
}

// applyEnv 环境变量优先于配置文件（密钥类配置建议只放环境变量）
func applyEnv(c *Config) {
	c.Marketplace.Address = getEnv("NFTMARKET_ADDRESS", c.Marketplace.Address)
	c.Marketplace.Denom = getEnv("NFTMARKET_DENOM", c.Marketplace.Denom)
	c.Store.Path = getEnv("NFTMARKET_STORE_PATH", c.Store.Path)
	c.Store.EncryptionKey = getEnv("NFTMARKET_STORE_ENCRYPTION_KEY", c.Store.EncryptionKey)
	c.Ledger.Path = getEnv("NFTMARKET_LEDGER_PATH", c.Ledger.Path)
	c.Registry.URL = getEnv("NFTMARKET_REGISTRY_URL", c.Registry.URL)
	c.Registry.APIKey = getEnv("NFTMARKET_REGISTRY_API_KEY", c.Registry.APIKey)
	c.API.Listen = getEnv("NFTMARKET_API_LISTEN", c.API.Listen)
	c.API.Dev = parseBoolEnv("NFTMARKET_API_DEV", c.API.Dev)
	c.API.Auth = getEnv("NFTMARKET_API_AUTH", c.API.Auth)
	c.API.OperatorToken = getEnv("NFTMARKET_OPERATOR_TOKEN", c.API.OperatorToken)
	c.Metrics.Listen = getEnv("NFTMARKET_METRICS_LISTEN", c.Metrics.Listen)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

func (c *Config) applyDefaults() {
	if c.Marketplace.Denom == "" {
		c.Marketplace.Denom = "uusd"
	}
	if c.Marketplace.EscrowAccount == "" {
		c.Marketplace.EscrowAccount = c.Marketplace.Address
	}
	if c.Store.Path == "" && !c.Store.InMemory {
		c.Store.Path = "data/state"
	}
	if c.Registry.Timeout <= 0 {
		c.Registry.Timeout = 10 * time.Second
	}
	if c.Chain.BlockTime <= 0 {
		c.Chain.BlockTime = 5 * time.Second
	}
	if c.Chain.Genesis.IsZero() {
		c.Chain.Genesis = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8080"
	}
	if c.API.Auth == "" {
		c.API.Auth = "signature"
	}
	if c.API.SignatureSkew <= 0 {
		c.API.SignatureSkew = 5 * time.Minute
	}
	if c.API.RateLimit > 0 && c.API.RateBurst <= 0 {
		c.API.RateBurst = int(c.API.RateLimit) + 1
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 10
	}
	if c.Log.MaxAgeDays <= 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.Execution.QueueSize <= 0 {
		c.Execution.QueueSize = 512
	}
	if c.Execution.IdempotencyTTL <= 0 {
		c.Execution.IdempotencyTTL = 10 * time.Minute
	}
	if c.Execution.BreakerMaxFailures == 0 {
		c.Execution.BreakerMaxFailures = 5
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Marketplace.Address) == "" {
		return fmt.Errorf("marketplace.address is required")
	}
	if strings.ContainsAny(c.Marketplace.Denom, " \t0123456789.") {
		return fmt.Errorf("marketplace.denom %q must be a bare denomination", c.Marketplace.Denom)
	}
	if !c.Store.InMemory && strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path is required unless store.in_memory is set")
	}
	if c.Registry.URL != "" && !strings.HasPrefix(c.Registry.URL, "http://") && !strings.HasPrefix(c.Registry.URL, "https://") {
		return fmt.Errorf("registry.url must be an http(s) URL, got %q", c.Registry.URL)
	}
	if c.Registry.RetryCount < 0 {
		return fmt.Errorf("registry.retry_count must not be negative")
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}
	if c.API.Dev && c.Registry.URL != "" {
		return fmt.Errorf("api.dev only works with the in-memory registry")
	}
	switch c.API.Auth {
	case "signature":
	case "header":
		if !c.API.Dev {
			return fmt.Errorf("api.auth=header trusts X-Sender and requires api.dev")
		}
	default:
		return fmt.Errorf("unknown api.auth %q (want signature or header)", c.API.Auth)
	}
	if c.Execution.BreakerMaxFailures < 0 {
		return fmt.Errorf("execution.breaker_max_failures must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("unknown log.level %q", c.Log.Level)
	}
	return nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
